package imagetable

import "errors"

// ErrInvalidFormat is returned when a FormatDescriptor fails the basic
// sanity checks performed at Open (zero dimensions, zero bytes-per-pixel,
// empty name).
//
// Recovery: fix the descriptor and reopen.
var ErrInvalidFormat = errors.New("imagetable: invalid format descriptor")
