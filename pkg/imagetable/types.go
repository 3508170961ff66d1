package imagetable

import "github.com/google/uuid"

// EntityID names a cached artifact. It is an opaque 128-bit identifier
// supplied by the caller and written verbatim into the entry header.
type EntityID = uuid.UUID

// SourceImageID names the source an entry was rendered from. A fetch whose
// caller-supplied SourceImageID does not match the header's is treated as a
// stale entry: the slot is deleted and the fetch reports a miss.
type SourceImageID = uuid.UUID

// FormatDescriptor is the opaque, externally-supplied configuration for a
// single Table. Two descriptors are compatible - describe the same on-disk
// layout - iff their Fingerprint values are equal.
type FormatDescriptor interface {
	// Width and Height are pixel dimensions.
	Width() int
	Height() int

	// BytesPerPixel and BitsPerComponent describe the pixel encoding.
	BytesPerPixel() int
	BitsPerComponent() int

	// Grayscale reports whether pixels are single-channel.
	Grayscale() bool

	// BitmapInfo carries platform-specific bitmap layout flags. Opaque to
	// the table; only ever round-tripped into the fingerprint.
	BitmapInfo() uint32

	// MaximumCount is the configured entry cap. The table's effective
	// maximum is raised to at least entriesPerChunk (see EffectiveMaximum).
	MaximumCount() int

	// Name is a stable, filename-safe identifier used to derive the
	// backing file names.
	Name() string

	// Fingerprint is a deterministic digest of every field above,
	// sufficient to detect an incompatible format change across restarts.
	Fingerprint() [32]byte
}

// PixelBuffer is the view into the mapped entry a draw callback paints
// into. Buf covers exactly Height rows of Stride bytes each; only the
// leading Width*BytesPerPixel bytes of each row are meaningful.
type PixelBuffer struct {
	Buf    []byte
	Width  int
	Height int
	Stride int
}

// DrawFunc paints pixel content into buf. It runs with the table lock
// released, serialised only against other draws targeting the same entry
// index.
type DrawFunc func(buf PixelBuffer)

// Host supplies the platform collaborators the table needs but does not
// own: hardware alignment, page size, screen scale, the platform image
// wrapper, and the log sink. Img is the platform image type the embedder
// hands back to its own callers.
type Host[Img any] interface {
	// RowAlignment is the hardware-required row alignment in bytes
	// (typically 64).
	RowAlignment() int

	// PageSize is the OS page size used to align entry slots.
	PageSize() int

	// ScreenScale is the device scale factor. The table never reads it
	// and NewImage receives no scale argument; a Host that needs the
	// scale applies it inside its own NewImage.
	ScreenScale() float64

	// NewImage wraps pixels (an alias into a mapped entry) into a
	// platform image. release is called exactly once, when the image is
	// no longer needed by the caller; the table uses it to drop the
	// entry's in-use count.
	NewImage(pixels []byte, release func()) Img

	// Logger returns the log-message sink for non-fatal conditions.
	Logger() Logger
}

// Logger is the log-message sink external collaborator. It matches the
// subset of github.com/sirupsen/logrus's FieldLogger used by this package.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
