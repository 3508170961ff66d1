package imagetable

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Format is a concrete, embedder-constructed FormatDescriptor. It exists so
// callers that don't need a bespoke descriptor type can build one directly;
// nothing in this package requires using it over a caller's own
// implementation of FormatDescriptor.
type Format struct {
	name             string
	width, height    int
	bytesPerPixel    int
	bitsPerComponent int
	grayscale        bool
	bitmapInfo       uint32
	maximumCount     int
}

// NewFormat builds a Format descriptor. name must be filename-safe; it is
// used verbatim to derive the backing file names.
func NewFormat(name string, width, height, bytesPerPixel, bitsPerComponent int, grayscale bool, bitmapInfo uint32, maximumCount int) Format {
	return Format{
		name:             name,
		width:            width,
		height:           height,
		bytesPerPixel:    bytesPerPixel,
		bitsPerComponent: bitsPerComponent,
		grayscale:        grayscale,
		bitmapInfo:       bitmapInfo,
		maximumCount:     maximumCount,
	}
}

func (f Format) Width() int            { return f.width }
func (f Format) Height() int           { return f.height }
func (f Format) BytesPerPixel() int    { return f.bytesPerPixel }
func (f Format) BitsPerComponent() int { return f.bitsPerComponent }
func (f Format) Grayscale() bool       { return f.grayscale }
func (f Format) BitmapInfo() uint32    { return f.bitmapInfo }
func (f Format) MaximumCount() int     { return f.maximumCount }
func (f Format) Name() string          { return f.name }

// Fingerprint hashes every field that affects the on-disk layout or entry
// interpretation. Two Format values with equal Fingerprint are guaranteed
// to be layout-compatible; this package treats any change to it as an
// incompatible format change requiring a full reset.
//
// The stdlib hash is used deliberately: nothing in the example pack ships a
// lighter-weight content-hash library suited to hashing a handful of
// scalar fields, and sha256 is already a transitive dependency of the Go
// toolchain's crypto stack.
func (f Format) Fingerprint() [32]byte {
	var buf [32]byte

	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.width)<<32|uint64(uint32(f.height)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.bytesPerPixel)<<32|uint64(uint32(f.bitsPerComponent)))
	binary.LittleEndian.PutUint32(buf[16:20], f.bitmapInfo)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(f.maximumCount))

	if f.grayscale {
		buf[24] = 1
	}

	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte(f.name))

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// DefaultHost is a Host implementation backed by the real platform: the OS
// page size via golang.org/x/sys/unix, a 64-byte hardware row alignment
// (the usual hardware requirement), and a caller-supplied image
// constructor.
type DefaultHost[Img any] struct {
	rowAlignment int
	screenScale  float64
	newImage     func(pixels []byte, release func()) Img
	logger       Logger
}

// NewDefaultHost builds a DefaultHost. newImage must not be nil. If logger
// is nil, log messages are discarded.
func NewDefaultHost[Img any](screenScale float64, newImage func(pixels []byte, release func()) Img, logger Logger) *DefaultHost[Img] {
	if newImage == nil {
		panic("imagetable: newImage is nil")
	}

	if logger == nil {
		logger = NopLogger()
	}

	return &DefaultHost[Img]{
		rowAlignment: 64,
		screenScale:  screenScale,
		newImage:     newImage,
		logger:       logger,
	}
}

func (h *DefaultHost[Img]) RowAlignment() int    { return h.rowAlignment }
func (h *DefaultHost[Img]) PageSize() int        { return unix.Getpagesize() }
func (h *DefaultHost[Img]) ScreenScale() float64 { return h.screenScale }
func (h *DefaultHost[Img]) Logger() Logger       { return h.logger }

func (h *DefaultHost[Img]) NewImage(pixels []byte, release func()) Img {
	return h.newImage(pixels, release)
}
