package imagetable_test

import (
	"github.com/castlecache/imagetable/pkg/imagetable"
)

// testImage is a minimal platform image stand-in: it aliases the pixel
// bytes it was handed and records whether it has been released.
type testImage struct {
	pixels   []byte
	release  func()
	released bool
}

func (img *testImage) Release() {
	if img.released {
		return
	}

	img.released = true
	img.release()
}

// testHost implements imagetable.Host[*testImage] without any real
// rendering stack, so Table can be exercised entirely in-process.
type testHost struct {
	rowAlignment int
	pageSize     int
	logger       imagetable.Logger
}

func newTestHost() *testHost {
	return &testHost{
		rowAlignment: 64,
		pageSize:     4096,
		logger:       imagetable.NopLogger(),
	}
}

func (h *testHost) RowAlignment() int         { return h.rowAlignment }
func (h *testHost) PageSize() int             { return h.pageSize }
func (h *testHost) ScreenScale() float64      { return 2.0 }
func (h *testHost) Logger() imagetable.Logger { return h.logger }

func (h *testHost) NewImage(pixels []byte, release func()) *testImage {
	return &testImage{pixels: pixels, release: release}
}

// testFormat is a small RGBA format descriptor used across the test suite.
type testFormat struct {
	name         string
	width        int
	height       int
	maximumCount int
	salt         byte
}

func (f testFormat) Width() int            { return f.width }
func (f testFormat) Height() int           { return f.height }
func (f testFormat) BytesPerPixel() int    { return 4 }
func (f testFormat) BitsPerComponent() int { return 8 }
func (f testFormat) Grayscale() bool       { return false }
func (f testFormat) BitmapInfo() uint32    { return 0 }
func (f testFormat) MaximumCount() int     { return f.maximumCount }
func (f testFormat) Name() string          { return f.name }

func (f testFormat) Fingerprint() [32]byte {
	var out [32]byte

	out[0] = byte(f.width)
	out[1] = byte(f.height)
	out[2] = f.salt
	copy(out[3:], []byte(f.name))

	return out
}

// bigFormat describes an image large enough that the entries-per-chunk
// floor of 4 dominates the 2MiB target regardless of the host page size,
// giving a small, deterministic effective maximum for eviction tests.
func bigFormat(name string, maximumCount int) testFormat {
	return testFormat{name: name, width: 896, height: 200, maximumCount: maximumCount}
}

func fillDraw(color byte) imagetable.DrawFunc {
	return func(buf imagetable.PixelBuffer) {
		for row := 0; row < buf.Height; row++ {
			rowBytes := buf.Buf[row*buf.Stride : (row+1)*buf.Stride]
			for i := range rowBytes {
				rowBytes[i] = color
			}
		}
	}
}
