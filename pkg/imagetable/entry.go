package imagetable

import (
	"sync"

	"github.com/google/uuid"
)

// entry is a handle onto a single, fixed-size slot inside a mapped chunk
// of the backing file. A single entry index may have multiple concurrent entry
// handles; the underlying chunk mapping is kept alive by whichever handles
// are still live.
type entry struct {
	c           *chunk
	offset      int
	index       int
	imageBytes  int
	entryLength int
	releaseOnce sync.Once
	onRelease   func()
}

// newEntry builds a handle over the slot at offset within c. onRelease runs
// exactly once, the first time release is called; the table uses it to
// drop the chunk's live-entry count and any in-use bookkeeping.
func newEntry(c *chunk, offset, index, imageBytes, entryLength int, onRelease func()) *entry {
	c.retain()

	return &entry{
		c:           c,
		offset:      offset,
		index:       index,
		imageBytes:  imageBytes,
		entryLength: entryLength,
		onRelease:   onRelease,
	}
}

// bytes returns the full entryLength-byte slot, including the trailing
// header.
func (e *entry) bytes() []byte {
	return e.c.slot(e.offset, e.entryLength)
}

// pixels returns the leading imageBytes of the slot: the pixel region a
// draw callback paints into and a fetched image aliases.
func (e *entry) pixels() []byte {
	return e.bytes()[:e.imageBytes]
}

// header returns the trailing 32-byte header: 16 bytes entity id followed
// by 16 bytes source-image id.
func (e *entry) header() []byte {
	b := e.bytes()
	return b[len(b)-headerSize:]
}

func (e *entry) entityIDBytes() []byte { return e.header()[:16] }
func (e *entry) sourceIDBytes() []byte { return e.header()[16:32] }

func (e *entry) entityID() (EntityID, error) {
	return uuid.FromBytes(e.entityIDBytes())
}

func (e *entry) sourceID() (SourceImageID, error) {
	return uuid.FromBytes(e.sourceIDBytes())
}

// setHeader writes both ids into the trailing header. Called
// under the table lock, before it is released for draw.
func (e *entry) setHeader(entity EntityID, source SourceImageID) {
	h := e.header()
	copy(h[:16], entity[:])
	copy(h[16:32], source[:])
}

// flush asks the OS to write the whole slot back to the backing file.
func (e *entry) flush() error {
	return e.c.flush(e.offset, e.entryLength)
}

// preheat touches every page of the pixel region to fault it into
// resident memory ahead of first paint.
func (e *entry) preheat() {
	touchPages(e.pixels())
}

// release runs the entry's release callback at most once. Safe to call
// from any goroutine, any number of times.
func (e *entry) release() {
	e.releaseOnce.Do(func() {
		if e.onRelease != nil {
			e.onRelease()
		}
	})
}
