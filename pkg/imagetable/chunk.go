package imagetable

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// chunk is a contiguous memory-mapped window over a run of entry slots in
// the backing file. It is reference-counted by its outstanding
// Entry handles; the table's chunk cache holds a non-owning pointer to it.
type chunk struct {
	index       int
	data        []byte
	liveEntries int
}

// mapChunk maps [start, end) of fd read/write, shared, so writes made
// through the returned bytes are visible both to other in-memory readers of
// the same mapping and, once flushed, to the backing file.
func mapChunk(fd int, start, end int64, index int) (*chunk, error) {
	length := int(end - start)
	if length <= 0 {
		return nil, fmt.Errorf("imagetable: empty chunk range for chunk %d", index)
	}

	data, err := unix.Mmap(fd, start, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("imagetable: mmap chunk %d: %w", index, err)
	}

	return &chunk{index: index, data: data}, nil
}

// slot returns the entryLength bytes at offset within the chunk's mapping.
func (c *chunk) slot(offset, entryLength int) []byte {
	return c.data[offset : offset+entryLength]
}

// retain records one more live Entry handle over this chunk.
func (c *chunk) retain() {
	c.liveEntries++
}

// release drops one live Entry handle and reports the count remaining.
func (c *chunk) release() int {
	c.liveEntries--
	return c.liveEntries
}

// flush asks the OS to write back [offset, offset+length) of the mapping,
// page-aligning the range first as msync requires.
func (c *chunk) flush(offset, length int) error {
	pageSize := unix.Getpagesize()
	alignedStart := offset &^ (pageSize - 1)
	alignedEnd := alignUp(offset+length, pageSize)

	if alignedEnd > len(c.data) {
		alignedEnd = len(c.data)
	}

	if alignedStart >= alignedEnd {
		return nil
	}

	err := unix.Msync(c.data[alignedStart:alignedEnd], unix.MS_SYNC)
	if err != nil {
		return fmt.Errorf("imagetable: msync chunk %d: %w", c.index, err)
	}

	return nil
}

// touchPages reads one byte per page of b to fault the whole region into
// resident memory.
func touchPages(b []byte) {
	pageSize := unix.Getpagesize()

	for i := 0; i < len(b); i += pageSize {
		runtimeTouch(b[i])
	}

	if len(b) > 0 {
		runtimeTouch(b[len(b)-1])
	}
}

// runtimeTouch exists so the compiler cannot prove the reads in touchPages
// are dead and elide them.
//
//go:noinline
func runtimeTouch(byte) {}

// unmap releases the mapping. Called once a chunk's live-entry count
// reaches zero and the table's chunk cache no longer references it.
func (c *chunk) unmap() error {
	if c.data == nil {
		return nil
	}

	err := unix.Munmap(c.data)
	c.data = nil

	if err != nil {
		return fmt.Errorf("imagetable: munmap chunk %d: %w", c.index, err)
	}

	return nil
}
