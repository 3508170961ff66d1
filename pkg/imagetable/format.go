package imagetable

const (
	// headerSize is the trailing per-entry header: 16 bytes entity id
	// followed by 16 bytes source-image id.
	headerSize = 32

	// targetChunkBytes is the nominal chunk size used to derive
	// entriesPerChunk.
	targetChunkBytes = 2 * 1024 * 1024

	// minEntriesPerChunk is the floor on entriesPerChunk regardless of
	// how large a single entry is.
	minEntriesPerChunk = 4
)

// alignUp rounds n up to the next multiple of align. align must be a
// positive power of two.
func alignUp(n, align int) int {
	if align <= 0 {
		panic("imagetable: alignment must be positive")
	}

	return (n + align - 1) &^ (align - 1)
}

// layout is the derived, immutable geometry of a Table for one
// FormatDescriptor, computed once at Open and never recomputed for
// the life of the table (a format change forces a fresh Table).
type layout struct {
	rowStride       int
	imageBytes      int
	entryLength     int
	entriesPerChunk int
	chunkLength     int
	effectiveMax    int
}

// computeLayout derives the on-disk geometry for desc, given the host's
// hardware row alignment and page size.
func computeLayout(desc FormatDescriptor, rowAlignment, pageSize int) layout {
	rowStride := alignUp(desc.Width()*desc.BytesPerPixel(), rowAlignment)
	imageBytes := rowStride * desc.Height()
	entryLength := alignUp(imageBytes+headerSize, pageSize)

	entriesPerChunk := targetChunkBytes / entryLength
	if entriesPerChunk < minEntriesPerChunk {
		entriesPerChunk = minEntriesPerChunk
	}

	chunkLength := entryLength * entriesPerChunk

	effectiveMax := desc.MaximumCount()
	if effectiveMax < entriesPerChunk {
		effectiveMax = entriesPerChunk
	}

	return layout{
		rowStride:       rowStride,
		imageBytes:      imageBytes,
		entryLength:     entryLength,
		entriesPerChunk: entriesPerChunk,
		chunkLength:     chunkLength,
		effectiveMax:    effectiveMax,
	}
}

// chunkCount reports how many chunks are needed to cover entryCount
// entries: ceil(entryCount / entriesPerChunk).
func (l layout) chunkCount(entryCount int) int {
	if entryCount == 0 {
		return 0
	}

	return (entryCount + l.entriesPerChunk - 1) / l.entriesPerChunk
}

// chunkIndexFor returns which chunk an entry index falls in.
func (l layout) chunkIndexFor(entryIndex int) int {
	return entryIndex / l.entriesPerChunk
}

// chunkByteRange returns the [start, end) byte range of chunk i within a
// backing file of the given length, clamped to fileLength.
func (l layout) chunkByteRange(chunkIndex int, fileLength int64) (start, end int64) {
	start = int64(chunkIndex) * int64(l.chunkLength)
	end = start + int64(l.chunkLength)

	if end > fileLength {
		end = fileLength
	}

	return start, end
}

// entryOffsetInChunk returns the byte offset of entryIndex relative to the
// start of the chunk that contains it.
func (l layout) entryOffsetInChunk(entryIndex int) int {
	return (entryIndex % l.entriesPerChunk) * l.entryLength
}

// fileLengthFor returns the required backing-file length for entryCount
// entries: entryLength * entryCount.
func (l layout) fileLengthFor(entryCount int) int64 {
	return int64(l.entryLength) * int64(entryCount)
}
