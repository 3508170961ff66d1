package imagetable

import "testing"

func TestAlignUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n, align, want int
	}{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}

	for _, c := range cases {
		got := alignUp(c.n, c.align)
		if got != c.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", c.n, c.align, got, c.want)
		}
	}
}

func TestAlignUp_PanicsOnNonPositiveAlignment(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("alignUp(1, 0) did not panic")
		}
	}()

	alignUp(1, 0)
}

type layoutTestFormat struct {
	width, height, bpp, maximumCount int
}

func (f layoutTestFormat) Width() int            { return f.width }
func (f layoutTestFormat) Height() int           { return f.height }
func (f layoutTestFormat) BytesPerPixel() int    { return f.bpp }
func (f layoutTestFormat) BitsPerComponent() int { return 8 }
func (f layoutTestFormat) Grayscale() bool       { return false }
func (f layoutTestFormat) BitmapInfo() uint32    { return 0 }
func (f layoutTestFormat) MaximumCount() int     { return f.maximumCount }
func (f layoutTestFormat) Name() string          { return "layout-test" }
func (f layoutTestFormat) Fingerprint() [32]byte { return [32]byte{} }

// TestComputeLayout_SmallImage_EntriesPerChunkAboveFloor covers a small
// entry length where 2MiB/entryLength comfortably exceeds the floor of 4.
func TestComputeLayout_SmallImage_EntriesPerChunkAboveFloor(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 4, height: 4, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	if l.rowStride != 64 {
		t.Errorf("rowStride = %d, want 64 (aligned up from 16)", l.rowStride)
	}

	if l.imageBytes != 64*4 {
		t.Errorf("imageBytes = %d, want %d", l.imageBytes, 64*4)
	}

	wantEntryLength := alignUp(l.imageBytes+headerSize, 4096)
	if l.entryLength != wantEntryLength {
		t.Errorf("entryLength = %d, want %d", l.entryLength, wantEntryLength)
	}

	wantEntriesPerChunk := targetChunkBytes / wantEntryLength
	if l.entriesPerChunk != wantEntriesPerChunk {
		t.Errorf("entriesPerChunk = %d, want %d", l.entriesPerChunk, wantEntriesPerChunk)
	}

	if l.effectiveMax != l.entriesPerChunk {
		t.Errorf("effectiveMax = %d, want entriesPerChunk %d since maximumCount (2) is smaller", l.effectiveMax, l.entriesPerChunk)
	}
}

// TestComputeLayout_LargeImage_FloorDominates exercises the case where a
// single entry is large enough that floor(2MiB/entryLength) drops below
// the hard floor of 4, so entriesPerChunk must clamp up to 4.
func TestComputeLayout_LargeImage_FloorDominates(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 896, height: 200, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	naiveEntriesPerChunk := targetChunkBytes / l.entryLength
	if naiveEntriesPerChunk >= minEntriesPerChunk {
		t.Fatalf("fixture no longer exercises the floor: naive entriesPerChunk=%d", naiveEntriesPerChunk)
	}

	if l.entriesPerChunk != minEntriesPerChunk {
		t.Errorf("entriesPerChunk = %d, want floor %d", l.entriesPerChunk, minEntriesPerChunk)
	}

	if l.effectiveMax != minEntriesPerChunk {
		t.Errorf("effectiveMax = %d, want %d (maximumCount=2 is smaller than the floor)", l.effectiveMax, minEntriesPerChunk)
	}

	if l.chunkLength != l.entryLength*minEntriesPerChunk {
		t.Errorf("chunkLength = %d, want entryLength*%d", l.chunkLength, minEntriesPerChunk)
	}
}

func TestComputeLayout_ConfiguredMaximumAboveEntriesPerChunk_Wins(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 4, height: 4, bpp: 4, maximumCount: 100000}
	l := computeLayout(desc, 64, 4096)

	if l.effectiveMax != desc.maximumCount {
		t.Errorf("effectiveMax = %d, want configured maximum %d", l.effectiveMax, desc.maximumCount)
	}
}

func TestLayout_ChunkIndexAndOffset(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 896, height: 200, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	if l.entriesPerChunk != 4 {
		t.Fatalf("fixture expects entriesPerChunk=4, got %d", l.entriesPerChunk)
	}

	cases := []struct {
		entryIndex      int
		wantChunkIndex  int
		wantOffsetInIdx int
	}{
		{0, 0, 0},
		{3, 0, 3},
		{4, 1, 0},
		{7, 1, 3},
		{8, 2, 0},
	}

	for _, c := range cases {
		if got := l.chunkIndexFor(c.entryIndex); got != c.wantChunkIndex {
			t.Errorf("chunkIndexFor(%d) = %d, want %d", c.entryIndex, got, c.wantChunkIndex)
		}

		wantOffset := c.wantOffsetInIdx * l.entryLength
		if got := l.entryOffsetInChunk(c.entryIndex); got != wantOffset {
			t.Errorf("entryOffsetInChunk(%d) = %d, want %d", c.entryIndex, got, wantOffset)
		}
	}
}

func TestLayout_ChunkCount(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 896, height: 200, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	cases := []struct {
		entryCount int
		want       int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{8, 2},
		{9, 3},
	}

	for _, c := range cases {
		if got := l.chunkCount(c.entryCount); got != c.want {
			t.Errorf("chunkCount(%d) = %d, want %d", c.entryCount, got, c.want)
		}
	}
}

func TestLayout_ChunkByteRange_ClampsToFileLength(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 896, height: 200, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	fileLength := int64(l.entryLength) * 6 // only 6 of 8 entries in chunk 1 exist

	start, end := l.chunkByteRange(1, fileLength)
	if start != int64(l.chunkLength) {
		t.Errorf("start = %d, want %d", start, l.chunkLength)
	}

	if end != fileLength {
		t.Errorf("end = %d, want clamped %d", end, fileLength)
	}
}

func TestLayout_FileLengthFor(t *testing.T) {
	t.Parallel()

	desc := layoutTestFormat{width: 4, height: 4, bpp: 4, maximumCount: 2}
	l := computeLayout(desc, 64, 4096)

	if got, want := l.fileLengthFor(10), int64(l.entryLength)*10; got != want {
		t.Errorf("fileLengthFor(10) = %d, want %d", got, want)
	}
}
