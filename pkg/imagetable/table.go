package imagetable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/castlecache/imagetable/pkg/fs"
)

// Table is a disk-backed cache of
// pre-rendered pixel buffers for a single FormatDescriptor, addressed by
// entity id. Table is safe for concurrent use; Img is the platform image
// type the embedder's Host wraps mapped pixel regions into.
type Table[Img any] struct {
	desc   FormatDescriptor
	host   Host[Img]
	layout layout
	logger Logger

	fsys     fs.FS
	dataPath string
	metaPath string

	// mu is the table lock: it guards every field below.
	mu sync.Mutex

	file       fs.File
	fileLength int64
	entryCount int

	chunks map[int]*chunk

	state *indexState

	// monitors is the per-entry-index monitor map. Never pruned;
	// bounded in practice by the effective maximum entry count.
	monitors map[int]*sync.Mutex

	metaWriter *metadataWriter

	closed bool
}

// Open creates or reopens a Table for desc in dir, a per-process cache
// subdirectory. It fails with ErrInvalidFormat when desc or host is nil or
// desc has a non-positive width, height or bytes-per-pixel or an empty name,
// and with a wrapped error when the cache directory cannot be created or the
// backing file cannot be opened or stat'ed; every other non-fatal condition
// (metadata missing, format changed, reconciliation) is logged through
// host's Logger and absorbed.
func Open[Img any](dir string, desc FormatDescriptor, host Host[Img]) (*Table[Img], error) {
	if desc == nil || host == nil {
		return nil, ErrInvalidFormat
	}

	if desc.Width() <= 0 || desc.Height() <= 0 || desc.BytesPerPixel() <= 0 || desc.Name() == "" {
		return nil, ErrInvalidFormat
	}

	logger := host.Logger()
	if logger == nil {
		logger = NopLogger()
	}

	l := computeLayout(desc, host.RowAlignment(), host.PageSize())

	if desc.MaximumCount() < l.entriesPerChunk {
		logger.Warnf("imagetable: configured maximum count %d is smaller than entries per chunk %d; effective maximum raised to %d",
			desc.MaximumCount(), l.entriesPerChunk, l.entriesPerChunk)
	}

	fsys := fs.NewReal()

	err := fsys.MkdirAll(dir, 0o755)
	if err != nil {
		logger.Errorf("imagetable: create cache directory %q: %v", dir, err)
		return nil, fmt.Errorf("imagetable: create cache directory %q: %w", dir, err)
	}

	dataPath := filepath.Join(dir, desc.Name()+".imageTable")
	metaPath := filepath.Join(dir, desc.Name()+".metadata")

	f, err := fsys.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		logger.Errorf("imagetable: open backing file %q: %v", dataPath, err)
		return nil, fmt.Errorf("imagetable: open backing file %q: %w", dataPath, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("imagetable: stat backing file %q: %w", dataPath, err)
	}

	t := &Table[Img]{
		desc:       desc,
		host:       host,
		layout:     l,
		logger:     logger,
		fsys:       fsys,
		dataPath:   dataPath,
		metaPath:   metaPath,
		file:       f,
		fileLength: fi.Size(),
		entryCount: int(fi.Size() / int64(l.entryLength)),
		chunks:     make(map[int]*chunk),
		state:      newIndexState(),
		monitors:   make(map[int]*sync.Mutex),
		metaWriter: newMetadataWriter(metaPath, logger),
	}

	t.loadAndReconcile()

	return t, nil
}

// loadAndReconcile rebuilds the index from the metadata file and
// reconciles it against the backing file's actual length. Called once,
// from Open, before the table is published to
// any caller, so it needs no locking of its own.
func (t *Table[Img]) loadAndReconcile() {
	doc, err := loadMetadataDoc(t.metaPath)
	if err != nil {
		t.logger.Errorf("imagetable: load metadata %q: %v", t.metaPath, err)
		return
	}

	if doc == nil {
		return
	}

	fp := t.desc.Fingerprint()
	if !bytes.Equal(doc.Format, fp[:]) {
		t.logger.Warnf("imagetable: format fingerprint changed for %q; resetting table", t.desc.Name())
		t.resetFileAndState(true)
		return
	}

	type placed struct {
		entity EntityID
		pos    int
	}

	var ordered []placed

	for key, rec := range doc.Metadata {
		entity, parseErr := uuid.Parse(key)
		if parseErr != nil {
			t.logger.Warnf("imagetable: skipping metadata record with invalid entity id %q: %v", key, parseErr)
			continue
		}

		if rec.TableIndex < 0 || len(rec.ContextUUID) != 16 {
			t.logger.Warnf("imagetable: skipping malformed metadata record for %q", key)
			continue
		}

		source, sourceErr := uuid.FromBytes(rec.ContextUUID)
		if sourceErr != nil {
			t.logger.Warnf("imagetable: skipping metadata record %q with invalid source id: %v", key, sourceErr)
			continue
		}

		if prev, taken := t.state.occupied[rec.TableIndex]; taken {
			t.logger.Warnf("imagetable: metadata records %q and %q both claim index %d; keeping the first", prev, key, rec.TableIndex)
			continue
		}

		t.state.byEntity[entity] = rec.TableIndex
		t.state.bySource[entity] = source
		t.state.occupied[rec.TableIndex] = entity

		if rec.MRUIndex >= 0 {
			ordered = append(ordered, placed{entity, rec.MRUIndex})
		}
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })

	for _, p := range ordered {
		t.state.mruElem[p.entity] = t.state.mru.PushBack(p.entity)
	}

	// Entities with no recorded MRU position still belong to indexMap;
	// give them a tail slot so MRU stays a permutation of keys(indexMap).
	for entity := range t.state.byEntity {
		if _, ok := t.state.mruElem[entity]; !ok {
			t.state.mruElem[entity] = t.state.mru.PushBack(entity)
		}
	}

	if t.state.len() > t.entryCount {
		t.logger.Warnf("imagetable: metadata references %d entries but backing file has only %d; resetting", t.state.len(), t.entryCount)
		t.resetFileAndState(false)
	}
}

// resetFileAndState truncates the backing file to zero and clears every
// in-memory index structure. When deleteMetadataFile is true (format
// fingerprint mismatch) the metadata file is also removed; otherwise it is
// left for the next successful save to overwrite.
func (t *Table[Img]) resetFileAndState(deleteMetadataFile bool) {
	err := t.file.Truncate(0)
	if err != nil {
		t.logger.Errorf("imagetable: truncate backing file %q: %v", t.dataPath, err)
	}

	if deleteMetadataFile {
		removeErr := t.fsys.Remove(t.metaPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			t.logger.Errorf("imagetable: remove metadata file %q: %v", t.metaPath, removeErr)
		}
	}

	t.entryCount = 0
	t.fileLength = 0
	t.state.reset()
}

// Set stores, or overwrites, the entry for entity. draw paints
// into the pixel buffer viewed through the mapped entry; it runs with the
// table lock released, serialised only against other callers targeting the
// same entry index.
//
// Nil ids or a nil draw are silently ignored.
func (t *Table[Img]) Set(entity EntityID, source SourceImageID, draw DrawFunc) {
	if entity == uuid.Nil || source == uuid.Nil || draw == nil {
		return
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return
	}

	idx, existing := t.state.indexFor(entity)
	if !existing {
		var evicted []EntityID

		idx, evicted = t.state.nextEntryIndex(t.entryCount, t.layout.effectiveMax, t.logger)
		for _, victim := range evicted {
			t.logger.Infof("imagetable: evicted %s to allocate an entry for %s", victim, entity)
		}
	}

	if idx >= t.entryCount {
		growErr := t.growToLocked(idx + 1)
		if growErr != nil {
			t.logger.Errorf("imagetable: grow backing file %q: %v", t.dataPath, growErr)
			t.mu.Unlock()
			return
		}
	}

	c, err := t.chunkForLocked(idx)
	if err != nil {
		t.logger.Errorf("imagetable: map chunk for index %d: %v", idx, err)
		t.mu.Unlock()
		return
	}

	offset := t.layout.entryOffsetInChunk(idx)

	en := newEntry(c, offset, idx, t.layout.imageBytes, t.layout.entryLength, func() {
		t.releaseEntry(c)
	})

	en.setHeader(entity, source)

	t.state.set(entity, idx, source)
	t.persistMetadataLocked()

	monitor := t.monitorForLocked(idx)

	t.mu.Unlock()

	monitor.Lock()

	draw(PixelBuffer{
		Buf:    en.pixels(),
		Width:  t.desc.Width(),
		Height: t.desc.Height(),
		Stride: t.layout.rowStride,
	})

	flushErr := en.flush()
	if flushErr != nil {
		t.logger.Errorf("imagetable: flush entry %d: %v", idx, flushErr)
	}

	monitor.Unlock()

	en.release()
}

// Get fetches the image for entity, verifying source matches the header.
// ok is false on a cache miss - including a stale entry, which
// is deleted as a side effect. The returned image's lifetime extends the
// underlying Entry's; the caller must release it (however Img exposes
// that) once done to let the slot become evictable again.
//
// A nil source matches any header value - callers that only need
// existence-keyed-by-entity can pass uuid.Nil.
func (t *Table[Img]) Get(entity EntityID, source SourceImageID, preheat bool) (img Img, ok bool) {
	if entity == uuid.Nil {
		return img, false
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return img, false
	}

	idx, found := t.state.indexFor(entity)
	if !found {
		t.mu.Unlock()
		return img, false
	}

	c, err := t.chunkForLocked(idx)
	if err != nil {
		t.logger.Errorf("imagetable: map chunk for index %d: %v", idx, err)
		t.mu.Unlock()
		return img, false
	}

	offset := t.layout.entryOffsetInChunk(idx)

	headerEntity, headerSource, peekErr := t.peekHeaderLocked(c, offset)
	mismatch := peekErr != nil || headerEntity != entity || (source != uuid.Nil && headerSource != source)

	if mismatch {
		t.logger.Infof("imagetable: header mismatch for %s at index %d; deleting stale entry", entity, idx)
		t.state.delete(entity)
		t.persistMetadataLocked()
		t.dropChunkIfUnusedLocked(c)
		t.mu.Unlock()

		return img, false
	}

	t.state.access(entity)
	t.state.retain(entity)

	en := newEntry(c, offset, idx, t.layout.imageBytes, t.layout.entryLength, func() {
		t.releaseFetchedEntry(c, entity)
	})

	t.mu.Unlock()

	if preheat {
		en.preheat()
	}

	return t.host.NewImage(en.pixels(), en.release), true
}

// Delete removes entity from the index. It does not zero the
// backing bytes; the slot becomes eligible for reuse by a later allocation.
func (t *Table[Img]) Delete(entity EntityID) {
	if entity == uuid.Nil {
		return
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return
	}

	_, existed := t.state.delete(entity)
	if existed {
		t.persistMetadataLocked()
	}

	t.mu.Unlock()
}

// Exists mirrors Get's verification step without constructing an image.
// A header mismatch deletes the stale entry and reports
// false, exactly like a Get miss.
func (t *Table[Img]) Exists(entity EntityID, source SourceImageID) bool {
	if entity == uuid.Nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	idx, found := t.state.indexFor(entity)
	if !found {
		return false
	}

	c, err := t.chunkForLocked(idx)
	if err != nil {
		t.logger.Errorf("imagetable: map chunk for index %d: %v", idx, err)
		return false
	}

	offset := t.layout.entryOffsetInChunk(idx)

	headerEntity, headerSource, peekErr := t.peekHeaderLocked(c, offset)
	mismatch := peekErr != nil || headerEntity != entity || (source != uuid.Nil && headerSource != source)

	t.dropChunkIfUnusedLocked(c)

	if mismatch {
		t.logger.Infof("imagetable: header mismatch for %s at index %d; deleting stale entry", entity, idx)
		t.state.delete(entity)
		t.persistMetadataLocked()

		return false
	}

	return true
}

// Reset clears all in-memory state, truncates the backing file to zero,
// and persists an empty metadata document.
func (t *Table[Img]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.resetFileAndState(false)

	// Chunks with live entries stay mapped until their last holder releases
	// them; dropping them from the cache here is enough to stop new handles
	// from landing on truncated regions.
	for idx, c := range t.chunks {
		if c.liveEntries > 0 {
			continue
		}

		if err := c.unmap(); err != nil {
			t.logger.Errorf("imagetable: unmap chunk %d during reset: %v", idx, err)
		}
	}

	t.chunks = make(map[int]*chunk)

	t.persistMetadataLocked()
}

// Close releases every mapped chunk and closes the backing file. The Table
// must not be used afterward; every method becomes a no-op (Set/Delete) or
// reports a miss (Get/Exists).
func (t *Table[Img]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	for idx, c := range t.chunks {
		if c.liveEntries > 0 {
			continue
		}

		if err := c.unmap(); err != nil {
			t.logger.Errorf("imagetable: unmap chunk %d on close: %v", idx, err)
		}
	}

	t.chunks = nil

	return t.file.Close()
}

// growToLocked ensures entryCount covers at least minEntries, growing by
// whole chunks and by at least enough to cover the new index.
func (t *Table[Img]) growToLocked(minEntries int) error {
	if minEntries <= t.entryCount {
		return nil
	}

	targetChunk := t.layout.chunkIndexFor(minEntries - 1)
	newEntryCount := (targetChunk + 1) * t.layout.entriesPerChunk

	if newEntryCount < minEntries {
		newEntryCount = minEntries
	}

	newLength := t.layout.fileLengthFor(newEntryCount)

	err := t.file.Truncate(newLength)
	if err != nil {
		return fmt.Errorf("imagetable: truncate to %d bytes: %w", newLength, err)
	}

	t.entryCount = newEntryCount
	t.fileLength = newLength

	return nil
}

// chunkForLocked returns the cached chunk covering entryIndex, mapping it
// first if necessary.
func (t *Table[Img]) chunkForLocked(entryIndex int) (*chunk, error) {
	chunkIndex := t.layout.chunkIndexFor(entryIndex)

	if c, ok := t.chunks[chunkIndex]; ok {
		return c, nil
	}

	start, end := t.layout.chunkByteRange(chunkIndex, t.fileLength)

	c, err := mapChunk(int(t.file.Fd()), start, end, chunkIndex)
	if err != nil {
		return nil, err
	}

	t.chunks[chunkIndex] = c

	return c, nil
}

// peekHeaderLocked reads the entity and source ids out of the entry at
// offset within c. The table lock keeps the mapping alive for the duration
// of the read; callers that vend no Entry handle afterward must follow up
// with dropChunkIfUnusedLocked so a freshly mapped chunk does not linger.
func (t *Table[Img]) peekHeaderLocked(c *chunk, offset int) (EntityID, SourceImageID, error) {
	slot := c.slot(offset, t.layout.entryLength)
	header := slot[len(slot)-headerSize:]

	entity, err := uuid.FromBytes(header[:16])
	if err != nil {
		return EntityID{}, SourceImageID{}, err
	}

	source, err := uuid.FromBytes(header[16:32])
	if err != nil {
		return EntityID{}, SourceImageID{}, err
	}

	return entity, source, nil
}

// releaseEntry drops one live reference on c, evicting it from the chunk
// cache and unmapping it once the count reaches zero.
func (t *Table[Img]) releaseEntry(c *chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.releaseEntryLocked(c)
}

// releaseFetchedEntry additionally drops entity's in-use count; used as the
// release callback for entries vended through Get.
func (t *Table[Img]) releaseFetchedEntry(c *chunk, entity EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.releaseInUse(entity)
	t.releaseEntryLocked(c)
}

func (t *Table[Img]) releaseEntryLocked(c *chunk) {
	remaining := c.release()
	if remaining > 0 {
		return
	}

	t.evictChunkLocked(c)
}

// dropChunkIfUnusedLocked unmaps c when no entry handle keeps it alive.
// The peek paths (Exists, a Get miss) map a chunk without ever vending an
// entry; without this the mapping would linger until Close.
func (t *Table[Img]) dropChunkIfUnusedLocked(c *chunk) {
	if c.liveEntries > 0 {
		return
	}

	t.evictChunkLocked(c)
}

// evictChunkLocked clears c's cache slot, if it still holds c, and releases
// the mapping. Only called once c has no live entries.
func (t *Table[Img]) evictChunkLocked(c *chunk) {
	cached, ok := t.chunks[c.index]
	if ok && cached == c {
		delete(t.chunks, c.index)
	}

	err := c.unmap()
	if err != nil {
		t.logger.Errorf("imagetable: unmap chunk %d: %v", c.index, err)
	}
}

// monitorForLocked returns the stable per-index monitor for idx, creating
// it on first use. The map is never pruned; index reuse keeps it bounded
// by the effective maximum count.
func (t *Table[Img]) monitorForLocked(idx int) *sync.Mutex {
	m, ok := t.monitors[idx]
	if !ok {
		m = &sync.Mutex{}
		t.monitors[idx] = m
	}

	return m
}

// persistMetadataLocked snapshots the current index/MRU state and hands it
// to the metadata worker. Must be called with mu held; the
// actual write happens off a separate goroutine.
func (t *Table[Img]) persistMetadataLocked() {
	order := t.state.mruOrder()

	pos := make(map[EntityID]int, len(order))
	for i, entity := range order {
		pos[entity] = i
	}

	records := make(map[string]metadataRecord, len(t.state.byEntity))

	for entity, idx := range t.state.byEntity {
		source := t.state.bySource[entity]

		mruIdx := -1
		if p, ok := pos[entity]; ok {
			mruIdx = p
		}

		srcBytes := make([]byte, 16)
		copy(srcBytes, source[:])

		records[entity.String()] = metadataRecord{
			TableIndex:  idx,
			ContextUUID: srcBytes,
			MRUIndex:    mruIdx,
		}
	}

	fp := t.desc.Fingerprint()

	t.metaWriter.enqueue(&metadataDoc{
		Format:   fp[:],
		Metadata: records,
	})
}

// EntryCount returns the current number of entry slots in the backing
// file, for diagnostics and tests.
func (t *Table[Img]) EntryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entryCount
}

// MRUOrder returns a snapshot of the MRU list, most-recent first, for
// diagnostics and tests.
func (t *Table[Img]) MRUOrder() []EntityID {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state.mruOrder()
}

// EffectiveMaximum returns the configured maximum count, raised to at
// least entriesPerChunk so one chunk is always fully usable.
func (t *Table[Img]) EffectiveMaximum() int {
	return t.layout.effectiveMax
}

// EntryLength returns the fixed per-entry byte length, for diagnostics and
// tests.
func (t *Table[Img]) EntryLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.layout.entryLength
}
