package imagetable

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/castlecache/imagetable/pkg/fs"
)

// metadataRecord is one per-entity record in the property tree:
// the entry index it occupies, the source image it was rendered from, and
// its MRU position at the time of the save (used to reconstruct ordering
// on the next load).
type metadataRecord struct {
	TableIndex  int    `msgpack:"tableIndex"`
	ContextUUID []byte `msgpack:"contextUUID"`
	MRUIndex    int    `msgpack:"mruIndex"`
}

// metadataDoc is the top-level property tree persisted to
// "<format_name>.metadata": the format fingerprint compared at load, and
// the per-entity records keyed by entity id string.
type metadataDoc struct {
	Format   []byte                    `msgpack:"format"`
	Metadata map[string]metadataRecord `msgpack:"metadata"`
}

// loadMetadataDoc reads and decodes path. A missing file is not an error:
// it returns (nil, nil) so the caller opens with an empty index.
func loadMetadataDoc(path string) (*metadataDoc, error) {
	exists, err := metadataFS.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("imagetable: stat metadata %q: %w", path, err)
	}

	if !exists {
		return nil, nil
	}

	data, err := metadataFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imagetable: read metadata %q: %w", path, err)
	}

	var doc metadataDoc

	err = msgpack.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("imagetable: decode metadata %q: %w", path, err)
	}

	return &doc, nil
}

// metadataFS and metadataAtomicWriter back loadMetadataDoc and
// writeMetadataDoc. Writes go through temp-file-plus-rename, so a reader
// can only ever see the previous complete write or the new one.
var (
	metadataFS           fs.FS = fs.NewReal()
	metadataAtomicWriter       = fs.NewAtomicWriter(metadataFS)
)

// metadataWriter serialises metadataDoc snapshots to disk off a single
// dedicated worker goroutine. At most one write is ever in flight; if a
// new snapshot arrives while one is being written, it replaces the queued
// one rather than growing an unbounded backlog - each snapshot is the
// complete current state, so only the latest matters.
type metadataWriter struct {
	path   string
	logger Logger

	mu      sync.Mutex
	pending *metadataDoc
	running bool
}

func newMetadataWriter(path string, logger Logger) *metadataWriter {
	return &metadataWriter{path: path, logger: logger}
}

// enqueue hands doc off to the worker. Never blocks the caller.
func (w *metadataWriter) enqueue(doc *metadataDoc) {
	w.mu.Lock()
	w.pending = doc

	if w.running {
		w.mu.Unlock()
		return
	}

	w.running = true
	w.mu.Unlock()

	go w.drain()
}

func (w *metadataWriter) drain() {
	for {
		w.mu.Lock()
		doc := w.pending
		w.pending = nil

		if doc == nil {
			w.running = false
			w.mu.Unlock()
			return
		}

		w.mu.Unlock()

		err := writeMetadataDoc(w.path, doc)
		if err != nil {
			w.logger.Errorf("imagetable: metadata write failed: %v", err)
		}
	}
}

func writeMetadataDoc(path string, doc *metadataDoc) error {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	err := enc.Encode(doc)
	if err != nil {
		return fmt.Errorf("imagetable: encode metadata: %w", err)
	}

	err = metadataAtomicWriter.WriteWithDefaults(path, &buf)
	if err != nil {
		return fmt.Errorf("imagetable: write metadata %q: %w", path, err)
	}

	return nil
}
