package imagetable

import (
	"sort"

	"github.com/google/uuid"
)

// MetadataSnapshot is a read-only, decoded view of a table's metadata file,
// for diagnostic tools that want to inspect a table without opening a live
// Table (and therefore without a FormatDescriptor or Host).
type MetadataSnapshot struct {
	Entries []MetadataEntrySnapshot
}

// MetadataEntrySnapshot is one per-entity record from the metadata
// property tree.
type MetadataEntrySnapshot struct {
	EntityID      EntityID
	SourceImageID SourceImageID
	TableIndex    int
	MRUIndex      int
}

// InspectMetadata reads and decodes the metadata file at path. It never
// mutates the file and never opens the data file. A missing metadata file
// yields an empty, non-nil snapshot rather than an error.
func InspectMetadata(path string) (*MetadataSnapshot, error) {
	doc, err := loadMetadataDoc(path)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return &MetadataSnapshot{}, nil
	}

	snap := &MetadataSnapshot{Entries: make([]MetadataEntrySnapshot, 0, len(doc.Metadata))}

	for key, rec := range doc.Metadata {
		entity, parseErr := uuid.Parse(key)
		if parseErr != nil {
			continue
		}

		var source SourceImageID
		if len(rec.ContextUUID) == 16 {
			source, _ = uuid.FromBytes(rec.ContextUUID)
		}

		snap.Entries = append(snap.Entries, MetadataEntrySnapshot{
			EntityID:      entity,
			SourceImageID: source,
			TableIndex:    rec.TableIndex,
			MRUIndex:      rec.MRUIndex,
		})
	}

	sort.Slice(snap.Entries, func(i, j int) bool {
		a, b := snap.Entries[i], snap.Entries[j]

		if (a.MRUIndex < 0) != (b.MRUIndex < 0) {
			return a.MRUIndex >= 0
		}

		return a.MRUIndex < b.MRUIndex
	})

	return snap, nil
}
