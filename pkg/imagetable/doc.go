// Package imagetable implements a persistent, memory-mapped cache of
// pre-rendered pixel buffers for a single image format.
//
// A Table stores one entry per entity id: a caller-supplied 128-bit id
// naming the cached artifact. Each entry is a fixed-size, page-aligned slot
// inside a memory-mapped backing file, so a successful fetch hands the
// caller a platform image whose pixel data aliases the mapped region
// directly - no decode, scale, or copy on the hot path.
//
// The backing file is divided into chunks (contiguous mmap windows over a
// run of entry slots) so that only the chunks actually in use are mapped
// at any time. Entries are evicted MRU-oldest-first once the table grows
// past its effective maximum entry count, skipping any entity a caller is
// currently holding an image for.
//
// A companion metadata file records the index and MRU order so a table can
// be reopened without losing its cache. Metadata is best-effort: a crash
// mid-write can only cost one cold-start reconciliation, never data file
// corruption.
//
// The core here has no opinion about *what* a format descriptor or a
// platform image is; both are supplied by the embedder through the
// [FormatDescriptor] and [Host] interfaces so the package can be exercised
// in tests without a real rendering stack.
package imagetable
