package imagetable

import "container/list"

// indexState is the table's in-memory index bookkeeping: entity-id → entry
// index, entity-id → source-image-id, the occupied index set, the MRU
// ordering, and the in-use multiset. Every method here is called with the
// table lock held; indexState itself does no locking.
type indexState struct {
	byEntity map[EntityID]int
	bySource map[EntityID]SourceImageID
	occupied map[int]EntityID

	mru     *list.List
	mruElem map[EntityID]*list.Element

	inUse map[EntityID]int
}

func newIndexState() *indexState {
	return &indexState{
		byEntity: make(map[EntityID]int),
		bySource: make(map[EntityID]SourceImageID),
		occupied: make(map[int]EntityID),
		mru:      list.New(),
		mruElem:  make(map[EntityID]*list.Element),
		inUse:    make(map[EntityID]int),
	}
}

// reset clears every map and the MRU list, including the in-use multiset.
func (s *indexState) reset() {
	s.byEntity = make(map[EntityID]int)
	s.bySource = make(map[EntityID]SourceImageID)
	s.occupied = make(map[int]EntityID)
	s.mru = list.New()
	s.mruElem = make(map[EntityID]*list.Element)
	s.inUse = make(map[EntityID]int)
}

func (s *indexState) len() int { return len(s.byEntity) }

func (s *indexState) indexFor(entity EntityID) (int, bool) {
	idx, ok := s.byEntity[entity]
	return idx, ok
}

func (s *indexState) sourceFor(entity EntityID) (SourceImageID, bool) {
	src, ok := s.bySource[entity]
	return src, ok
}

func (s *indexState) entityAt(index int) (EntityID, bool) {
	e, ok := s.occupied[index]
	return e, ok
}

// set records entity as occupying index with the given source id, and
// promotes it to the MRU head. Any previous occupant of index is assumed
// already removed by the caller.
func (s *indexState) set(entity EntityID, index int, source SourceImageID) {
	s.byEntity[entity] = index
	s.bySource[entity] = source
	s.occupied[index] = entity
	s.access(entity)
}

// access promotes entity to the MRU head, inserting it if absent.
func (s *indexState) access(entity EntityID) {
	if elem, ok := s.mruElem[entity]; ok {
		s.mru.MoveToFront(elem)
		return
	}

	s.mruElem[entity] = s.mru.PushFront(entity)
}

// delete removes entity from every index structure and returns the freed
// entry index. It does not touch the in-use multiset or the backing bytes.
func (s *indexState) delete(entity EntityID) (int, bool) {
	idx, ok := s.byEntity[entity]
	if !ok {
		return 0, false
	}

	delete(s.byEntity, entity)
	delete(s.bySource, entity)
	delete(s.occupied, idx)

	if elem, ok := s.mruElem[entity]; ok {
		s.mru.Remove(elem)
		delete(s.mruElem, entity)
	}

	return idx, true
}

// retain increments the in-use count for entity - a caller now holds an
// image aliasing its entry.
func (s *indexState) retain(entity EntityID) {
	s.inUse[entity]++
}

// releaseInUse decrements the in-use count for entity, removing it from the
// multiset entirely once it reaches zero.
func (s *indexState) releaseInUse(entity EntityID) {
	n, ok := s.inUse[entity]
	if !ok {
		return
	}

	if n <= 1 {
		delete(s.inUse, entity)
		return
	}

	s.inUse[entity] = n - 1
}

func (s *indexState) isInUse(entity EntityID) bool {
	return s.inUse[entity] > 0
}

// mruOrder returns the MRU list, most-recent first. Used by metadata save
// and by tests asserting eviction order.
func (s *indexState) mruOrder() []EntityID {
	out := make([]EntityID, 0, s.mru.Len())
	for e := s.mru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(EntityID))
	}

	return out
}

// firstFreeIndex returns the first index in [0, entryCount) not present in
// occupied, or entryCount if the range is full.
func (s *indexState) firstFreeIndex(entryCount int) int {
	for i := 0; i < entryCount; i++ {
		if _, taken := s.occupied[i]; !taken {
			return i
		}
	}

	return entryCount
}

// oldestNotInUse walks the MRU tail to head and returns the first entity
// not present in the in-use multiset.
func (s *indexState) oldestNotInUse() (EntityID, bool) {
	for e := s.mru.Back(); e != nil; e = e.Prev() {
		entity := e.Value.(EntityID)
		if !s.isInUse(entity) {
			return entity, true
		}
	}

	var zero EntityID
	return zero, false
}

// nextEntryIndex is the entry allocator: find a free index,
// evicting oldest-not-in-use entries as needed to stay under
// effectiveMaximum. Returns the index to use and the set of entities
// evicted to make room for it (already removed from all index structures).
func (s *indexState) nextEntryIndex(entryCount, effectiveMaximum int, log Logger) (index int, evicted []EntityID) {
	candidate := s.firstFreeIndex(entryCount)

	for candidate >= effectiveMaximum {
		victim, ok := s.oldestNotInUse()
		if !ok {
			log.Warnf("imagetable: eviction pressure, no evictable entry below effective maximum %d (candidate %d)", effectiveMaximum, candidate)
			break
		}

		if _, ok := s.delete(victim); ok {
			evicted = append(evicted, victim)
		}

		candidate = s.firstFreeIndex(entryCount)
	}

	return candidate, evicted
}
