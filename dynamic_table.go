package qpack

// A tableEntry is a dynamic table entry. refs counts field sections
// that reference the entry and haven't been acknowledged yet; a
// referenced entry must not be evicted.
type tableEntry struct {
	HeaderField
	refs int
}

// A dynamicTable is the mutable half of a QPACK context. Encoder and
// decoder each own one instance; the two are kept in sync via the
// encoder instruction stream, never shared directly.
//
// Entries are ordered oldest to newest. The absolute index of
// entries[i] is insertCount - len(entries) + i: absolute indices are
// assigned sequentially from 0 and never reused.
type dynamicTable struct {
	entries []*tableEntry
	// maxCapacity is the upper bound for capacity. It is fixed for the
	// lifetime of the connection (SETTINGS_QPACK_MAX_TABLE_CAPACITY).
	maxCapacity uint64
	capacity    uint64
	size        uint64
	insertCount uint64
}

// numEntries returns the number of live entries.
func (t *dynamicTable) numEntries() uint64 { return uint64(len(t.entries)) }

// dropCount returns the absolute index of the oldest live entry, i.e.
// the number of entries evicted so far.
func (t *dynamicTable) dropCount() uint64 { return t.insertCount - uint64(len(t.entries)) }

// maxEntries returns the maximum number of entries the table could
// ever hold (RFC 9204, Section 3.2.3). It bounds the wrapping of the
// encoded Required Insert Count and must therefore be derived from the
// static maximum capacity, not the current one: field sections and
// capacity changes travel on different streams, so the two sides may
// apply a capacity change at different points in time.
func (t *dynamicTable) maxEntries() uint64 { return t.maxCapacity / 32 }

// get returns the entry with the given absolute index.
func (t *dynamicTable) get(absIndex uint64) (*tableEntry, bool) {
	drop := t.dropCount()
	if absIndex < drop || absIndex >= t.insertCount {
		return nil, false
	}
	return t.entries[absIndex-drop], true
}

// setCapacity changes the table capacity, evicting entries from the
// oldest end until the current size fits. It fails with
// ErrCapacityViolation if the new capacity exceeds the connection
// maximum or if the evictions would touch a referenced entry.
func (t *dynamicTable) setCapacity(capacity uint64) error {
	if capacity > t.maxCapacity {
		return ErrCapacityViolation
	}
	if !t.evictTo(capacity) {
		return ErrCapacityViolation
	}
	t.capacity = capacity
	return nil
}

// insert appends a new entry, evicting from the oldest end to make
// room. The entry's absolute index is the insert count before the
// insertion.
func (t *dynamicTable) insert(hf HeaderField) error {
	size := hf.size()
	if size > t.capacity {
		return ErrInsufficientCapacity
	}
	if !t.evictTo(t.capacity - size) {
		return ErrInsufficientCapacity
	}
	t.entries = append(t.entries, &tableEntry{HeaderField: hf})
	t.size += size
	t.insertCount++
	return nil
}

// canInsert reports whether an entry of the given size could be
// inserted without touching a referenced entry.
func (t *dynamicTable) canInsert(hf HeaderField) bool {
	size := hf.size()
	if size > t.capacity {
		return false
	}
	target := t.capacity - size
	remaining := t.size
	for _, e := range t.entries {
		if remaining <= target {
			break
		}
		if e.refs > 0 {
			return false
		}
		remaining -= e.size()
	}
	return remaining <= target
}

// evictTo evicts oldest entries until size <= target. It reports
// whether that was possible without evicting a referenced entry.
func (t *dynamicTable) evictTo(target uint64) bool {
	i := 0
	for i < len(t.entries) && t.size > target {
		if t.entries[i].refs > 0 {
			return false
		}
		t.size -= t.entries[i].size()
		i++
	}
	t.entries = append(t.entries[:0], t.entries[i:]...)
	return t.size <= target
}

// lookup scans newest-first for an entry matching name and value. It
// returns the absolute index of an exact match, or failing that of a
// name-only match.
func (t *dynamicTable) lookup(name, value string) (exact uint64, hasExact bool, nameOnly uint64, hasName bool) {
	drop := t.dropCount()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Name != name {
			continue
		}
		if e.Value == value {
			return drop + uint64(i), true, 0, false
		}
		if !hasName {
			nameOnly = drop + uint64(i)
			hasName = true
		}
	}
	return 0, false, nameOnly, hasName
}
