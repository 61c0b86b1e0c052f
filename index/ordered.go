package index

import (
	"sort"
	"sync"

	"emberdb/value"
)

// OrderedIndex is a sorted-map index backed by a slice of keys kept sorted
// by value.Compare, with binary-search insert/lookup. Grounded on
// storage/binary/skiplist_index.go's insertion-ordered postings-per-key
// shape, generalized from string keys to value.Value keys so it can index
// any comparable field.
type OrderedIndex struct {
	mu      sync.RWMutex
	keys    []value.Value
	entries []*postingSet
}

// NewOrderedIndex creates an empty ordered index.
func NewOrderedIndex() *OrderedIndex {
	return &OrderedIndex{}
}

func (ix *OrderedIndex) Kind() Kind { return KindOrdered }

// locate returns the position k would occupy and whether it already exists.
func (ix *OrderedIndex) locate(k value.Value) (int, bool) {
	i := sort.Search(len(ix.keys), func(i int) bool {
		return value.Compare(ix.keys[i], k) >= 0
	})
	if i < len(ix.keys) && value.Compare(ix.keys[i], k) == 0 {
		return i, true
	}
	return i, false
}

// Insert extracts field's value from fields and adds id to its posting set.
// A null or absent field is not indexed at all.
func (ix *OrderedIndex) Insert(id string, fields map[string]value.Value, field string) {
	v, ok := fieldValue(fields, field)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i, found := ix.locate(v)
	if found {
		ix.entries[i].add(id)
		return
	}
	ix.keys = append(ix.keys, value.Null())
	copy(ix.keys[i+1:], ix.keys[i:])
	ix.keys[i] = v
	ps := newPostingSet()
	ps.add(id)
	ix.entries = append(ix.entries, nil)
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = ps
}

// Remove is the symmetric inverse of Insert: drops id from its key's
// posting set and removes the key entirely once its posting set is empty.
func (ix *OrderedIndex) Remove(id string, fields map[string]value.Value, field string) {
	v, ok := fieldValue(fields, field)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i, found := ix.locate(v)
	if !found {
		return
	}
	ix.entries[i].remove(id)
	if ix.entries[i].empty() {
		ix.keys = append(ix.keys[:i], ix.keys[i+1:]...)
		ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
	}
}

// Search returns the ids whose field value equals v exactly.
func (ix *OrderedIndex) Search(v value.Value) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, found := ix.locate(v)
	if !found {
		return nil
	}
	return ix.entries[i].snapshot()
}

// RangeSearch returns ids for keys within [lo, hi] (inclusivity per
// includeLo/includeHi). A null lo or hi means "unbounded" on that side, per
// spec.md's boundary behaviour (lo=null, hi=null returns all ids). Scanning
// stops as soon as the upper bound is crossed.
func (ix *OrderedIndex) RangeSearch(lo, hi value.Value, includeLo, includeHi bool) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for i, k := range ix.keys {
		if !lo.IsNull() {
			c := value.Compare(k, lo)
			if c < 0 || (c == 0 && !includeLo) {
				continue
			}
		}
		if !hi.IsNull() {
			c := value.Compare(k, hi)
			if c > 0 || (c == 0 && !includeHi) {
				break
			}
		}
		out = append(out, ix.entries[i].snapshot()...)
	}
	return out
}

func (ix *OrderedIndex) GreaterThan(v value.Value) []string {
	return ix.RangeSearch(v, value.Null(), false, false)
}
func (ix *OrderedIndex) GreaterThanOrEqual(v value.Value) []string {
	return ix.RangeSearch(v, value.Null(), true, false)
}
func (ix *OrderedIndex) LessThan(v value.Value) []string {
	return ix.RangeSearch(value.Null(), v, false, false)
}
func (ix *OrderedIndex) LessThanOrEqual(v value.Value) []string {
	return ix.RangeSearch(value.Null(), v, false, true)
}

// CountEquals returns the posting-set size for v without materializing it.
func (ix *OrderedIndex) CountEquals(v value.Value) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, found := ix.locate(v)
	if !found {
		return 0
	}
	return len(ix.entries[i].ids)
}

// CountRange sums posting-set sizes over [lo, hi] without materializing ids.
func (ix *OrderedIndex) CountRange(lo, hi value.Value, includeLo, includeHi bool) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	total := 0
	for i, k := range ix.keys {
		if !lo.IsNull() {
			c := value.Compare(k, lo)
			if c < 0 || (c == 0 && !includeLo) {
				continue
			}
		}
		if !hi.IsNull() {
			c := value.Compare(k, hi)
			if c > 0 || (c == 0 && !includeHi) {
				break
			}
		}
		total += len(ix.entries[i].ids)
	}
	return total
}

func (ix *OrderedIndex) CountGreaterThan(v value.Value) int {
	return ix.CountRange(v, value.Null(), false, false)
}
func (ix *OrderedIndex) CountGreaterThanOrEqual(v value.Value) int {
	return ix.CountRange(v, value.Null(), true, false)
}
func (ix *OrderedIndex) CountLessThan(v value.Value) int {
	return ix.CountRange(value.Null(), v, false, false)
}
func (ix *OrderedIndex) CountLessThanOrEqual(v value.Value) int {
	return ix.CountRange(value.Null(), v, false, true)
}

// ExistsEquals reports key membership without materializing the posting.
func (ix *OrderedIndex) ExistsEquals(v value.Value) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, found := ix.locate(v)
	return found
}

// ExistsGreaterThan compares v against the maximum key for an O(1) answer.
func (ix *OrderedIndex) ExistsGreaterThan(v value.Value) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.keys) == 0 {
		return false
	}
	return value.Compare(ix.keys[len(ix.keys)-1], v) > 0
}

// ExistsLessThan compares v against the minimum key for an O(1) answer.
func (ix *OrderedIndex) ExistsLessThan(v value.Value) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.keys) == 0 {
		return false
	}
	return value.Compare(ix.keys[0], v) < 0
}

// Stats reports distinct-key count and total posting entries.
func (ix *OrderedIndex) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	total := 0
	for _, e := range ix.entries {
		total += len(e.ids)
	}
	return Stats{DistinctKeys: len(ix.keys), TotalEntries: total}
}

// ToMap serializes the live index to the posting-set shape IndexPersistence
// writes: an ordered list of {key, ids} pairs (order preserved so a reload
// need not re-sort).
func (ix *OrderedIndex) ToMap() []OrderedEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]OrderedEntry, len(ix.keys))
	for i, k := range ix.keys {
		out[i] = OrderedEntry{Key: k, IDs: ix.entries[i].snapshot()}
	}
	return out
}

// OrderedEntry is one key's posting set, the unit IndexPersistence
// marshals for ordered and hash indexes.
type OrderedEntry struct {
	Key value.Value
	IDs []string
}

// LoadMap restores an ordered index from a previously-serialized entry
// list, assumed already sorted by key (as ToMap produces).
func (ix *OrderedIndex) LoadMap(entries []OrderedEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.keys = make([]value.Value, len(entries))
	ix.entries = make([]*postingSet, len(entries))
	for i, e := range entries {
		ix.keys[i] = e.Key
		ps := newPostingSet()
		for _, id := range e.IDs {
			ps.add(id)
		}
		ix.entries[i] = ps
	}
}
