package index

import (
	"sync"

	"emberdb/dberr"
	"emberdb/value"
)

// HashIndex is the hash-table-backed counterpart of OrderedIndex: same
// posting-set shape, O(1) equality lookups, no range support. Grounded on
// storage/binary/skiplist_index.go's posting-set semantics, with the
// ordered traversal dropped in favor of a Go map keyed by a stringified
// value (values indexed by a HashIndex are expected to be kind-homogeneous
// per field, so String() collisions across kinds are not a concern in
// practice).
type HashIndex struct {
	mu      sync.RWMutex
	buckets map[string]*postingSet
	keys    map[string]value.Value // representative Value per bucket key, for ToMap
}

// NewHashIndex creates an empty hash index.
func NewHashIndex() *HashIndex {
	return &HashIndex{
		buckets: make(map[string]*postingSet),
		keys:    make(map[string]value.Value),
	}
}

func (ix *HashIndex) Kind() Kind { return KindHash }

func bucketKey(v value.Value) string {
	return v.Kind().String() + ":" + v.String()
}

func (ix *HashIndex) Insert(id string, fields map[string]value.Value, field string) {
	v, ok := fieldValue(fields, field)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := bucketKey(v)
	ps, ok := ix.buckets[k]
	if !ok {
		ps = newPostingSet()
		ix.buckets[k] = ps
		ix.keys[k] = v
	}
	ps.add(id)
}

func (ix *HashIndex) Remove(id string, fields map[string]value.Value, field string) {
	v, ok := fieldValue(fields, field)
	if !ok {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := bucketKey(v)
	ps, ok := ix.buckets[k]
	if !ok {
		return
	}
	ps.remove(id)
	if ps.empty() {
		delete(ix.buckets, k)
		delete(ix.keys, k)
	}
}

// Search returns ids whose field value equals v exactly.
func (ix *HashIndex) Search(v value.Value) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ps, ok := ix.buckets[bucketKey(v)]
	if !ok {
		return nil
	}
	return ps.snapshot()
}

// CountEquals returns the posting-set size for v without materializing it.
func (ix *HashIndex) CountEquals(v value.Value) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ps, ok := ix.buckets[bucketKey(v)]
	if !ok {
		return 0
	}
	return len(ps.ids)
}

// ExistsEquals reports key membership.
func (ix *HashIndex) ExistsEquals(v value.Value) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.buckets[bucketKey(v)]
	return ok
}

// RangeSearch always fails: a hash index has no intrinsic order.
func (ix *HashIndex) RangeSearch(lo, hi value.Value, includeLo, includeHi bool) ([]string, error) {
	return nil, dberr.ErrUnsupportedIndexOperation
}

// Stats reports distinct-key count and total posting entries.
func (ix *HashIndex) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	total := 0
	for _, ps := range ix.buckets {
		total += len(ps.ids)
	}
	return Stats{DistinctKeys: len(ix.buckets), TotalEntries: total}
}

// ToMap serializes the live index to the same OrderedEntry shape ordered
// indexes use, in arbitrary (map iteration) order — hash indexes make no
// ordering claim on disk either.
func (ix *HashIndex) ToMap() []OrderedEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]OrderedEntry, 0, len(ix.buckets))
	for k, ps := range ix.buckets {
		out = append(out, OrderedEntry{Key: ix.keys[k], IDs: ps.snapshot()})
	}
	return out
}

// LoadMap restores a hash index from a previously-serialized entry list.
func (ix *HashIndex) LoadMap(entries []OrderedEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.buckets = make(map[string]*postingSet, len(entries))
	ix.keys = make(map[string]value.Value, len(entries))
	for _, e := range entries {
		k := bucketKey(e.Key)
		ps := newPostingSet()
		for _, id := range e.IDs {
			ps.add(id)
		}
		ix.buckets[k] = ps
		ix.keys[k] = e.Key
	}
}
