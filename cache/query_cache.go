// Package cache implements emberdb's QueryCache: a bounded, TTL-backed
// mapping from (predicate fingerprint, collection generation) to the id
// list a query resolved to.
package cache

import (
	"fmt"
	"sync"
	"time"

	"emberdb/query"
)

// DefaultSize and DefaultTTL match spec.md §4.12's defaults.
const (
	DefaultSize = 100
	DefaultTTL  = 5 * time.Minute
)

// entry is one cached query result: the id list, the fields its predicate
// referenced (for selective invalidation), the generation it was computed
// against, and when it was stored (for TTL expiry).
type entry struct {
	ids       []string
	fields    map[string]bool
	generation uint64
	storedAt  time.Time
}

// Stats reports the cache's observable counters, per spec.md §4.12.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio returns Hits / (Hits + Misses), or 0 if nothing has been looked
// up yet.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// QueryCache is a bounded, per-collection query result cache. Grounded on
// osakka-entitydb's cache/query_cache.go (map + RWMutex + TTL + eviction
// shape), replacing its access-count LRU eviction and whole-cache
// Invalidate(prefix) with insertion-order eviction and selective,
// touched-field invalidation (spec.md §4.12) — no background goroutine:
// expiry is checked lazily on Get, consistent with the engine's
// single-threaded cooperative scheduling model (spec.md §5).
type QueryCache struct {
	mu         sync.Mutex
	maxSize    int
	ttl        time.Duration
	entries    map[string]*entry
	order      []string // insertion order, for bounded-size eviction
	generation uint64
	stats      Stats
}

// New creates a QueryCache bounded to maxSize entries, each valid for ttl.
func New(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &QueryCache{maxSize: maxSize, ttl: ttl, entries: make(map[string]*entry)}
}

// Fingerprint renders a stable cache key for p, independent of the id list
// it resolves to.
func Fingerprint(p query.Predicate) string {
	return fingerprintPredicate(p)
}

func fingerprintPredicate(p query.Predicate) string {
	switch p.Op {
	case query.OpAnd, query.OpOr, query.OpNot:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = fingerprintPredicate(c)
		}
		return fmt.Sprintf("%d(%v)", p.Op, parts)
	default:
		return fmt.Sprintf("%d|%s|%s|%s|%s|%v|%v", p.Op, p.Field, p.Value.String(), p.Lo.String(), p.Hi.String(), p.Values, p.Terms)
	}
}

// Get returns the cached id list for p if present, unexpired, and computed
// against the cache's current generation.
func (c *QueryCache) Get(p query.Predicate) ([]string, bool) {
	key := Fingerprint(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.generation != c.generation || time.Since(e.storedAt) > c.ttl {
		c.removeLocked(key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	out := make([]string, len(e.ids))
	copy(out, e.ids)
	return out, true
}

// Put stores ids as the result of p, evicting the oldest entry first if
// the cache is at capacity.
func (c *QueryCache) Put(p query.Predicate, ids []string) {
	key := Fingerprint(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	idsCopy := make([]string, len(ids))
	copy(idsCopy, ids)
	c.entries[key] = &entry{
		ids:        idsCopy,
		fields:     p.Fields(),
		generation: c.generation,
		storedAt:   time.Now(),
	}
	c.order = append(c.order, key)
}

func (c *QueryCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			c.stats.Evictions++
			return
		}
	}
}

func (c *QueryCache) removeLocked(key string) {
	delete(c.entries, key)
}

// InvalidateAll bumps the generation counter, lazily invalidating every
// cached entry on its next Get.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
}

// InvalidateFields removes only entries whose predicate referenced one of
// the given touched fields, per spec.md §4.12's selective-invalidation
// option.
func (c *QueryCache) InvalidateFields(touched map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		for f := range touched {
			if e.fields[f] {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Clear empties the cache entirely.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// Stats returns a snapshot of the cache's observable counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the number of entries currently cached (including any not
// yet lazily expired).
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
