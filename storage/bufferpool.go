package storage

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"emberdb/dberr"
)

const (
	// MinPoolSize is the smallest buffer pool size the engine accepts.
	MinPoolSize = 16
	// DefaultPoolSize is used when a caller does not specify one.
	DefaultPoolSize = 1024
	// flushRatio is the fraction of the pool proactively flushed once
	// dirty pages exceed it.
	flushRatio = 0.25
)

// descriptor is the buffer pool's bookkeeping record for one cached page,
// grounded on the {page, pin-count, dirty, last-access-time} shape of
// spec.md §4.3 and on the ARC cache's list.Element-based LRU bookkeeping.
type descriptor struct {
	page       *Page
	lastAccess time.Time
	elem       *list.Element // position in the LRU list
}

// Stats are the observable buffer pool counters from spec.md §4.3.
type Stats struct {
	FetchCount  int64
	HitCount    int64
	MissCount   int64
	WriteCount  int64
	CachedPages int
	DirtyPages  int
}

// BufferPool is a bounded cache of Pages, keyed by page id, with LRU
// eviction restricted to unpinned pages.
type BufferPool struct {
	mu    sync.Mutex
	pager *Pager
	size  int

	lru   *list.List // of *descriptor, front = most recently used
	byID  map[uint32]*list.Element

	fetchCount, hitCount, missCount, writeCount int64
}

// NewBufferPool creates a pool bounded to size pages (clamped up to
// MinPoolSize) backed by pager.
func NewBufferPool(pager *Pager, size int) *BufferPool {
	if size < MinPoolSize {
		size = MinPoolSize
	}
	return &BufferPool{
		pager: pager,
		size:  size,
		lru:   list.New(),
		byID:  make(map[uint32]*list.Element),
	}
}

// FetchPage returns the page for id, pinned. A cache hit touches LRU
// order; a miss reads through the pager, evicting if necessary.
func (bp *BufferPool) FetchPage(id uint32) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.fetchCount++

	if elem, ok := bp.byID[id]; ok {
		bp.hitCount++
		d := elem.Value.(*descriptor)
		d.page.Pin()
		d.lastAccess = time.Now()
		bp.lru.MoveToFront(elem)
		return d.page, nil
	}

	bp.missCount++
	p, err := bp.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if err := bp.insertLocked(p); err != nil {
		return nil, err
	}
	p.Pin()
	return p, nil
}

// AllocatePage allocates a fresh page via the pager, inserts it pinned and
// dirty (new pages always need writing), and returns it.
func (bp *BufferPool) AllocatePage(typ PageType) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	p, err := bp.pager.AllocatePage(typ)
	if err != nil {
		return nil, err
	}
	p.MarkDirty()
	if err := bp.insertLocked(p); err != nil {
		return nil, err
	}
	p.Pin()
	return p, nil
}

// PeekPage returns the page for id if cached, without pinning it or
// touching it in from the pager on a miss.
func (bp *BufferPool) PeekPage(id uint32) (*Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return nil, false
	}
	return elem.Value.(*descriptor).page, true
}

func (bp *BufferPool) insertLocked(p *Page) error {
	if len(bp.byID) >= bp.size {
		if err := bp.evictOneLocked(); err != nil {
			return err
		}
	}
	d := &descriptor{page: p, lastAccess: time.Now()}
	d.elem = bp.lru.PushFront(d)
	bp.byID[p.ID()] = d.elem
	return nil
}

// evictOneLocked evicts the least-recently-used unpinned page, flushing it
// first if dirty. Returns ErrPoolExhausted if every page is pinned.
func (bp *BufferPool) evictOneLocked() error {
	for e := bp.lru.Back(); e != nil; e = e.Prev() {
		d := e.Value.(*descriptor)
		if d.page.PinCount() > 0 {
			continue
		}
		if d.page.IsDirty() {
			if err := bp.flushLocked(d.page); err != nil {
				return err
			}
		}
		bp.lru.Remove(e)
		delete(bp.byID, d.page.ID())
		return nil
	}
	return fmt.Errorf("storage: %w", dberr.ErrPoolExhausted)
}

// PinPage increments the pin count of a cached page.
func (bp *BufferPool) PinPage(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return fmt.Errorf("storage: pin unknown page %d", id)
	}
	elem.Value.(*descriptor).page.Pin()
	return nil
}

// UnpinPage decrements the pin count of a cached page.
func (bp *BufferPool) UnpinPage(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return fmt.Errorf("storage: unpin unknown page %d", id)
	}
	elem.Value.(*descriptor).page.Unpin()
	return nil
}

// MarkDirty flags a cached page dirty, proactively flushing a fraction of
// the pool if the dirty ratio now exceeds flushRatio.
func (bp *BufferPool) MarkDirty(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return fmt.Errorf("storage: mark-dirty unknown page %d", id)
	}
	elem.Value.(*descriptor).page.MarkDirty()
	if bp.dirtyCountLocked() > int(flushRatio*float64(bp.size)) {
		return bp.flushSomeDirtyLocked()
	}
	return nil
}

func (bp *BufferPool) dirtyCountLocked() int {
	n := 0
	for e := bp.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(*descriptor).page.IsDirty() {
			n++
		}
	}
	return n
}

func (bp *BufferPool) flushSomeDirtyLocked() error {
	target := int(flushRatio * float64(bp.size))
	flushed := 0
	for e := bp.lru.Back(); e != nil && flushed < target; e = e.Prev() {
		d := e.Value.(*descriptor)
		if d.page.IsDirty() && d.page.PinCount() == 0 {
			if err := bp.flushLocked(d.page); err != nil {
				return err
			}
			flushed++
		}
	}
	return nil
}

func (bp *BufferPool) flushLocked(p *Page) error {
	p.Finalize()
	if err := bp.pager.WritePage(p); err != nil {
		return err
	}
	bp.writeCount++
	return nil
}

// FlushPage writes a single cached page if dirty.
func (bp *BufferPool) FlushPage(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return fmt.Errorf("storage: flush unknown page %d", id)
	}
	d := elem.Value.(*descriptor)
	if !d.page.IsDirty() {
		return nil
	}
	return bp.flushLocked(d.page)
}

// FlushAll writes every dirty cached page.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for e := bp.lru.Front(); e != nil; e = e.Next() {
		d := e.Value.(*descriptor)
		if d.page.IsDirty() {
			if err := bp.flushLocked(d.page); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvictPage drops a page from the cache (flushing first if dirty),
// regardless of LRU order. Errors if the page is pinned.
func (bp *BufferPool) EvictPage(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	elem, ok := bp.byID[id]
	if !ok {
		return nil
	}
	d := elem.Value.(*descriptor)
	if d.page.PinCount() > 0 {
		return fmt.Errorf("storage: cannot evict pinned page %d", id)
	}
	if d.page.IsDirty() {
		if err := bp.flushLocked(d.page); err != nil {
			return err
		}
	}
	bp.lru.Remove(elem)
	delete(bp.byID, id)
	return nil
}

// Prefetch warms the cache for a batch of page ids, ignoring individual
// read failures (best-effort).
func (bp *BufferPool) Prefetch(ids []uint32) {
	for _, id := range ids {
		if _, ok := bp.PeekPage(id); ok {
			continue
		}
		p, err := bp.FetchPage(id)
		if err != nil {
			continue
		}
		_ = bp.UnpinPage(id)
		_ = p
	}
}

// ClearCache drops every cached page without flushing. Intended for
// tests; production callers should FlushAll first.
func (bp *BufferPool) ClearCache() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.lru = list.New()
	bp.byID = make(map[uint32]*list.Element)
}

// Stats returns a snapshot of the pool's observable counters.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return Stats{
		FetchCount:  bp.fetchCount,
		HitCount:    bp.hitCount,
		MissCount:   bp.missCount,
		WriteCount:  bp.writeCount,
		CachedPages: len(bp.byID),
		DirtyPages:  bp.dirtyCountLocked(),
	}
}
