package storage

import (
	"path/filepath"
	"testing"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	pg, err := Create(filepath.Join(t.TempDir(), "db"), 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	return pg
}

func TestBufferPoolFetchHitMiss(t *testing.T) {
	pg := newTestPager(t)
	bp := NewBufferPool(pg, MinPoolSize)

	p, err := bp.AllocatePage(PageData)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	id := p.ID()
	_ = bp.UnpinPage(id)

	if _, err := bp.FetchPage(id); err != nil {
		t.Fatalf("FetchPage (hit): %v", err)
	}
	stats := bp.Stats()
	if stats.HitCount == 0 {
		t.Fatal("expected at least one cache hit")
	}
}

func TestBufferPoolCachedPagesBounded(t *testing.T) {
	pg := newTestPager(t)
	bp := NewBufferPool(pg, MinPoolSize)

	for i := 0; i < MinPoolSize*2; i++ {
		p, err := bp.AllocatePage(PageData)
		if err != nil {
			t.Fatalf("AllocatePage %d: %v", i, err)
		}
		_ = bp.UnpinPage(p.ID())
		if bp.Stats().CachedPages > MinPoolSize {
			t.Fatalf("cached pages %d exceeds pool size %d", bp.Stats().CachedPages, MinPoolSize)
		}
	}
}

func TestBufferPoolExhaustedWhenAllPinned(t *testing.T) {
	pg := newTestPager(t)
	bp := NewBufferPool(pg, MinPoolSize)

	for i := 0; i < MinPoolSize; i++ {
		if _, err := bp.AllocatePage(PageData); err != nil {
			t.Fatalf("AllocatePage %d: %v", i, err)
		}
		// deliberately leave pinned
	}
	if _, err := bp.AllocatePage(PageData); err == nil {
		t.Fatal("expected pool exhaustion error when every page is pinned")
	}
}

func TestBufferPoolFlushDirtyOnEvict(t *testing.T) {
	pg := newTestPager(t)
	bp := NewBufferPool(pg, MinPoolSize)

	p, _ := bp.AllocatePage(PageData)
	_ = p.WriteString(PageHeaderSize, "durable")
	id := p.ID()
	_ = bp.UnpinPage(id)

	// Fill the pool with other pages to force eviction of p.
	for i := 0; i < MinPoolSize; i++ {
		q, err := bp.AllocatePage(PageData)
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		_ = bp.UnpinPage(q.ID())
	}

	// p should have been evicted and flushed; read it back from the pager.
	read, err := pg.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage after eviction: %v", err)
	}
	s, _, err := read.ReadString(PageHeaderSize)
	if err != nil || s != "durable" {
		t.Fatalf("expected durable write to survive eviction, got %q err %v", s, err)
	}
}
