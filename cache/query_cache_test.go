package cache

import (
	"testing"
	"time"

	"emberdb/query"
	"emberdb/value"
)

func TestQueryCacheGetMissThenHit(t *testing.T) {
	c := New(DefaultSize, DefaultTTL)
	p := query.Equals("sku", value.String("WIDGET-1"))

	if _, ok := c.Get(p); ok {
		t.Fatal("expected miss before Put")
	}
	c.Put(p, []string{"p1"})
	ids, ok := c.Get(p)
	if !ok || len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("got %v ok=%v, want [p1] true", ids, ok)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestQueryCacheTTLExpiry(t *testing.T) {
	c := New(DefaultSize, time.Millisecond)
	p := query.Equals("sku", value.String("WIDGET-1"))
	c.Put(p, []string{"p1"})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(p); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestQueryCacheBoundedEviction(t *testing.T) {
	c := New(2, DefaultTTL)
	c.Put(query.Equals("a", value.Int(1)), []string{"1"})
	c.Put(query.Equals("b", value.Int(2)), []string{"2"})
	c.Put(query.Equals("c", value.Int(3)), []string{"3"})

	if c.Len() > 2 {
		t.Fatalf("expected at most 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get(query.Equals("a", value.Int(1))); ok {
		t.Fatal("expected oldest entry to have been evicted")
	}
	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestQueryCacheInvalidateAll(t *testing.T) {
	c := New(DefaultSize, DefaultTTL)
	p := query.Equals("sku", value.String("WIDGET-1"))
	c.Put(p, []string{"p1"})
	c.InvalidateAll()
	if _, ok := c.Get(p); ok {
		t.Fatal("expected entry invalidated after generation bump")
	}
}

func TestQueryCacheSelectiveInvalidation(t *testing.T) {
	c := New(DefaultSize, DefaultTTL)
	byPrice := query.GreaterThan("price", value.Float(5))
	bySku := query.Equals("sku", value.String("WIDGET-1"))
	c.Put(byPrice, []string{"p1"})
	c.Put(bySku, []string{"p1"})

	c.InvalidateFields(map[string]bool{"price": true})

	if _, ok := c.Get(byPrice); ok {
		t.Fatal("expected price-touching entry invalidated")
	}
	if _, ok := c.Get(bySku); !ok {
		t.Fatal("expected sku entry to survive a price-only invalidation")
	}
}

func TestQueryCacheHitRatio(t *testing.T) {
	c := New(DefaultSize, DefaultTTL)
	p := query.Equals("a", value.Int(1))
	c.Put(p, []string{"1"})
	c.Get(p)
	c.Get(query.Equals("b", value.Int(2)))
	stats := c.Stats()
	if stats.HitRatio() != 0.5 {
		t.Fatalf("expected hit ratio 0.5, got %f", stats.HitRatio())
	}
}

func TestQueryCacheClear(t *testing.T) {
	c := New(DefaultSize, DefaultTTL)
	c.Put(query.Equals("a", value.Int(1)), []string{"1"})
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected 0 entries after Clear, got %d", c.Len())
	}
}
