package index

import (
	"errors"
	"testing"

	"emberdb/dberr"
	"emberdb/value"
)

func TestHashIndexSearch(t *testing.T) {
	ix := NewHashIndex()
	ix.Insert("u1", fields("email", value.String("a@example.com")), "email")
	ix.Insert("u2", fields("email", value.String("b@example.com")), "email")

	got := ix.Search(value.String("a@example.com"))
	if len(got) != 1 || got[0] != "u1" {
		t.Fatalf("got %v, want [u1]", got)
	}
	if !ix.ExistsEquals(value.String("b@example.com")) {
		t.Fatal("expected ExistsEquals true for b@example.com")
	}
	if ix.CountEquals(value.String("nobody@example.com")) != 0 {
		t.Fatal("expected zero count for absent key")
	}
}

func TestHashIndexRangeUnsupported(t *testing.T) {
	ix := NewHashIndex()
	_, err := ix.RangeSearch(value.Int(1), value.Int(10), true, true)
	if !errors.Is(err, dberr.ErrUnsupportedIndexOperation) {
		t.Fatalf("expected ErrUnsupportedIndexOperation, got %v", err)
	}
}

func TestHashIndexRemovePrunesEmptyBucket(t *testing.T) {
	ix := NewHashIndex()
	f := fields("email", value.String("a@example.com"))
	ix.Insert("u1", f, "email")
	ix.Remove("u1", f, "email")
	if ix.ExistsEquals(value.String("a@example.com")) {
		t.Fatal("expected bucket to be pruned once empty")
	}
	stats := ix.Stats()
	if stats.DistinctKeys != 0 {
		t.Fatalf("expected 0 distinct keys, got %d", stats.DistinctKeys)
	}
}

func TestHashIndexToMapLoadMapRoundTrip(t *testing.T) {
	ix := NewHashIndex()
	ix.Insert("u1", fields("email", value.String("a@example.com")), "email")
	dump := ix.ToMap()

	ix2 := NewHashIndex()
	ix2.LoadMap(dump)
	if !ix2.ExistsEquals(value.String("a@example.com")) {
		t.Fatal("expected round-tripped entry to exist")
	}
}
