package index

import (
	"reflect"
	"sort"
	"testing"

	"emberdb/value"
)

func fields(field string, v value.Value) map[string]value.Value {
	return map[string]value.Value{field: v}
}

func TestOrderedIndexInsertSearch(t *testing.T) {
	ix := NewOrderedIndex()
	ix.Insert("p1", fields("price", value.Float(9.99)), "price")
	ix.Insert("p2", fields("price", value.Float(19.99)), "price")
	ix.Insert("p3", fields("price", value.Float(9.99)), "price")

	got := ix.Search(value.Float(9.99))
	sort.Strings(got)
	want := []string{"p1", "p3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestOrderedIndexNullFieldNotIndexed(t *testing.T) {
	ix := NewOrderedIndex()
	ix.Insert("p1", fields("price", value.Null()), "price")
	if ix.ExistsEquals(value.Null()) {
		t.Fatal("null values must not be indexed")
	}
	if len(ix.ToMap()) != 0 {
		t.Fatal("expected empty index after inserting only a null field")
	}
}

func TestOrderedIndexRangeSearchUnboundedBothSides(t *testing.T) {
	ix := NewOrderedIndex()
	for i, p := range []float64{1, 2, 3, 4, 5} {
		ix.Insert(string(rune('a'+i)), fields("price", value.Float(p)), "price")
	}
	got := ix.RangeSearch(value.Null(), value.Null(), true, true)
	if len(got) != 5 {
		t.Fatalf("expected all 5 ids with unbounded range, got %d", len(got))
	}
}

func TestOrderedIndexRangeSearchInclusivity(t *testing.T) {
	ix := NewOrderedIndex()
	for i := 1; i <= 5; i++ {
		ix.Insert(string(rune('a'+i)), fields("n", value.Int(int64(i))), "n")
	}
	inclusive := ix.RangeSearch(value.Int(2), value.Int(4), true, true)
	if len(inclusive) != 3 {
		t.Fatalf("inclusive range expected 3 ids, got %d", len(inclusive))
	}
	exclusive := ix.RangeSearch(value.Int(2), value.Int(4), false, false)
	if len(exclusive) != 1 {
		t.Fatalf("exclusive range expected 1 id, got %d", len(exclusive))
	}
}

func TestOrderedIndexRemoveDropsEmptyKey(t *testing.T) {
	ix := NewOrderedIndex()
	f := fields("n", value.Int(5))
	ix.Insert("a", f, "n")
	ix.Remove("a", f, "n")
	if ix.ExistsEquals(value.Int(5)) {
		t.Fatal("expected key to be dropped once its posting set is empty")
	}
	// Removing again must be a no-op, not a panic.
	ix.Remove("a", f, "n")
}

func TestOrderedIndexCounts(t *testing.T) {
	ix := NewOrderedIndex()
	for i := 1; i <= 10; i++ {
		ix.Insert(string(rune('a'+i)), fields("n", value.Int(int64(i))), "n")
	}
	if got := ix.CountGreaterThan(value.Int(7)); got != 3 {
		t.Fatalf("CountGreaterThan(7) = %d, want 3", got)
	}
	if got := ix.CountLessThanOrEqual(value.Int(3)); got != 3 {
		t.Fatalf("CountLessThanOrEqual(3) = %d, want 3", got)
	}
	if !ix.ExistsGreaterThan(value.Int(9)) {
		t.Fatal("expected ExistsGreaterThan(9) true")
	}
	if ix.ExistsGreaterThan(value.Int(10)) {
		t.Fatal("expected ExistsGreaterThan(10) false (max key is 10)")
	}
}

func TestOrderedIndexToMapLoadMapRoundTrip(t *testing.T) {
	ix := NewOrderedIndex()
	ix.Insert("a", fields("n", value.Int(1)), "n")
	ix.Insert("b", fields("n", value.Int(2)), "n")
	dump := ix.ToMap()

	ix2 := NewOrderedIndex()
	ix2.LoadMap(dump)
	if got := ix2.Search(value.Int(1)); len(got) != 1 || got[0] != "a" {
		t.Fatalf("round trip lost entry for key 1: %v", got)
	}
}
