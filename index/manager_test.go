package index

import (
	"errors"
	"testing"

	"emberdb/dberr"
	"emberdb/value"
)

func TestManagerCreateIndexDuplicateFails(t *testing.T) {
	m := NewManager(nil, nil)
	if err := m.CreateIndex("price", KindOrdered, FullTextConfig{}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	err := m.CreateIndex("price", KindHash, FullTextConfig{})
	if !errors.Is(err, dberr.ErrIndexAlreadyExists) {
		t.Fatalf("expected ErrIndexAlreadyExists, got %v", err)
	}
}

func TestManagerInsertFanOut(t *testing.T) {
	m := NewManager(nil, nil)
	m.CreateIndex("price", KindOrdered, FullTextConfig{})
	m.CreateIndex("sku", KindHash, FullTextConfig{})
	m.CreateIndex("description", KindFullText, DefaultFullTextConfig())

	fields := map[string]value.Value{
		"price":       value.Float(9.99),
		"sku":         value.String("WIDGET-1"),
		"description": value.String("a sturdy widget"),
	}
	m.Insert("p1", fields)

	ordered, _ := m.Ordered("price")
	if got := ordered.Search(value.Float(9.99)); len(got) != 1 {
		t.Fatalf("expected price index to contain p1, got %v", got)
	}
	hash, _ := m.Hash("sku")
	if !hash.ExistsEquals(value.String("WIDGET-1")) {
		t.Fatal("expected sku index to contain WIDGET-1")
	}
	ft, _ := m.FullText("description")
	if got := ft.Term("widget"); len(got) != 1 {
		t.Fatalf("expected fulltext index to contain p1, got %v", got)
	}
}

func TestManagerUpdateReindexes(t *testing.T) {
	m := NewManager(nil, nil)
	m.CreateIndex("price", KindOrdered, FullTextConfig{})
	before := map[string]value.Value{"price": value.Float(9.99)}
	after := map[string]value.Value{"price": value.Float(19.99)}
	m.Insert("p1", before)
	m.Update("p1", before, after)

	ordered, _ := m.Ordered("price")
	if got := ordered.Search(value.Float(9.99)); len(got) != 0 {
		t.Fatalf("expected stale posting removed, got %v", got)
	}
	if got := ordered.Search(value.Float(19.99)); len(got) != 1 {
		t.Fatalf("expected new posting present, got %v", got)
	}
}

func TestManagerRemoveIndexNotFound(t *testing.T) {
	m := NewManager(nil, nil)
	err := m.RemoveIndex("nope")
	if !errors.Is(err, dberr.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestManagerCardinality(t *testing.T) {
	m := NewManager(nil, nil)
	m.CreateIndex("category", KindHash, FullTextConfig{})
	m.Insert("a", map[string]value.Value{"category": value.String("x")})
	m.Insert("b", map[string]value.Value{"category": value.String("y")})
	m.Insert("c", map[string]value.Value{"category": value.String("x")})

	card, err := m.Cardinality("category")
	if err != nil {
		t.Fatalf("Cardinality: %v", err)
	}
	if card != 2 {
		t.Fatalf("expected cardinality 2, got %d", card)
	}
	total, err := m.TotalEntries("category")
	if err != nil {
		t.Fatalf("TotalEntries: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total entries 3, got %d", total)
	}
}
