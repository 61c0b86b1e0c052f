package index

import (
	"path/filepath"
	"testing"

	"emberdb/value"
)

func TestPersistenceOrderedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	ix := NewOrderedIndex()
	ix.Insert("p1", fields("price", value.Float(9.99)), "price")
	if err := p.SaveOrdered("products", "price", ix); err != nil {
		t.Fatalf("SaveOrdered: %v", err)
	}

	loaded, err := p.LoadOrdered("products", "price")
	if err != nil {
		t.Fatalf("LoadOrdered: %v", err)
	}
	if got := loaded.Search(value.Float(9.99)); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("got %v, want [p1]", got)
	}
}

func TestPersistenceMissingFileReturnsNilNotError(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ix, err := p.LoadOrdered("products", "price")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if ix != nil {
		t.Fatal("expected nil index for missing file")
	}
}

func TestPersistenceFullTextRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "quick brown fox")
	if err := p.SaveFullText("docs", "content", ix); err != nil {
		t.Fatalf("SaveFullText: %v", err)
	}

	loaded, err := p.LoadFullText("docs", "content", DefaultFullTextConfig())
	if err != nil {
		t.Fatalf("LoadFullText: %v", err)
	}
	if got := loaded.Phrase([]string{"quick", "brown"}); len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("expected phrase match after reload, got %v", got)
	}
}

func TestPersistenceTypeMismatchSurfacesError(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)
	ix := NewHashIndex()
	ix.Insert("u1", fields("email", value.String("a@example.com")), "email")
	if err := p.SaveHash("users", "email", ix); err != nil {
		t.Fatalf("SaveHash: %v", err)
	}
	if _, err := p.LoadOrdered("users", "email"); err == nil {
		t.Fatal("expected an error loading a hash-typed file as ordered")
	}
}

func TestPersistencePeekKind(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)
	ix := NewOrderedIndex()
	ix.Insert("p1", fields("price", value.Float(1)), "price")
	p.SaveOrdered("products", "price", ix)

	kind, ok, err := p.PeekKind("products", "price")
	if err != nil {
		t.Fatalf("PeekKind: %v", err)
	}
	if !ok || kind != KindOrdered {
		t.Fatalf("expected ordered kind, got %v ok=%v", kind, ok)
	}
}

func TestPersistenceFilenameSanitized(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)
	path := p.path("weird/collection", "weird field!")
	if filepath.Dir(path) != dir {
		t.Fatalf("expected file to stay under %s, got %s", dir, path)
	}
}
