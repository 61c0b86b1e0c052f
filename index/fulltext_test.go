package index

import (
	"sort"
	"testing"
)

func containsAll(haystack []string, want ...string) bool {
	set := make(map[string]bool, len(haystack))
	for _, h := range haystack {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func TestFullTextTokenize(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	toks := ix.Tokenize("The Quick, Brown Fox!")
	want := []string{"the", "quick", "brown", "fox"}
	if len(toks) != len(want) {
		t.Fatalf("got %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("token %d: got %q want %q", i, toks[i], want[i])
		}
	}
}

func TestFullTextTermAndAndOr(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "The quick brown fox")
	ix.Insert("doc-2", "A lazy brown dog")

	if got := ix.Term("brown"); !containsAll(got, "doc-1", "doc-2") || len(got) != 2 {
		t.Fatalf("Term(brown) = %v, want both docs", got)
	}
	if got := ix.AllTerms([]string{"brown", "fox"}); len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("AllTerms(brown,fox) = %v, want [doc-1]", got)
	}
	got := ix.AnyTerm([]string{"fox", "dog"})
	sort.Strings(got)
	if len(got) != 2 {
		t.Fatalf("AnyTerm(fox,dog) = %v, want both docs", got)
	}
}

func TestFullTextPhrase(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "The quick brown fox")
	ix.Insert("doc-2", "A lazy brown dog")

	got := ix.Phrase([]string{"quick", "brown"})
	if len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("Phrase(quick brown) = %v, want [doc-1]", got)
	}
	if got := ix.Phrase([]string{"brown", "quick"}); len(got) != 0 {
		t.Fatalf("Phrase(brown quick) = %v, want empty (wrong order)", got)
	}
}

func TestFullTextPrefix(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "quick quantum queue")
	got := ix.Prefix("qu")
	if len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("Prefix(qu) = %v, want [doc-1]", got)
	}
}

func TestFullTextProximity(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "alpha one two three four five beta")
	ix.Insert("doc-2", "alpha one two three four five six seven eight nine ten beta")

	close := ix.Proximity([]string{"alpha", "beta"}, 6)
	if len(close) != 1 || close[0] != "doc-1" {
		t.Fatalf("Proximity(alpha,beta,6) = %v, want [doc-1]", close)
	}
}

func TestFullTextRanked(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "go go go programming language")
	ix.Insert("doc-2", "go programming")
	ix.Insert("doc-3", "rust programming")

	results := ix.Ranked([]string{"go"})
	if len(results) != 2 {
		t.Fatalf("expected 2 ranked results, got %d", len(results))
	}
	if results[0].ID != "doc-1" {
		t.Fatalf("expected doc-1 (higher term frequency) ranked first, got %s", results[0].ID)
	}
}

func TestFullTextRemoveUsesForwardIndex(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "quick brown fox")
	ix.Remove("doc-1")
	if got := ix.Term("brown"); len(got) != 0 {
		t.Fatalf("expected term postings to be gone after remove, got %v", got)
	}
	if stats := ix.Stats(); stats.DistinctKeys != 0 {
		t.Fatalf("expected vocabulary to be empty after removing the only doc, got %d terms", stats.DistinctKeys)
	}
}

func TestFullTextEmptyQuery(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "hello world")
	if got := ix.Term(""); len(got) != 0 {
		t.Fatalf("expected empty term to match nothing, got %v", got)
	}
}

func TestFullTextToMapLoadMapRoundTrip(t *testing.T) {
	ix := NewFullTextIndex(DefaultFullTextConfig())
	ix.Insert("doc-1", "quick brown fox")
	dump := ix.ToMap()

	ix2 := NewFullTextIndex(DefaultFullTextConfig())
	ix2.LoadMap(dump)
	if got := ix2.Phrase([]string{"quick", "brown"}); len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("expected round-tripped phrase match, got %v", got)
	}
}
