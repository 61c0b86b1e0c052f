package index

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// FullTextConfig configures tokenization and search behavior, per spec.md
// §4.7: min/max token length, case sensitivity, the separator pattern, a
// stop-word set, and whether position lists are tracked (required for
// phrase and proximity search).
type FullTextConfig struct {
	MinTokenLength int
	MaxTokenLength int
	CaseSensitive  bool
	Separator      *regexp.Regexp
	StopWords      map[string]bool
	EnablePositions bool
}

// DefaultFullTextConfig matches the common case: split on runs of
// non-alphanumerics, lowercase, 2-32 byte tokens, positions on, no
// stop words.
func DefaultFullTextConfig() FullTextConfig {
	return FullTextConfig{
		MinTokenLength:  2,
		MaxTokenLength:  32,
		CaseSensitive:   false,
		Separator:       regexp.MustCompile(`[^\p{L}\p{N}]+`),
		StopWords:       map[string]bool{},
		EnablePositions: true,
	}
}

// posting is one term's occurrences within a single document.
type posting struct {
	positions []int
}

// FullTextIndex is an inverted full-text index: a forward index (id →
// tokens, for cheap removal) and an inverted index (term → id → positions).
// Grounded on storage/binary/namespace_index.go's two-map (forward +
// inverted) shape, generalized from tag namespaces to tokenized text and
// extended with TF-IDF ranking per spec.md §4.7.
type FullTextIndex struct {
	mu       sync.RWMutex
	cfg      FullTextConfig
	forward  map[string][]string            // id -> tokens in document order
	inverted map[string]map[string]*posting // term -> id -> posting
}

// NewFullTextIndex creates an empty full-text index with cfg.
func NewFullTextIndex(cfg FullTextConfig) *FullTextIndex {
	return &FullTextIndex{
		cfg:      cfg,
		forward:  make(map[string][]string),
		inverted: make(map[string]map[string]*posting),
	}
}

func (ix *FullTextIndex) Kind() Kind { return KindFullText }

// Tokenize splits text per the index's configuration: split on the
// separator, optionally lowercase, drop tokens outside the length bounds
// or in the stop-word set. Positions are assigned post-filter, so they are
// contiguous indices among retained tokens only.
func (ix *FullTextIndex) Tokenize(text string) []string {
	raw := ix.cfg.Separator.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok == "" {
			continue
		}
		if !ix.cfg.CaseSensitive {
			tok = strings.ToLower(tok)
		}
		if len(tok) < ix.cfg.MinTokenLength || len(tok) > ix.cfg.MaxTokenLength {
			continue
		}
		if ix.cfg.StopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func (ix *FullTextIndex) normalize(term string) string {
	if !ix.cfg.CaseSensitive {
		return strings.ToLower(term)
	}
	return term
}

// Insert tokenizes text and indexes it under id, replacing any prior
// document id held.
func (ix *FullTextIndex) Insert(id string, text string) {
	tokens := ix.Tokenize(text)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
	if len(tokens) == 0 {
		return
	}
	ix.forward[id] = tokens
	for pos, tok := range tokens {
		byID, ok := ix.inverted[tok]
		if !ok {
			byID = make(map[string]*posting)
			ix.inverted[tok] = byID
		}
		p, ok := byID[id]
		if !ok {
			p = &posting{}
			byID[id] = p
		}
		if ix.cfg.EnablePositions {
			p.positions = append(p.positions, pos)
		}
	}
}

// Remove drops id from the index, using the forward index to find affected
// terms in one pass.
func (ix *FullTextIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *FullTextIndex) removeLocked(id string) {
	tokens, ok := ix.forward[id]
	if !ok {
		return
	}
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if byID, ok := ix.inverted[tok]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(ix.inverted, tok)
			}
		}
	}
	delete(ix.forward, id)
}

// Term returns ids where the normalized term appears.
func (ix *FullTextIndex) Term(term string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.idsForTermLocked(ix.normalize(term))
}

func (ix *FullTextIndex) idsForTermLocked(term string) []string {
	byID, ok := ix.inverted[term]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byID))
	for id := range byID {
		out = append(out, id)
	}
	return out
}

// AllTerms returns ids containing every given term (AND).
func (ix *FullTextIndex) AllTerms(terms []string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.intersectLocked(terms)
}

func (ix *FullTextIndex) intersectLocked(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	var sets []map[string]bool
	for _, t := range terms {
		byID, ok := ix.inverted[ix.normalize(t)]
		if !ok {
			return nil
		}
		set := make(map[string]bool, len(byID))
		for id := range byID {
			set[id] = true
		}
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	out := make([]string, 0)
	for id := range sets[0] {
		all := true
		for _, s := range sets[1:] {
			if !s[id] {
				all = false
				break
			}
		}
		if all {
			out = append(out, id)
		}
	}
	return out
}

// AnyTerm returns ids containing at least one given term (OR).
func (ix *FullTextIndex) AnyTerm(terms []string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[string]bool)
	for _, t := range terms {
		for id := range ix.inverted[ix.normalize(t)] {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Phrase returns ids containing terms as a contiguous phrase, requiring
// positions. For each AND-candidate id, it checks whether some starting
// position p in the first term's posting satisfies (p+i) being in the
// i-th term's posting for every i>0.
func (ix *FullTextIndex) Phrase(terms []string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.cfg.EnablePositions || len(terms) == 0 {
		return nil
	}
	candidates := ix.intersectLocked(terms)
	normTerms := make([]string, len(terms))
	for i, t := range terms {
		normTerms[i] = ix.normalize(t)
	}
	var out []string
	for _, id := range candidates {
		first := ix.inverted[normTerms[0]][id]
		if first == nil {
			continue
		}
		for _, p := range first.positions {
			matched := true
			for i := 1; i < len(normTerms); i++ {
				post := ix.inverted[normTerms[i]][id]
				if post == nil || !containsInt(post.positions, p+i) {
					matched = false
					break
				}
			}
			if matched {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Prefix scans the vocabulary for terms starting with the normalized
// prefix and unions their postings.
func (ix *FullTextIndex) Prefix(prefix string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	norm := ix.normalize(prefix)
	seen := make(map[string]bool)
	for term, byID := range ix.inverted {
		if strings.HasPrefix(term, norm) {
			for id := range byID {
				seen[id] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Proximity returns AND-candidate ids where some occurrence of each term
// falls within maxDistance of the others: k sorted position lists are
// merged with k pointers, always advancing the minimum pointer, succeeding
// as soon as maxPos-minPos <= maxDistance.
func (ix *FullTextIndex) Proximity(terms []string, maxDistance int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.cfg.EnablePositions || len(terms) == 0 {
		return nil
	}
	candidates := ix.intersectLocked(terms)
	normTerms := make([]string, len(terms))
	for i, t := range terms {
		normTerms[i] = ix.normalize(t)
	}
	var out []string
	for _, id := range candidates {
		lists := make([][]int, len(normTerms))
		ptrs := make([]int, len(normTerms))
		ok := true
		for i, t := range normTerms {
			post := ix.inverted[t][id]
			if post == nil || len(post.positions) == 0 {
				ok = false
				break
			}
			sorted := append([]int(nil), post.positions...)
			sort.Ints(sorted)
			lists[i] = sorted
		}
		if !ok {
			continue
		}
		if proximityMatch(lists, ptrs, maxDistance) {
			out = append(out, id)
		}
	}
	return out
}

func proximityMatch(lists [][]int, ptrs []int, maxDistance int) bool {
	for {
		minIdx, maxIdx := 0, 0
		for i := range lists {
			if lists[i][ptrs[i]] < lists[minIdx][ptrs[minIdx]] {
				minIdx = i
			}
			if lists[i][ptrs[i]] > lists[maxIdx][ptrs[maxIdx]] {
				maxIdx = i
			}
		}
		if lists[maxIdx][ptrs[maxIdx]]-lists[minIdx][ptrs[minIdx]] <= maxDistance {
			return true
		}
		ptrs[minIdx]++
		if ptrs[minIdx] >= len(lists[minIdx]) {
			return false
		}
	}
}

// RankedResult is one scored hit from Ranked search.
type RankedResult struct {
	ID    string
	Score float64
}

// Ranked scores each candidate id by summed TF-IDF-style contribution per
// query term: (1 + log2(tf)) * clamp(log2(N/df), 0, 100), returning results
// sorted by descending score.
func (ix *FullTextIndex) Ranked(terms []string) []RankedResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := float64(len(ix.forward))
	if n == 0 {
		return nil
	}
	scores := make(map[string]float64)
	for _, t := range terms {
		norm := ix.normalize(t)
		byID, ok := ix.inverted[norm]
		if !ok || len(byID) == 0 {
			continue
		}
		df := float64(len(byID))
		idf := clamp(math.Log2(n/df), 0, 100)
		for id, p := range byID {
			tf := float64(len(p.positions))
			if tf == 0 {
				tf = 1 // positions disabled: term presence counts as tf=1
			}
			scores[id] += (1 + math.Log2(tf)) * idf
		}
	}
	out := make([]RankedResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, RankedResult{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Stats reports distinct-term count and total (term, doc) posting pairs.
func (ix *FullTextIndex) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	total := 0
	for _, byID := range ix.inverted {
		total += len(byID)
	}
	return Stats{DistinctKeys: len(ix.inverted), TotalEntries: total}
}

// FullTextDump is the on-disk shape IndexPersistence writes for a full-text
// index: the forward index plus the inverted index's positions.
type FullTextDump struct {
	Forward  map[string][]string          `cbor:"forward"`
	Inverted map[string]map[string][]int `cbor:"inverted"`
}

// ToMap serializes the live index's forward and inverted maps.
func (ix *FullTextIndex) ToMap() FullTextDump {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	dump := FullTextDump{
		Forward:  make(map[string][]string, len(ix.forward)),
		Inverted: make(map[string]map[string][]int, len(ix.inverted)),
	}
	for id, toks := range ix.forward {
		dump.Forward[id] = append([]string(nil), toks...)
	}
	for term, byID := range ix.inverted {
		m := make(map[string][]int, len(byID))
		for id, p := range byID {
			m[id] = append([]int(nil), p.positions...)
		}
		dump.Inverted[term] = m
	}
	return dump
}

// LoadMap restores a full-text index from a previously-serialized dump.
func (ix *FullTextIndex) LoadMap(dump FullTextDump) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.forward = make(map[string][]string, len(dump.Forward))
	for id, toks := range dump.Forward {
		ix.forward[id] = append([]string(nil), toks...)
	}
	ix.inverted = make(map[string]map[string]*posting, len(dump.Inverted))
	for term, byID := range dump.Inverted {
		m := make(map[string]*posting, len(byID))
		for id, positions := range byID {
			m[id] = &posting{positions: append([]int(nil), positions...)}
		}
		ix.inverted[term] = m
	}
}
