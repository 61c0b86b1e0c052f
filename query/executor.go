package query

import (
	"emberdb/index"
)

// Execute runs plan against mgr and returns the id set it produces, without
// consulting storage. FullScan plans cannot be executed this way (the
// caller owns the scan); Execute returns ok=false for them so the caller
// falls back to its own scan + Eval loop.
func Execute(plan Plan, mgr *index.Manager) (ids []string, ok bool) {
	switch plan.Strategy {
	case StrategyIndexSeek:
		return indexSeek(plan.Predicate, mgr)
	case StrategyIndexRange:
		return indexRange(plan.Predicate, mgr)
	case StrategyFullTextLookup:
		return fullTextLookup(plan.Predicate, mgr)
	case StrategyIntersection:
		driving, drivingOK := Execute(plan.Children[0], mgr)
		if !drivingOK {
			return nil, false
		}
		return driving, true
	case StrategyUnion:
		seen := make(map[string]bool)
		for _, c := range plan.Children {
			part, partOK := Execute(c, mgr)
			if !partOK {
				return nil, false
			}
			for _, id := range part {
				seen[id] = true
			}
		}
		out := make([]string, 0, len(seen))
		for id := range seen {
			out = append(out, id)
		}
		return out, true
	default:
		return nil, false
	}
}

func indexSeek(p Predicate, mgr *index.Manager) ([]string, bool) {
	if hash, ok := mgr.Hash(p.Field); ok {
		return hash.Search(p.Value), true
	}
	if ordered, ok := mgr.Ordered(p.Field); ok {
		return ordered.Search(p.Value), true
	}
	return nil, false
}

func indexRange(p Predicate, mgr *index.Manager) ([]string, bool) {
	ordered, ok := mgr.Ordered(p.Field)
	if !ok {
		return nil, false
	}
	switch p.Op {
	case OpGreaterThan:
		return ordered.GreaterThan(p.Value), true
	case OpGreaterThanOrEqual:
		return ordered.GreaterThanOrEqual(p.Value), true
	case OpLessThan:
		return ordered.LessThan(p.Value), true
	case OpLessThanOrEqual:
		return ordered.LessThanOrEqual(p.Value), true
	case OpBetween:
		return ordered.RangeSearch(p.Lo, p.Hi, true, true), true
	}
	return nil, false
}

// FullTextSets walks p's tree and resolves every distinct full-text leaf
// against mgr, keyed by fullTextKey. Find uses this once per call so
// EvalResidual can answer full-text leaves by a cheap set membership test
// instead of re-querying the index per candidate id.
func FullTextSets(p Predicate, mgr *index.Manager) map[string]map[string]bool {
	sets := make(map[string]map[string]bool)
	collectFullTextSets(p, mgr, sets)
	return sets
}

func collectFullTextSets(p Predicate, mgr *index.Manager, sets map[string]map[string]bool) {
	switch p.Op {
	case OpFullText, OpFullTextAny, OpFullTextPhrase, OpFullTextPrefix:
		key := fullTextKey(p)
		if _, ok := sets[key]; ok {
			return
		}
		ids, _ := fullTextLookup(p, mgr)
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		sets[key] = set
	default:
		for _, c := range p.Children {
			collectFullTextSets(c, mgr, sets)
		}
	}
}

func fullTextLookup(p Predicate, mgr *index.Manager) ([]string, bool) {
	ft, ok := mgr.FullText(p.Field)
	if !ok {
		return nil, false
	}
	switch p.Op {
	case OpFullText:
		return ft.AllTerms(p.Terms), true
	case OpFullTextAny:
		return ft.AnyTerm(p.Terms), true
	case OpFullTextPhrase:
		return ft.Phrase(p.Terms), true
	case OpFullTextPrefix:
		prefix, _ := p.Value.AsString()
		return ft.Prefix(prefix), true
	}
	return nil, false
}

// CountOnly reports whether plan can be answered by an index-only count
// (no id materialization), and the count if so. Used by
// Collection.CountWhere / ExistsWhere to prefer the cheap path spec.md
// §4.10 describes.
func CountOnly(plan Plan, mgr *index.Manager) (count int, ok bool) {
	p := plan.Predicate
	switch plan.Strategy {
	case StrategyIndexSeek:
		if hash, ok := mgr.Hash(p.Field); ok {
			return hash.CountEquals(p.Value), true
		}
		if ordered, ok := mgr.Ordered(p.Field); ok {
			return ordered.CountEquals(p.Value), true
		}
	case StrategyIndexRange:
		ordered, ok := mgr.Ordered(p.Field)
		if !ok {
			return 0, false
		}
		switch p.Op {
		case OpGreaterThan:
			return ordered.CountGreaterThan(p.Value), true
		case OpGreaterThanOrEqual:
			return ordered.CountGreaterThanOrEqual(p.Value), true
		case OpLessThan:
			return ordered.CountLessThan(p.Value), true
		case OpLessThanOrEqual:
			return ordered.CountLessThanOrEqual(p.Value), true
		case OpBetween:
			return ordered.CountRange(p.Lo, p.Hi, true, true), true
		}
	}
	return 0, false
}

// ExistsOnly reports whether plan can be answered by an index-only
// existence check.
func ExistsOnly(plan Plan, mgr *index.Manager) (exists bool, ok bool) {
	p := plan.Predicate
	if plan.Strategy != StrategyIndexSeek && plan.Strategy != StrategyIndexRange {
		return false, false
	}
	switch p.Op {
	case OpEquals:
		if hash, ok := mgr.Hash(p.Field); ok {
			return hash.ExistsEquals(p.Value), true
		}
		if ordered, ok := mgr.Ordered(p.Field); ok {
			return ordered.ExistsEquals(p.Value), true
		}
	case OpGreaterThan, OpGreaterThanOrEqual:
		if ordered, ok := mgr.Ordered(p.Field); ok {
			exists := ordered.ExistsGreaterThan(p.Value)
			if !exists && p.Op == OpGreaterThanOrEqual {
				exists = ordered.ExistsEquals(p.Value)
			}
			return exists, true
		}
	case OpLessThan, OpLessThanOrEqual:
		if ordered, ok := mgr.Ordered(p.Field); ok {
			exists := ordered.ExistsLessThan(p.Value)
			if !exists && p.Op == OpLessThanOrEqual {
				exists = ordered.ExistsEquals(p.Value)
			}
			return exists, true
		}
	}
	return false, false
}
