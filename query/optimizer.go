package query

import (
	"math"

	"emberdb/index"
)

// Optimizer chooses a Plan for a Predicate against a collection's
// IndexManager, per spec.md §4.11's cost model: full-scan cost = N;
// index-seek = log N + match-count; index-range = log N + match-count;
// full-text = query-term-count + avg-posting-size. It never chooses an
// index whose kind does not support the intent (the design note on
// polymorphism over index kinds: Kind is data, dispatched on, not an
// identity check).
type Optimizer struct {
	mgr   *index.Manager
	count func() int // current collection entity count, for full-scan cost
}

// NewOptimizer creates an Optimizer over mgr, with count reporting the live
// collection size (used only for FullScan's cost estimate).
func NewOptimizer(mgr *index.Manager, count func() int) *Optimizer {
	return &Optimizer{mgr: mgr, count: count}
}

func logN(n int) float64 {
	if n <= 1 {
		return 0
	}
	return math.Log2(float64(n))
}

// Explain returns the chosen Plan for p without executing it.
func (o *Optimizer) Explain(p Predicate) Plan {
	return o.plan(p)
}

func (o *Optimizer) fullScanCost() float64 {
	return float64(o.count())
}

func (o *Optimizer) plan(p Predicate) Plan {
	switch p.Op {
	case OpEquals:
		return o.equalityPlan(p)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpBetween:
		return o.rangePlan(p)
	case OpFullText, OpFullTextAny, OpFullTextPhrase, OpFullTextPrefix:
		return o.fullTextPlan(p)
	case OpAnd:
		return o.andPlan(p)
	case OpOr:
		return o.orPlan(p)
	default:
		return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
	}
}

// equalityPlan prefers a hash index over an ordered one for equality
// (tie-break rule in spec.md §4.11); either beats a full scan whenever one
// exists.
func (o *Optimizer) equalityPlan(p Predicate) Plan {
	if kind, ok := o.mgr.GetKind(p.Field); ok {
		switch kind {
		case index.KindHash, index.KindOrdered:
			card, _ := o.mgr.Cardinality(p.Field)
			total, _ := o.mgr.TotalEntries(p.Field)
			matchCost := 0.0
			if card > 0 {
				matchCost = float64(total) / float64(card)
			}
			return Plan{
				Strategy:      StrategyIndexSeek,
				DrivingField:  p.Field,
				EstimatedCost: logN(o.count()) + matchCost,
				Predicate:     p,
			}
		}
	}
	return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
}

func (o *Optimizer) rangePlan(p Predicate) Plan {
	if kind, ok := o.mgr.GetKind(p.Field); ok && kind == index.KindOrdered {
		_, totalEntries := o.indexSizes(p.Field)
		return Plan{
			Strategy:      StrategyIndexRange,
			DrivingField:  p.Field,
			EstimatedCost: logN(o.count()) + float64(totalEntries)/2,
			Predicate:     p,
		}
	}
	return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
}

func (o *Optimizer) fullTextPlan(p Predicate) Plan {
	if kind, ok := o.mgr.GetKind(p.Field); ok && kind == index.KindFullText {
		_, totalEntries := o.indexSizes(p.Field)
		terms := len(p.Terms)
		if terms == 0 {
			terms = 1
		}
		avgPosting := 0.0
		if card, _ := o.mgr.Cardinality(p.Field); card > 0 {
			avgPosting = float64(totalEntries) / float64(card)
		}
		return Plan{
			Strategy:      StrategyFullTextLookup,
			DrivingField:  p.Field,
			EstimatedCost: float64(terms) + avgPosting,
			Predicate:     p,
		}
	}
	return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
}

func (o *Optimizer) indexSizes(field string) (int, int) {
	card, _ := o.mgr.Cardinality(field)
	total, _ := o.mgr.TotalEntries(field)
	return card, total
}

// andPlan drives off the cheapest child with a usable index (preferring
// higher cardinality when costs tie, per the tie-break rule), evaluating
// every other conjunct as a residual filter over the driving child's id
// set.
func (o *Optimizer) andPlan(p Predicate) Plan {
	children := make([]Plan, len(p.Children))
	best := -1
	for i, c := range p.Children {
		children[i] = o.plan(c)
		if children[i].Strategy == StrategyFullScan {
			continue
		}
		if best == -1 || children[i].EstimatedCost < children[best].EstimatedCost {
			best = i
		} else if children[i].EstimatedCost == children[best].EstimatedCost {
			if o.moreSelective(children[i], children[best]) {
				best = i
			}
		}
	}
	if best == -1 {
		return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
	}
	driving := children[best]
	return Plan{
		Strategy:      StrategyIntersection,
		DrivingField:  driving.DrivingField,
		EstimatedCost: driving.EstimatedCost,
		Children:      []Plan{driving},
		Predicate:     p,
	}
}

// moreSelective prefers the plan whose driving field has higher cardinality
// (more distinct keys => more selective a single seek is).
func (o *Optimizer) moreSelective(a, b Plan) bool {
	ca, _ := o.mgr.Cardinality(a.DrivingField)
	cb, _ := o.mgr.Cardinality(b.DrivingField)
	return ca > cb
}

// orPlan uses an index plan per child when every child has one; otherwise
// it falls back to a single full scan of the whole Or, since a partial
// index plan still requires scanning for the un-indexed branches.
func (o *Optimizer) orPlan(p Predicate) Plan {
	children := make([]Plan, len(p.Children))
	allIndexed := true
	for i, c := range p.Children {
		children[i] = o.plan(c)
		if children[i].Strategy == StrategyFullScan {
			allIndexed = false
		}
	}
	if !allIndexed {
		return Plan{Strategy: StrategyFullScan, EstimatedCost: o.fullScanCost(), Predicate: p}
	}
	total := 0.0
	for _, c := range children {
		total += c.EstimatedCost
	}
	return Plan{Strategy: StrategyUnion, EstimatedCost: total, Children: children, Predicate: p}
}
