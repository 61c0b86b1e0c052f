package query

// Strategy names how a Plan intends to produce its id set.
type Strategy int

const (
	StrategyIndexSeek Strategy = iota
	StrategyIndexRange
	StrategyFullTextLookup
	StrategyFullScan
	StrategyIntersection
	StrategyUnion
)

func (s Strategy) String() string {
	switch s {
	case StrategyIndexSeek:
		return "IndexSeek"
	case StrategyIndexRange:
		return "IndexRange"
	case StrategyFullTextLookup:
		return "FullTextLookup"
	case StrategyFullScan:
		return "FullScan"
	case StrategyIntersection:
		return "Intersection"
	case StrategyUnion:
		return "Union"
	default:
		return "Unknown"
	}
}

// Plan describes how the optimizer intends to execute a predicate, without
// executing it: the strategy chosen, the field driving an index-based
// strategy (if any), an estimated cost, and child plans for composite
// strategies (Intersection/Union). Explain returns a Plan built this way so
// a caller can inspect the decision before Find actually runs it.
type Plan struct {
	Strategy      Strategy
	DrivingField  string
	EstimatedCost float64
	Children      []Plan
	Predicate     Predicate
}
