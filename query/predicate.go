// Package query implements emberdb's predicate algebra, cost-based plan
// selection, and direct predicate evaluation over entities.
package query

import (
	"strconv"
	"strings"

	"emberdb/entity"
	"emberdb/value"
)

// Op tags which predicate variant a Predicate node holds, the sum type
// described in spec.md §4.11.
type Op int

const (
	OpEquals Op = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpBetween
	OpIn
	OpContains
	OpPrefix
	OpFullText
	OpFullTextAny
	OpFullTextPhrase
	OpFullTextPrefix
	OpAnd
	OpOr
	OpNot
)

// Predicate is the closed sum type the query layer builds and evaluates:
// exactly one of the Op-specific fields is meaningful for any given node,
// selected by Op. Built via the constructor functions below rather than
// struct literals, matching the design note's guidance to treat the
// predicate shape like a tagged union rather than an open interface
// hierarchy.
type Predicate struct {
	Op       Op
	Field    string
	Value    value.Value
	Lo, Hi   value.Value
	Values   []value.Value
	Terms    []string
	Children []Predicate
}

func Equals(field string, v value.Value) Predicate {
	return Predicate{Op: OpEquals, Field: field, Value: v}
}
func NotEquals(field string, v value.Value) Predicate {
	return Predicate{Op: OpNotEquals, Field: field, Value: v}
}
func GreaterThan(field string, v value.Value) Predicate {
	return Predicate{Op: OpGreaterThan, Field: field, Value: v}
}
func GreaterThanOrEqual(field string, v value.Value) Predicate {
	return Predicate{Op: OpGreaterThanOrEqual, Field: field, Value: v}
}
func LessThan(field string, v value.Value) Predicate {
	return Predicate{Op: OpLessThan, Field: field, Value: v}
}
func LessThanOrEqual(field string, v value.Value) Predicate {
	return Predicate{Op: OpLessThanOrEqual, Field: field, Value: v}
}
func Between(field string, lo, hi value.Value) Predicate {
	return Predicate{Op: OpBetween, Field: field, Lo: lo, Hi: hi}
}
func In(field string, vs []value.Value) Predicate {
	return Predicate{Op: OpIn, Field: field, Values: vs}
}
func Contains(field string, v value.Value) Predicate {
	return Predicate{Op: OpContains, Field: field, Value: v}
}
func Prefix(field string, v value.Value) Predicate {
	return Predicate{Op: OpPrefix, Field: field, Value: v}
}
func FullText(field, query string) Predicate {
	return Predicate{Op: OpFullText, Field: field, Terms: strings.Fields(query)}
}
func FullTextAny(field string, terms []string) Predicate {
	return Predicate{Op: OpFullTextAny, Field: field, Terms: terms}
}
func FullTextPhrase(field, phrase string) Predicate {
	return Predicate{Op: OpFullTextPhrase, Field: field, Terms: strings.Fields(phrase)}
}
func FullTextPrefix(field, prefix string) Predicate {
	return Predicate{Op: OpFullTextPrefix, Field: field, Value: value.String(prefix)}
}
func And(children ...Predicate) Predicate {
	return Predicate{Op: OpAnd, Children: children}
}
func Or(children ...Predicate) Predicate {
	return Predicate{Op: OpOr, Children: children}
}
func Not(child Predicate) Predicate {
	return Predicate{Op: OpNot, Children: []Predicate{child}}
}

// Fields returns every field name this predicate (and its descendants)
// references, used by QueryCache's selective invalidation to decide
// whether a write's touched-field set can stale a cached entry.
func (p Predicate) Fields() map[string]bool {
	out := make(map[string]bool)
	p.collectFields(out)
	return out
}

func (p Predicate) collectFields(out map[string]bool) {
	if p.Field != "" {
		out[p.Field] = true
	}
	for _, c := range p.Children {
		c.collectFields(out)
	}
}

// HasFullText reports whether p or any descendant is a full-text Op. Used
// by Collection.Find to decide whether to build the FullTextSets that
// EvalResidual consults during residual filtering, since Eval never
// matches full-text leaves on its own (they're index-only).
func (p Predicate) HasFullText() bool {
	switch p.Op {
	case OpFullText, OpFullTextAny, OpFullTextPhrase, OpFullTextPrefix:
		return true
	}
	for _, c := range p.Children {
		if c.HasFullText() {
			return true
		}
	}
	return false
}

// Eval reports whether e matches p directly, without touching any index.
// Used by Collection.Find as the baseline full-scan evaluator, and by the
// optimizer's driving-index + residual-filter strategy to check the
// non-driving conjuncts of an And.
func Eval(p Predicate, e *entity.Entity) bool {
	switch p.Op {
	case OpEquals:
		v, ok := e.Get(p.Field)
		return ok && value.Comparable(v, p.Value) && value.Compare(v, p.Value) == 0
	case OpNotEquals:
		v, ok := e.Get(p.Field)
		if !ok {
			return true
		}
		return !value.Comparable(v, p.Value) || value.Compare(v, p.Value) != 0
	case OpGreaterThan:
		v, ok := e.Get(p.Field)
		return ok && value.Comparable(v, p.Value) && value.Compare(v, p.Value) > 0
	case OpGreaterThanOrEqual:
		v, ok := e.Get(p.Field)
		return ok && value.Comparable(v, p.Value) && value.Compare(v, p.Value) >= 0
	case OpLessThan:
		v, ok := e.Get(p.Field)
		return ok && value.Comparable(v, p.Value) && value.Compare(v, p.Value) < 0
	case OpLessThanOrEqual:
		v, ok := e.Get(p.Field)
		return ok && value.Comparable(v, p.Value) && value.Compare(v, p.Value) <= 0
	case OpBetween:
		v, ok := e.Get(p.Field)
		if !ok {
			return false
		}
		if !p.Lo.IsNull() && (!value.Comparable(v, p.Lo) || value.Compare(v, p.Lo) < 0) {
			return false
		}
		if !p.Hi.IsNull() && (!value.Comparable(v, p.Hi) || value.Compare(v, p.Hi) > 0) {
			return false
		}
		return true
	case OpIn:
		v, ok := e.Get(p.Field)
		if !ok {
			return false
		}
		for _, cand := range p.Values {
			if value.Comparable(v, cand) && value.Compare(v, cand) == 0 {
				return true
			}
		}
		return false
	case OpContains:
		v, ok := e.Get(p.Field)
		if !ok {
			return false
		}
		if s, isStr := v.AsString(); isStr {
			if target, isTargetStr := p.Value.AsString(); isTargetStr {
				return strings.Contains(s, target)
			}
		}
		if list, isList := v.AsList(); isList {
			for _, item := range list {
				if value.Comparable(item, p.Value) && value.Compare(item, p.Value) == 0 {
					return true
				}
			}
		}
		return false
	case OpPrefix:
		v, ok := e.Get(p.Field)
		if !ok {
			return false
		}
		s, isStr := v.AsString()
		prefix, isPrefixStr := p.Value.AsString()
		return isStr && isPrefixStr && strings.HasPrefix(s, prefix)
	case OpFullText, OpFullTextAny, OpFullTextPhrase, OpFullTextPrefix:
		// Full-text predicates are index-only: without a FullTextIndex there
		// is no tokenizer to evaluate against, so a bare scan never matches.
		// The optimizer always routes these through IndexManager instead.
		return false
	case OpAnd:
		for _, c := range p.Children {
			if !Eval(c, e) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if Eval(c, e) {
				return true
			}
		}
		return false
	case OpNot:
		return !Eval(p.Children[0], e)
	default:
		return false
	}
}

// EvalResidual evaluates p against (id, e) the way Eval does, except
// full-text leaves are answered by a membership check against fullText
// (see FullTextSets) instead of unconditionally failing. Find uses this
// for residual filtering after an index-driven lookup, where a full-text
// leaf may or may not be the conjunct that drove the candidate set: a
// non-driving full-text sibling still needs checking, and plain Eval can't
// do that (its OpFullText case always returns false, since a bare scan has
// no index to consult).
func EvalResidual(p Predicate, id string, e *entity.Entity, fullText map[string]map[string]bool) bool {
	switch p.Op {
	case OpFullText, OpFullTextAny, OpFullTextPhrase, OpFullTextPrefix:
		return fullText[fullTextKey(p)][id]
	case OpAnd:
		for _, c := range p.Children {
			if !EvalResidual(c, id, e, fullText) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if EvalResidual(c, id, e, fullText) {
				return true
			}
		}
		return false
	case OpNot:
		return !EvalResidual(p.Children[0], id, e, fullText)
	default:
		return Eval(p, e)
	}
}

// fullTextKey identifies a full-text leaf by its field, operator, terms,
// and (for OpFullTextPrefix) its prefix value, so FullTextSets can dedupe
// repeated identical leaves within one predicate tree.
func fullTextKey(p Predicate) string {
	prefix, _ := p.Value.AsString()
	return p.Field + "\x00" + strconv.Itoa(int(p.Op)) + "\x00" + strings.Join(p.Terms, "\x00") + "\x00" + prefix
}
