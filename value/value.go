// Package value defines emberdb's closed set of field values and the total
// ordering used consistently by predicate evaluation, the ordered index,
// and serialization.
package value

import (
	"bytes"
	"fmt"
	"time"
)

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindTime
	KindBlob
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindBlob:
		return "blob"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the closed sum type for entity field values: null, i64, f64,
// bool, UTF-8 string, UTC millisecond timestamp, binary blob, ordered list
// of Value, or string-keyed map of Value.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    time.Time
	blob []byte
	list []Value
	m    map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value     { return Value{kind: KindTime, t: t.UTC().Truncate(time.Millisecond)} }
func Blob(b []byte) Value        { return Value{kind: KindBlob, blob: append([]byte(nil), b...)} }
func List(vs []Value) Value      { return Value{kind: KindList, list: append([]Value(nil), vs...)} }
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool)   { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsString() (string, bool)      { return v.s, v.kind == KindString }
func (v Value) AsTime() (time.Time, bool)     { return v.t, v.kind == KindTime }
func (v Value) AsBlob() ([]byte, bool)        { return v.blob, v.kind == KindBlob }
func (v Value) AsList() ([]Value, bool)       { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// String renders a human-readable form; used for index-key stringification
// and debug output, not for round-tripping.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.blob))
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.m))
	default:
		return "?"
	}
}

// Equal reports whether two values are the same kind and content.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0 && a.kind == b.kind
}

// Compare implements the total order spec.md's ordered index and predicate
// evaluation rely on. Values of incompatible kinds are never equal and
// their relative order is defined only by Kind (so range scans over a
// single field, which is always kind-homogeneous in practice, behave as
// expected); numeric kinds (Int, Float) compare by numeric value across
// kinds so that mixed int/float fields still order sensibly.
func Compare(a, b Value) int {
	an, aIsNum := a.AsFloat()
	bn, bIsNum := b.AsFloat()
	if aIsNum && bIsNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindString:
		return compareStrings(a.s, b.s)
	case KindTime:
		if a.t.Before(b.t) {
			return -1
		}
		if a.t.After(b.t) {
			return 1
		}
		return 0
	case KindBlob:
		return bytes.Compare(a.blob, b.blob)
	case KindList:
		return compareLists(a.list, b.list)
	case KindMap:
		// Maps have no natural order; treat as equal-length-then-key
		// comparison so Compare is at least a consistent, if arbitrary,
		// total order (never used to drive an index).
		if len(a.m) != len(b.m) {
			if len(a.m) < len(b.m) {
				return -1
			}
			return 1
		}
		return 0
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareLists(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Comparable reports whether two values belong to kinds Compare can
// meaningfully order against each other (same kind, or both numeric).
// Predicate evaluation uses this to decide "does not match" vs. comparing.
func Comparable(a, b Value) bool {
	_, aNum := a.AsFloat()
	_, bNum := b.AsFloat()
	if aNum && bNum {
		return true
	}
	return a.kind == b.kind
}
