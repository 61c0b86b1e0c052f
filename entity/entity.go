// Package entity defines emberdb's schema-less record type.
//
// An Entity is an opaque {id, fields} record, grounded on the shape of
// osakka-entitydb's models.Entity but with field values drawn from
// value.Value's closed sum type (spec.md §3) instead of that teacher's
// flat timestamped-tag strings.
package entity

import "emberdb/value"

// Entity is an immutable-in-transit record: mutation is always
// replace-by-id via Collection.Update, never in-place field mutation.
type Entity struct {
	ID     string
	Fields map[string]value.Value
}

// New builds an Entity from a field map, copying it so later mutation of
// the caller's map cannot reach back into the Entity.
func New(id string, fields map[string]value.Value) *Entity {
	cp := make(map[string]value.Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entity{ID: id, Fields: cp}
}

// Clone returns a deep-enough copy (field map copied; Value is already
// copy-safe) suitable for handing to a caller without risking aliasing
// emberdb's internal storage.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return New(e.ID, e.Fields)
}

// Get returns the value at field, and whether the field is present at all
// (as opposed to present-but-null).
func (e *Entity) Get(field string) (value.Value, bool) {
	v, ok := e.Fields[field]
	return v, ok
}

// TouchedFields returns the set of field names that differ (by presence or
// value) between before and after, used to drive selective query-cache
// invalidation (spec.md §4.12) and index fan-out diffing.
func TouchedFields(before, after *Entity) map[string]bool {
	touched := make(map[string]bool)
	if before != nil {
		for f, v := range before.Fields {
			if after == nil {
				touched[f] = true
				continue
			}
			av, ok := after.Fields[f]
			if !ok || !value.Equal(v, av) {
				touched[f] = true
			}
		}
	}
	if after != nil {
		for f, v := range after.Fields {
			if before == nil {
				touched[f] = true
				continue
			}
			bv, ok := before.Fields[f]
			if !ok || !value.Equal(bv, v) {
				touched[f] = true
			}
		}
	}
	return touched
}
