package index

import (
	"fmt"
	"sync"

	"emberdb/dberr"
	"emberdb/elog"
	"emberdb/value"
)

// entry bundles a concrete index with the Kind tag IndexManager dispatches
// on, per the design note treating index kind as data rather than relying
// on interface type assertions.
type entry struct {
	kind     Kind
	ordered  *OrderedIndex
	hash     *HashIndex
	fullText *FullTextIndex
}

// Manager maintains field-name -> index-variant bindings for one
// collection and fans Insert/Remove/Update out to every registered index.
// Grounded on storage/binary/tag_index_persistence.go's per-collection
// fan-out pattern, generalized from a single tag index to one index per
// indexed field.
type Manager struct {
	mu        sync.RWMutex
	indexes   map[string]*entry
	persist   *Persistence
	log       *elog.Logger
}

// NewManager creates an index manager that persists through dir via
// persistence (nil disables persistence, useful for in-memory backends).
func NewManager(persist *Persistence, log *elog.Logger) *Manager {
	if log == nil {
		log = elog.Discard()
	}
	return &Manager{indexes: make(map[string]*entry), persist: persist, log: log}
}

// CreateIndex registers a new index of kind on field, with ftCfg used only
// when kind == KindFullText.
func (m *Manager) CreateIndex(field string, kind Kind, ftCfg FullTextConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[field]; ok {
		return fmt.Errorf("index: field %q: %w", field, dberr.ErrIndexAlreadyExists)
	}
	e := &entry{kind: kind}
	switch kind {
	case KindOrdered:
		e.ordered = NewOrderedIndex()
	case KindHash:
		e.hash = NewHashIndex()
	case KindFullText:
		e.fullText = NewFullTextIndex(ftCfg)
	default:
		return fmt.Errorf("index: unknown kind %v: %w", kind, dberr.ErrInvalidInput)
	}
	m.indexes[field] = e
	m.log.Debug("created %s index on field %q", kind, field)
	return nil
}

// RemoveIndex drops the index bound to field.
func (m *Manager) RemoveIndex(field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[field]; !ok {
		return fmt.Errorf("index: field %q: %w", field, dberr.ErrIndexNotFound)
	}
	delete(m.indexes, field)
	return nil
}

// HasIndex reports whether field has a registered index.
func (m *Manager) HasIndex(field string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[field]
	return ok
}

// GetKind returns the Kind bound to field, or false if none.
func (m *Manager) GetKind(field string) (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.indexes[field]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// IndexedFields lists every field with a registered index.
func (m *Manager) IndexedFields() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indexes))
	for f := range m.indexes {
		out = append(out, f)
	}
	return out
}

// Insert fans id's fields out to every registered index.
func (m *Manager) Insert(id string, fields map[string]value.Value) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for field, e := range m.indexes {
		switch e.kind {
		case KindOrdered:
			e.ordered.Insert(id, fields, field)
		case KindHash:
			e.hash.Insert(id, fields, field)
		case KindFullText:
			if v, ok := fieldValue(fields, field); ok {
				if s, ok := v.AsString(); ok {
					e.fullText.Insert(id, s)
				}
			}
		}
	}
}

// Remove fans id's removal out to every registered index, given its last
// known field values.
func (m *Manager) Remove(id string, fields map[string]value.Value) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for field, e := range m.indexes {
		switch e.kind {
		case KindOrdered:
			e.ordered.Remove(id, fields, field)
		case KindHash:
			e.hash.Remove(id, fields, field)
		case KindFullText:
			e.fullText.Remove(id)
		}
	}
}

// Update removes id's before-image from every index and reinserts its
// after-image, so stale postings never accumulate.
func (m *Manager) Update(id string, before, after map[string]value.Value) {
	m.Remove(id, before)
	m.Insert(id, after)
}

// Cardinality returns the distinct-key count for field's index.
func (m *Manager) Cardinality(field string) (int, error) {
	s, err := m.statsFor(field)
	if err != nil {
		return 0, err
	}
	return s.DistinctKeys, nil
}

// TotalEntries returns the total posting-entry count for field's index.
func (m *Manager) TotalEntries(field string) (int, error) {
	s, err := m.statsFor(field)
	if err != nil {
		return 0, err
	}
	return s.TotalEntries, nil
}

func (m *Manager) statsFor(field string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.indexes[field]
	if !ok {
		return Stats{}, fmt.Errorf("index: field %q: %w", field, dberr.ErrIndexNotFound)
	}
	switch e.kind {
	case KindOrdered:
		return e.ordered.Stats(), nil
	case KindHash:
		return e.hash.Stats(), nil
	case KindFullText:
		return e.fullText.Stats(), nil
	}
	return Stats{}, nil
}

// Ordered returns field's OrderedIndex, or false if field is not bound to
// an ordered index.
func (m *Manager) Ordered(field string) (*OrderedIndex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.indexes[field]
	if !ok || e.kind != KindOrdered {
		return nil, false
	}
	return e.ordered, true
}

// Hash returns field's HashIndex, or false if field is not bound to a hash
// index.
func (m *Manager) Hash(field string) (*HashIndex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.indexes[field]
	if !ok || e.kind != KindHash {
		return nil, false
	}
	return e.hash, true
}

// FullText returns field's FullTextIndex, or false if field is not bound to
// a full-text index.
func (m *Manager) FullText(field string) (*FullTextIndex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.indexes[field]
	if !ok || e.kind != KindFullText {
		return nil, false
	}
	return e.fullText, true
}

// Save persists every registered index through m.persist, keyed by
// collection and field.
func (m *Manager) Save(collection string) error {
	if m.persist == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for field, e := range m.indexes {
		var err error
		switch e.kind {
		case KindOrdered:
			err = m.persist.SaveOrdered(collection, field, e.ordered)
		case KindHash:
			err = m.persist.SaveHash(collection, field, e.hash)
		case KindFullText:
			err = m.persist.SaveFullText(collection, field, e.fullText)
		}
		if err != nil {
			m.log.Warn("index: save %s/%s failed, index remains valid in-memory: %v", collection, field, err)
		}
	}
	return nil
}

// Load restores field's index (of the given kind) from disk if a file
// exists, registering it in the manager. A missing file is not an error.
func (m *Manager) Load(collection, field string, kind Kind, ftCfg FullTextConfig) error {
	if m.persist == nil {
		return nil
	}
	switch kind {
	case KindOrdered:
		ix, err := m.persist.LoadOrdered(collection, field)
		if err != nil {
			return err
		}
		if ix == nil {
			return nil
		}
		m.mu.Lock()
		m.indexes[field] = &entry{kind: KindOrdered, ordered: ix}
		m.mu.Unlock()
	case KindHash:
		ix, err := m.persist.LoadHash(collection, field)
		if err != nil {
			return err
		}
		if ix == nil {
			return nil
		}
		m.mu.Lock()
		m.indexes[field] = &entry{kind: KindHash, hash: ix}
		m.mu.Unlock()
	case KindFullText:
		ix, err := m.persist.LoadFullText(collection, field, ftCfg)
		if err != nil {
			return err
		}
		if ix == nil {
			return nil
		}
		m.mu.Lock()
		m.indexes[field] = &entry{kind: KindFullText, fullText: ix}
		m.mu.Unlock()
	}
	return nil
}
