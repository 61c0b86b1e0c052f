package collection

import (
	"errors"
	"fmt"

	"emberdb/dberr"
	"emberdb/entity"
	"emberdb/index"
	"emberdb/query"
	"emberdb/storage"
	"emberdb/value"
)

// Insert adds a new entity under id, failing with dberr.ErrDuplicateID if
// id is already present.
func (c *Collection) Insert(id string, fields map[string]value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	if _, exists := c.cat.get(id); exists {
		return fmt.Errorf("collection: %s: %w", id, dberr.ErrDuplicateID)
	}
	return c.insertLocked(id, fields)
}

// checkEntitySize enforces c.cfg.MaxEntitySize against an entity's encoded
// byte form. Zero means unbounded (spec.md's config default disables this
// only when explicitly set to 0; Config.Default ships a 16 MiB cap).
func (c *Collection) checkEntitySize(id string, encoded []byte) error {
	if c.cfg.MaxEntitySize > 0 && int64(len(encoded)) > c.cfg.MaxEntitySize {
		return fmt.Errorf("collection: %s: encoded size %d exceeds max %d: %w",
			id, len(encoded), c.cfg.MaxEntitySize, dberr.ErrEntityTooLarge)
	}
	return nil
}

func (c *Collection) insertLocked(id string, fields map[string]value.Value) error {
	after, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if err := c.checkEntitySize(id, after); err != nil {
		return err
	}

	if c.wal != nil {
		txn, err := c.wal.BeginTransaction()
		if err != nil {
			return err
		}
		if _, err := c.wal.LogInsert(txn, c.name, id, after); err != nil {
			return err
		}
		if err := c.wal.CommitTransaction(txn); err != nil {
			return err
		}
	}

	pageID, err := writeRecord(c.pool, c.pager.PageSize(), after)
	if err != nil {
		return err
	}
	c.cat.set(id, pageID)
	c.indexes.Insert(id, fields)
	c.cache.InvalidateFields(entity.TouchedFields(nil, entity.New(id, fields)))
	return nil
}

// InsertMany inserts every (id, fields) pair, in map iteration order.
// Stops and returns the first error encountered, leaving prior
// insertions in place (spec.md does not ask for all-or-nothing batch
// semantics here — WAL per-entity commits already make each insert
// independently durable).
func (c *Collection) InsertMany(entities map[string]map[string]value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	for id, fields := range entities {
		if _, exists := c.cat.get(id); exists {
			return fmt.Errorf("collection: %s: %w", id, dberr.ErrDuplicateID)
		}
		if err := c.insertLocked(id, fields); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entity stored under id.
func (c *Collection) Get(id string) (*entity.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.getLocked(id)
}

func (c *Collection) getLocked(id string) (*entity.Entity, error) {
	pageID, ok := c.cat.get(id)
	if !ok {
		return nil, fmt.Errorf("collection: %s: %w", id, dberr.ErrNotFound)
	}
	payload, err := readRecord(c.pool, c.pager.PageSize(), pageID)
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(payload)
	if err != nil {
		return nil, err
	}
	return entity.New(id, fields), nil
}

// GetAll returns every entity in the collection, in no particular order.
func (c *Collection) GetAll() ([]*entity.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	ids := c.cat.ids()
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.getLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update replaces id's fields wholesale (replace-by-id, per spec.md §3 —
// entities are immutable in transit).
func (c *Collection) Update(id string, fields map[string]value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}

	pageID, ok := c.cat.get(id)
	if !ok {
		return fmt.Errorf("collection: %s: %w", id, dberr.ErrNotFound)
	}
	before, err := readRecord(c.pool, c.pager.PageSize(), pageID)
	if err != nil {
		return err
	}
	beforeFields, err := decodeFields(before)
	if err != nil {
		return err
	}
	after, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if err := c.checkEntitySize(id, after); err != nil {
		return err
	}

	if c.wal != nil {
		txn, err := c.wal.BeginTransaction()
		if err != nil {
			return err
		}
		if _, err := c.wal.LogUpdate(txn, c.name, id, before, after); err != nil {
			return err
		}
		if err := c.wal.CommitTransaction(txn); err != nil {
			return err
		}
	}

	if err := freeRecord(c.pager, c.pool, c.pager.PageSize(), pageID); err != nil {
		return err
	}
	newPageID, err := writeRecord(c.pool, c.pager.PageSize(), after)
	if err != nil {
		return err
	}
	c.cat.set(id, newPageID)
	c.indexes.Update(id, beforeFields, fields)
	c.cache.InvalidateFields(entity.TouchedFields(entity.New(id, beforeFields), entity.New(id, fields)))
	return nil
}

// Delete removes id from the collection.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}

	pageID, ok := c.cat.get(id)
	if !ok {
		return fmt.Errorf("collection: %s: %w", id, dberr.ErrNotFound)
	}
	before, err := readRecord(c.pool, c.pager.PageSize(), pageID)
	if err != nil {
		return err
	}
	beforeFields, err := decodeFields(before)
	if err != nil {
		return err
	}

	if c.wal != nil {
		txn, err := c.wal.BeginTransaction()
		if err != nil {
			return err
		}
		if _, err := c.wal.LogDelete(txn, c.name, id, before); err != nil {
			return err
		}
		if err := c.wal.CommitTransaction(txn); err != nil {
			return err
		}
	}

	if err := freeRecord(c.pager, c.pool, c.pager.PageSize(), pageID); err != nil {
		return err
	}
	c.cat.remove(id)
	c.indexes.Remove(id, beforeFields)
	c.cache.InvalidateFields(entity.TouchedFields(entity.New(id, beforeFields), nil))
	return nil
}

// DeleteAll removes every entity in the collection.
func (c *Collection) DeleteAll() error {
	c.mu.Lock()
	ids := c.cat.ids()
	c.mu.Unlock()
	for _, id := range ids {
		if err := c.Delete(id); err != nil && !errors.Is(err, dberr.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Count returns the number of entities in the collection.
func (c *Collection) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return 0, err
	}
	return c.cat.count(), nil
}

// CountWhere returns the number of entities matching p, preferring an
// index-only count when the optimizer finds one (spec.md §4.10).
func (c *Collection) CountWhere(p query.Predicate) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return 0, err
	}
	plan := c.opt.Explain(p)
	if count, ok := query.CountOnly(plan, c.indexes); ok {
		return count, nil
	}
	ids := c.cat.ids()
	n := 0
	for _, id := range ids {
		e, err := c.getLocked(id)
		if err != nil {
			return 0, err
		}
		if query.Eval(p, e) {
			n++
		}
	}
	return n, nil
}

// ExistsWhere reports whether any entity matches p, preferring an
// index-only existence check when possible.
func (c *Collection) ExistsWhere(p query.Predicate) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireOpen(); err != nil {
		return false, err
	}
	plan := c.opt.Explain(p)
	if exists, ok := query.ExistsOnly(plan, c.indexes); ok {
		return exists, nil
	}
	for _, id := range c.cat.ids() {
		e, err := c.getLocked(id)
		if err != nil {
			return false, err
		}
		if query.Eval(p, e) {
			return true, nil
		}
	}
	return false, nil
}

// Find returns every entity matching p, consulting (and populating) the
// query cache and preferring an indexed plan over a full scan.
func (c *Collection) Find(p query.Predicate) ([]*entity.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return nil, err
	}

	if ids, hit := c.cache.Get(p); hit {
		return c.materialize(ids)
	}

	plan := c.opt.Explain(p)
	candidateIDs, exact := query.Execute(plan, c.indexes)
	if !exact {
		candidateIDs = c.cat.ids()
	}

	needsResidualFilter := !exact || plan.Strategy == query.StrategyIntersection
	var resultIDs []string
	if needsResidualFilter {
		var fullText map[string]map[string]bool
		if p.HasFullText() {
			fullText = query.FullTextSets(p, c.indexes)
		}
		for _, id := range candidateIDs {
			e, err := c.getLocked(id)
			if err != nil {
				return nil, err
			}
			if query.EvalResidual(p, id, e, fullText) {
				resultIDs = append(resultIDs, id)
			}
		}
	} else {
		resultIDs = candidateIDs
	}

	c.cache.Put(p, resultIDs)
	return c.materialize(resultIDs)
}

func (c *Collection) materialize(ids []string) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.getLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindOne returns the first entity matching p, or dberr.ErrNotFound if
// none does.
func (c *Collection) FindOne(p query.Predicate) (*entity.Entity, error) {
	results, err := c.Find(p)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, dberr.ErrNotFound
	}
	return results[0], nil
}

// CreateIndex builds field's index of the given kind from the collection's
// current contents.
func (c *Collection) CreateIndex(field string, kind index.Kind, ftCfg index.FullTextConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	if err := c.indexes.CreateIndex(field, kind, ftCfg); err != nil {
		return err
	}
	for _, id := range c.cat.ids() {
		e, err := c.getLocked(id)
		if err != nil {
			return err
		}
		c.indexes.Insert(id, e.Fields)
	}
	return nil
}

// DropIndex removes field's index.
func (c *Collection) DropIndex(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.indexes.RemoveIndex(field)
}

// Explain returns the plan the optimizer would choose for p, for
// diagnostics and tests.
func (c *Collection) Explain(p query.Predicate) query.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opt.Explain(p)
}

// RedoInsert implements storage.RedoHandler.
func (c *Collection) RedoInsert(collectionName, id string, after []byte) error {
	if collectionName != c.name {
		return nil
	}
	fields, err := decodeFields(after)
	if err != nil {
		return err
	}
	if _, exists := c.cat.get(id); exists {
		return c.redoReplace(id, fields)
	}
	pageID, err := writeRecord(c.pool, c.pager.PageSize(), after)
	if err != nil {
		return err
	}
	c.cat.set(id, pageID)
	c.indexes.Insert(id, fields)
	return nil
}

// RedoUpdate implements storage.RedoHandler.
func (c *Collection) RedoUpdate(collectionName, id string, before, after []byte) error {
	if collectionName != c.name {
		return nil
	}
	fields, err := decodeFields(after)
	if err != nil {
		return err
	}
	return c.redoReplace(id, fields)
}

// RedoDelete implements storage.RedoHandler.
func (c *Collection) RedoDelete(collectionName, id string, before []byte) error {
	if collectionName != c.name {
		return nil
	}
	pageID, ok := c.cat.get(id)
	if !ok {
		return nil
	}
	beforeFields, err := decodeFields(before)
	if err != nil {
		return err
	}
	if err := freeRecord(c.pager, c.pool, c.pager.PageSize(), pageID); err != nil {
		return err
	}
	c.cat.remove(id)
	c.indexes.Remove(id, beforeFields)
	return nil
}

func (c *Collection) redoReplace(id string, fields map[string]value.Value) error {
	after, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if oldPageID, exists := c.cat.get(id); exists {
		if err := freeRecord(c.pager, c.pool, c.pager.PageSize(), oldPageID); err != nil {
			return err
		}
	}
	pageID, err := writeRecord(c.pool, c.pager.PageSize(), after)
	if err != nil {
		return err
	}
	c.cat.set(id, pageID)
	c.indexes.Insert(id, fields)
	return nil
}

var _ storage.RedoHandler = (*Collection)(nil)
