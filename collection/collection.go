// Package collection implements emberdb's per-collection CRUD layer:
// typed storage over a Pager+BufferPool+WAL triple, fan-out into an
// index.Manager, cost-based query execution via query.Optimizer, and a
// cache.QueryCache kept coherent by selective invalidation on write.
//
// Grounded on osakka-entitydb's repository layer (open/close lifecycle,
// RedoHandler-style crash recovery hookup) generalized from that
// teacher's tag-entity model to spec.md's typed Value fields.
package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"emberdb/config"
	"emberdb/dberr"
	"emberdb/elog"
	"emberdb/index"
	"emberdb/query"
	"emberdb/storage"
	"emberdb/value"

	cachepkg "emberdb/cache"
)

// State is a Collection's lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateOpen
	StateClosed
)

// Collection is a named, typed container of entities backed by its own
// page file, WAL, and index set.
type Collection struct {
	mu    sync.RWMutex
	state State

	name       string
	entityType string
	cfg        *config.Config
	log        *elog.Logger

	pager *storage.Pager
	pool  *storage.BufferPool
	wal   *storage.WAL
	cat   *catalog

	indexes *index.Manager
	cache   *cachepkg.QueryCache
	opt     *query.Optimizer

	recoveredFromDirtyShutdown bool
}

func dataPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.DataPath, "db", name+".db")
}

func walDir(cfg *config.Config, name string) string {
	d := cfg.WALDir
	if !filepath.IsAbs(d) {
		d = filepath.Join(cfg.DataPath, d)
	}
	return filepath.Join(d, name)
}

func indexDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataPath, "indexes")
}

func catalogDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataPath, "db")
}

// reloadIndexes discovers every index file persisted for name under dir
// (one per field, named <collection>_<field>.idx by index.Persistence)
// and loads each back into mgr, so indexes created in a prior session
// survive a close/reopen cycle (spec.md §4.13's Open contract). Full-text
// indexes come back with index.DefaultFullTextConfig() rather than
// whatever tokenizer settings CreateIndex originally used, since the
// envelope format doesn't carry them; a failure on one field is logged
// and skipped rather than aborting Open, matching Manager.Save's
// per-field best-effort handling.
func reloadIndexes(persist *index.Persistence, dir, name string, mgr *index.Manager, log *elog.Logger) {
	prefix := index.SanitizeName(name) + "_"
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.idx"))
	if err != nil {
		log.Warn("collection: %s: listing persisted indexes: %v", name, err)
		return
	}
	for _, m := range matches {
		field := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".idx")
		kind, ok, err := persist.PeekKind(name, field)
		if err != nil {
			log.Warn("collection: %s: peeking index kind for field %q: %v", name, field, err)
			continue
		}
		if !ok {
			continue
		}
		if err := mgr.Load(name, field, kind, index.DefaultFullTextConfig()); err != nil {
			log.Warn("collection: %s: loading index for field %q: %v", name, field, err)
		}
	}
}

// Open opens (creating if necessary) the collection named name, backed by
// cfg's storage settings. entityType identifies the shape this caller
// expects the collection to hold; reopening a collection previously bound
// to a different entityType fails with dberr.ErrCollectionTypeMismatch
// (spec.md §8 scenario 6).
func Open(cfg *config.Config, name, entityType string, log *elog.Logger) (*Collection, error) {
	if log == nil {
		log = elog.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dataPath(cfg, name)), 0755); err != nil {
		return nil, fmt.Errorf("collection: mkdir: %w: %v", dberr.ErrIoError, err)
	}

	path := dataPath(cfg, name)
	var pager *storage.Pager
	var err error
	if cfg.StorageBackend == config.BackendMemory {
		pager = storage.CreateMemory(cfg.PageSize)
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		pager, err = storage.Create(path, cfg.PageSize)
	} else {
		pager, err = storage.Open(path)
	}
	if err != nil {
		return nil, err
	}
	pager.SetVerifyChecksums(cfg.VerifyChecksums)

	cat, err := loadCatalog(catalogDir(cfg), name, entityType)
	if err != nil {
		pager.Close()
		return nil, err
	}

	pool := storage.NewBufferPool(pager, cfg.BufferPoolSize)

	var wal *storage.WAL
	if cfg.EnableTransactions && cfg.StorageBackend != config.BackendMemory {
		wal, err = storage.Open(walDir(cfg, name), log)
		if err != nil {
			pager.Close()
			return nil, err
		}
	}

	persist := index.NewPersistence(indexDir(cfg))
	mgr := index.NewManager(persist, log)
	reloadIndexes(persist, indexDir(cfg), name, mgr, log)

	c := &Collection{
		state:      StateOpen,
		name:       name,
		entityType: cat.entityType,
		cfg:        cfg,
		log:        log,
		pager:      pager,
		pool:       pool,
		wal:        wal,
		cat:        cat,
		indexes:    mgr,
		cache:      cachepkg.New(cfg.QueryCacheSize, cfg.QueryCacheTTL),
		recoveredFromDirtyShutdown: pager.RecoveredFromDirtyShutdown(),
	}
	c.opt = query.NewOptimizer(mgr, c.unsafeCount)

	if c.recoveredFromDirtyShutdown && cfg.RecoveryMode == config.RecoveryEnabled && wal != nil {
		result := storage.Recover(wal.Path(), c, log)
		if !result.Success && cfg.ThrowOnRecoveryError {
			pager.Close()
			wal.Close()
			return nil, fmt.Errorf("collection: %s: %w", name, result.Error)
		}
		if result.Success && cfg.DeleteWalAfterRecovery {
			if err := wal.Remove(); err != nil {
				log.Warn("collection: %s: removing recovered WAL: %v", name, err)
			}
		}
		if err := cat.save(); err != nil {
			log.Warn("collection: %s: persisting catalog after recovery: %v", name, err)
		}
	}

	return c, nil
}

// RecoveredFromDirtyShutdown reports whether Open found this collection in
// a dirty-shutdown state (spec.md §8 scenario 4).
func (c *Collection) RecoveredFromDirtyShutdown() bool {
	return c.recoveredFromDirtyShutdown
}

// Close flushes the buffer pool and WAL, persists indexes and the
// catalog, and releases the file handle.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	c.state = StateClosed
	if err := c.pool.FlushAll(); err != nil {
		return err
	}
	if err := c.indexes.Save(c.name); err != nil {
		c.log.Warn("collection: %s: saving indexes on close: %v", c.name, err)
	}
	if err := c.cat.save(); err != nil {
		c.log.Warn("collection: %s: saving catalog on close: %v", c.name, err)
	}
	if c.wal != nil {
		if err := c.wal.Close(); err != nil {
			return err
		}
	}
	return c.pager.Close()
}

func encodeFields(fields map[string]value.Value) ([]byte, error) {
	return cbor.Marshal(fields)
}

func decodeFields(data []byte) (map[string]value.Value, error) {
	var fields map[string]value.Value
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("collection: decode entity body: %w: %v", dberr.ErrInvalidFormat, err)
	}
	return fields, nil
}

func (c *Collection) unsafeCount() int {
	return c.cat.count()
}

func (c *Collection) requireOpen() error {
	if c.state != StateOpen {
		return fmt.Errorf("collection: %s: %w", c.name, dberr.ErrDatabaseDisposed)
	}
	return nil
}
