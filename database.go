// Package emberdb is an embeddable document database: fixed-size paged
// storage, a write-ahead log with REDO-only recovery, secondary indexes
// (ordered/hash/full-text) fanned out from a single write path, a
// cost-based query optimizer, a selectively-invalidated query cache, and
// framed full/differential/incremental snapshots.
//
// A Database is a named group of Collections sharing one Config and one
// Logger; each Collection owns its own page file, WAL, and index set,
// grounded on osakka-entitydb's top-level EntityRepository/Database split
// (one struct coordinating many independently-recoverable stores).
package emberdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"emberdb/collection"
	"emberdb/config"
	"emberdb/dberr"
	"emberdb/elog"
	"emberdb/index"
	"emberdb/query"
	"emberdb/value"
)

// Re-export the identifiers callers need to build predicates and index
// requests without importing emberdb's internal packages directly.
type (
	Predicate      = query.Predicate
	Plan           = query.Plan
	IndexKind      = index.Kind
	FullTextConfig = index.FullTextConfig
	Config         = config.Config
	StorageBackend = config.StorageBackend
	RecoveryMode   = config.RecoveryMode
	Value          = value.Value
)

const (
	IndexOrdered  = index.KindOrdered
	IndexHash     = index.KindHash
	IndexFullText = index.KindFullText
)

var (
	Equals             = query.Equals
	NotEquals          = query.NotEquals
	GreaterThan        = query.GreaterThan
	GreaterThanOrEqual = query.GreaterThanOrEqual
	LessThan           = query.LessThan
	LessThanOrEqual    = query.LessThanOrEqual
	Between            = query.Between
	In                 = query.In
	Contains           = query.Contains
	Prefix             = query.Prefix
	FullText           = query.FullText
	FullTextAny        = query.FullTextAny
	FullTextPhrase     = query.FullTextPhrase
	FullTextPrefix     = query.FullTextPrefix
	And                = query.And
	Or                 = query.Or
	Not                = query.Not
)

// Database coordinates a set of named Collections under one Config.
// Collections are opened lazily on first access and kept open until
// Close; two Collection handles for the same name always refer to the
// same underlying files.
type Database struct {
	mu          sync.Mutex
	cfg         *config.Config
	log         *elog.Logger
	collections map[string]*collection.Collection
	closed      bool
}

// Open validates cfg and returns a Database ready to open collections
// against it. No collection files are touched until Collection is called.
func Open(cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return nil, fmt.Errorf("emberdb: mkdir data path: %w: %v", dberr.ErrIoError, err)
	}

	level := elog.INFO
	if cfg.EnableDebugLogging {
		level = elog.DEBUG
	}
	log := elog.New("emberdb", os.Stderr, level)

	return &Database{
		cfg:         cfg,
		log:         log,
		collections: make(map[string]*collection.Collection),
	}, nil
}

// Collection returns the named collection, opening it on first access.
// entityType is the shape this caller expects the collection to hold;
// once a collection is created with a non-empty entityType, opening it
// from disk again (by a later Database) under a different entityType
// fails with dberr.ErrCollectionTypeMismatch. A collection already open
// in this Database is returned as is, without comparing entityType.
func (db *Database) Collection(name, entityType string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, dberr.ErrDatabaseDisposed
	}
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	c, err := collection.Open(db.cfg, name, entityType, db.log)
	if err != nil {
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}

// collectionOrErr returns an already-opened collection, without opening
// one implicitly. Used by operations (Backup, BackupDifferential, Restore)
// that must not silently create a collection just by naming it.
func (db *Database) collectionOrErr(name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("emberdb: %s: %w", name, dberr.ErrCollectionNotFound)
	}
	return c, nil
}

// Collections returns the names of every collection opened so far in this
// process (not every collection ever created on disk).
func (db *Database) Collections() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

// DropCollection closes and permanently deletes name's data file, WAL
// directory, and index files. name must already be open.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	c, ok := db.collections[name]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("emberdb: %s: %w", name, dberr.ErrCollectionNotFound)
	}
	delete(db.collections, name)
	db.mu.Unlock()

	if err := c.Close(); err != nil {
		db.log.Warn("emberdb: %s: closing before drop: %v", name, err)
	}
	if err := os.Remove(filepath.Join(db.cfg.DataPath, "db", name+".db")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("emberdb: %s: %w: %v", name, dberr.ErrIoError, err)
	}
	_ = os.Remove(filepath.Join(db.cfg.DataPath, "db", name+".catalog"))
	walDir := db.cfg.WALDir
	if !filepath.IsAbs(walDir) {
		walDir = filepath.Join(db.cfg.DataPath, walDir)
	}
	_ = os.RemoveAll(filepath.Join(walDir, name))
	if matches, err := filepath.Glob(filepath.Join(db.cfg.DataPath, "indexes", name+"_*.idx")); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	return nil
}

// Close closes every opened collection, returning the first error
// encountered (after attempting to close the rest).
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var first error
	for name, c := range db.collections {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("emberdb: %s: %w", name, err)
		}
	}
	return first
}
