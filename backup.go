package emberdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"emberdb/collection"
	"emberdb/dberr"
	"emberdb/snapshot"
	"emberdb/value"
)

// backupsDir returns <DataPath>/backups, per spec.md §4.10's persisted
// state layout.
func (db *Database) backupsDir() string {
	return filepath.Join(db.cfg.DataPath, "backups")
}

// backupFileName builds a sortable, collection-scoped snapshot file name:
// <collection>.<unix-nano>.<kind>.snap. Nanosecond resolution (rather than
// the snapshot payload's own millisecond timestamp) keeps back-to-back
// backups of the same collection from colliding on the same file name.
func backupFileName(collectionName string, kind snapshot.Kind, at time.Time) string {
	tag := "full"
	switch kind {
	case snapshot.KindDifferential:
		tag = "diff"
	case snapshot.KindIncremental:
		tag = "incr"
	}
	return fmt.Sprintf("%s.%d.%s.snap", collectionName, at.UnixNano(), tag)
}

func entitiesOf(c *collection.Collection) (map[string]map[string]value.Value, error) {
	all, err := c.GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]value.Value, len(all))
	for _, e := range all {
		out[e.ID] = e.Fields
	}
	return out, nil
}

// BackupOptions controls a single Backup call.
type BackupOptions struct {
	// Description is stored in a full snapshot's payload for operator
	// bookkeeping; ignored for differential/incremental snapshots.
	Description string
	// Metadata is stored alongside Description in a full snapshot.
	Metadata map[string]string
	// Compress enables zstd payload compression.
	Compress bool
}

// Backup writes a full snapshot of name's current contents under
// <DataPath>/backups and returns its path. name must already be open.
func (db *Database) Backup(name string, opts BackupOptions) (string, error) {
	c, err := db.collectionOrErr(name)
	if err != nil {
		return "", err
	}
	entities, err := entitiesOf(c)
	if err != nil {
		return "", err
	}
	snap, err := snapshot.FromEntities(entities, 1, opts.Description, opts.Metadata)
	if err != nil {
		return "", err
	}
	snap.Compress(opts.Compress)
	return db.writeSnapshot(name, snap)
}

// BackupDifferential writes a snapshot of every entity that differs from
// (or is absent from) the full snapshot at basePath, plus the ids present
// in basePath but deleted since. basePath must name a full snapshot this
// collection was previously backed up to.
func (db *Database) BackupDifferential(name, basePath string, opts BackupOptions) (string, error) {
	c, err := db.collectionOrErr(name)
	if err != nil {
		return "", err
	}
	base, err := readBaseSnapshot(basePath)
	if err != nil {
		return "", err
	}
	current, err := entitiesOf(c)
	if err != nil {
		return "", err
	}

	changed := make(map[string]map[string]value.Value)
	for id, fields := range current {
		baseFields, ok := base.Entities[id]
		if !ok || !fieldsEqual(baseFields, fields) {
			changed[id] = fields
		}
	}
	var deleted []string
	for id := range base.Entities {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, id)
		}
	}

	snap, err := snapshot.FromDelta(snapshot.KindDifferential, basePath, changed, deleted, time.UnixMilli(0))
	if err != nil {
		return "", err
	}
	snap.Compress(opts.Compress)
	return db.writeSnapshot(name, snap)
}

func fieldsEqual(a, b map[string]value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !value.Equal(av, bv) {
			return false
		}
	}
	return true
}

func readBaseSnapshot(path string) (snapshot.FullPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot.FullPayload{}, fmt.Errorf("emberdb: read base snapshot %s: %w: %v", path, dberr.ErrIoError, err)
	}
	snap, err := snapshot.FromBytes(data)
	if err != nil {
		return snapshot.FullPayload{}, err
	}
	if err := snap.VerifyIntegrity(); err != nil {
		return snapshot.FullPayload{}, err
	}
	return snap.DecodeFull()
}

func (db *Database) writeSnapshot(name string, snap snapshot.Snapshot) (string, error) {
	dir := db.backupsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("emberdb: mkdir backups dir: %w: %v", dberr.ErrIoError, err)
	}
	path := filepath.Join(dir, backupFileName(name, snap.Kind, snap.Timestamp))
	data, err := snap.ToBytes()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("emberdb: write snapshot %s: %w: %v", path, dberr.ErrIoError, err)
	}
	return path, nil
}

// Restore replaces name's current contents with the state produced by
// replaying the snapshot chain at paths (paths[0] must be a full
// snapshot; see snapshot.RestoreChain). name must already be open.
func (db *Database) Restore(name string, paths []string) error {
	c, err := db.collectionOrErr(name)
	if err != nil {
		return err
	}
	state, err := snapshot.RestoreChain(paths, db.log)
	if err != nil {
		return err
	}
	if err := c.DeleteAll(); err != nil {
		return err
	}
	return c.InsertMany(state.Entities)
}

// ListBackups returns name's backup file paths under <DataPath>/backups,
// oldest first.
func (db *Database) ListBackups(name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(db.backupsDir(), name+".*.snap"))
	if err != nil {
		return nil, fmt.Errorf("emberdb: listing backups for %s: %w: %v", name, dberr.ErrIoError, err)
	}
	sort.Strings(matches) // unix-nano timestamp sorts lexically within a fixed-width prefix
	return matches, nil
}

// PruneBackups deletes name's oldest backups beyond the most recent keep
// full-snapshot generations, each together with any differential/
// incremental snapshots that immediately follow it. A failure to delete
// an individual file is logged as a warning and does not abort the prune
// (spec.md §4's propagation policy: retention-policy deletion failures
// emit warnings and do not fail the backup).
func (db *Database) PruneBackups(name string, keep int) error {
	if keep < 0 {
		return fmt.Errorf("emberdb: %w: keep must be >= 0", dberr.ErrInvalidInput)
	}
	paths, err := db.ListBackups(name)
	if err != nil {
		return err
	}

	var fullIdx []int
	for i, p := range paths {
		if strings.Contains(filepath.Base(p), ".full.snap") {
			fullIdx = append(fullIdx, i)
		}
	}
	if len(fullIdx) <= keep {
		return nil
	}
	cutoff := len(paths) // keep == 0: nothing is retained
	if keep > 0 {
		cutoff = fullIdx[len(fullIdx)-keep] // index of the oldest full snapshot to retain
	}
	for _, p := range paths[:cutoff] {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			db.log.Warn("emberdb: pruning backup %s: %v", p, err)
		}
	}
	return nil
}
