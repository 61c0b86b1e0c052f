// Package dberr defines the sentinel error taxonomy shared across emberdb's
// storage, index, collection, and snapshot layers.
//
// Callers should compare against these sentinels with errors.Is; internal
// code wraps them with contextual detail via fmt.Errorf("...: %w", ...).
package dberr

import "errors"

var (
	// ErrIoError signals an underlying filesystem failure. Fatal to the
	// in-flight operation, non-fatal to the engine.
	ErrIoError = errors.New("io error")

	// ErrCorruptedPage is returned when a page's stored checksum does not
	// match its recomputed checksum.
	ErrCorruptedPage = errors.New("corrupted page")

	// ErrCorruptedWalRecord is returned when a WAL record's checksum or
	// framing is invalid.
	ErrCorruptedWalRecord = errors.New("corrupted wal record")

	// ErrCorruptedSnapshot is returned when a snapshot's checksum or magic
	// does not verify.
	ErrCorruptedSnapshot = errors.New("corrupted snapshot")

	// ErrInvalidFormat is returned on a version or structural mismatch.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrPoolExhausted is returned when every buffer pool slot is pinned.
	ErrPoolExhausted = errors.New("buffer pool exhausted")

	// ErrDatabaseLocked is returned when another holder owns the database.
	ErrDatabaseLocked = errors.New("database locked")

	// ErrDatabaseDisposed is returned for operations on a closed database.
	ErrDatabaseDisposed = errors.New("database disposed")

	// ErrIndexAlreadyExists is returned by CreateIndex on a duplicate field.
	ErrIndexAlreadyExists = errors.New("index already exists")

	// ErrIndexNotFound is returned when an operation names an unknown index.
	ErrIndexNotFound = errors.New("index not found")

	// ErrUnsupportedIndexOperation is returned when a query intent does not
	// match the capability of the target index kind (e.g. range on hash).
	ErrUnsupportedIndexOperation = errors.New("unsupported index operation")

	// ErrCollectionTypeMismatch is returned when a collection previously
	// bound to one entity shape is reopened expecting another.
	ErrCollectionTypeMismatch = errors.New("collection type mismatch")

	// ErrBackupIntegrityFailure is returned when a snapshot checksum fails
	// to verify.
	ErrBackupIntegrityFailure = errors.New("backup integrity failure")

	// ErrRecoveryFailure is returned when the WAL could not be replayed.
	ErrRecoveryFailure = errors.New("recovery failure")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when caller-supplied arguments fail
	// validation (bad page size, malformed predicate, etc).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateID is returned by Insert when the entity id already
	// exists in the collection.
	ErrDuplicateID = errors.New("duplicate entity id")

	// ErrCollectionNotFound is returned when a Database operation names a
	// collection that was never created with Database.Collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrEntityTooLarge is returned by Insert/Update when an entity's
	// encoded size exceeds Config.MaxEntitySize.
	ErrEntityTooLarge = errors.New("entity too large")
)
