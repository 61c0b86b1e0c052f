// Package config provides centralized configuration for emberdb.
//
// Configuration values are loaded from environment variables with sensible
// defaults: Load starts from Default() and overrides each field whose
// EMBERDB_* variable is set. A Config built in code is used as given and is
// not merged with the environment (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageBackend selects the engine a Database opens against.
type StorageBackend string

const (
	// BackendPaged is the fixed-page-size, WAL-backed on-disk engine.
	BackendPaged StorageBackend = "paged"
	// BackendMemory keeps page storage in memory; useful for tests and
	// ephemeral caches. No WAL, no recovery. The collection catalog and
	// persisted indexes still live under DataPath regardless of backend —
	// only the page file itself becomes ephemeral.
	BackendMemory StorageBackend = "memory"
)

// RecoveryMode controls whether WAL recovery runs on open and how it fails.
type RecoveryMode string

const (
	RecoveryDisabled RecoveryMode = "disabled"
	RecoveryEnabled  RecoveryMode = "enabled"
)

// Config holds all tunables for an emberdb Database.
//
// All values have sensible defaults and can be overridden through
// environment variables prefixed EMBERDB_.
type Config struct {
	// StorageBackend selects paged (on-disk) or memory (ephemeral) storage.
	// Environment: EMBERDB_STORAGE_BACKEND
	// Default: paged
	StorageBackend StorageBackend

	// DataPath is the root directory for the database file, WAL, and
	// index files.
	// Environment: EMBERDB_DATA_PATH
	// Default: "./var"
	DataPath string

	// PageSize is the fixed page size in bytes. Must be a power of two in
	// [4096, 32768].
	// Environment: EMBERDB_PAGE_SIZE
	// Default: 4096
	PageSize uint32

	// BufferPoolSize is the number of pages the buffer pool holds. Must be
	// >= 16.
	// Environment: EMBERDB_BUFFER_POOL_SIZE
	// Default: 1024
	BufferPoolSize int

	// EnableTransactions turns on WAL-backed transactional writes. When
	// false, writes go straight to storage (still crash-safe per page
	// checksums, but without multi-op atomicity).
	// Environment: EMBERDB_ENABLE_TRANSACTIONS
	// Default: true
	EnableTransactions bool

	// VerifyChecksums controls whether page checksums are verified on every
	// page read. Disabling trades safety for throughput. WAL record CRCs
	// are checked on every read regardless of this setting.
	// Environment: EMBERDB_VERIFY_CHECKSUMS
	// Default: true
	VerifyChecksums bool

	// MaxEntitySize bounds the serialized size of a single entity, in
	// bytes. Zero means unbounded.
	// Environment: EMBERDB_MAX_ENTITY_SIZE
	// Default: 16777216 (16 MiB)
	MaxEntitySize int64

	// EnableDebugLogging raises the default logger to DEBUG.
	// Environment: EMBERDB_DEBUG_LOGGING
	// Default: false
	EnableDebugLogging bool

	// AutoFlushOnClose is set by Default and Load, but no component reads
	// it: Collection.Close flushes the buffer pool and closes the WAL
	// whatever its value.
	// Environment: EMBERDB_AUTO_FLUSH_ON_CLOSE
	// Default: true
	AutoFlushOnClose bool

	// WALDir is the directory the write-ahead log is stored in, relative
	// to DataPath unless absolute.
	// Environment: EMBERDB_WAL_DIR
	// Default: "wal"
	WALDir string

	// RecoveryMode selects whether WAL recovery runs on open.
	// Environment: EMBERDB_RECOVERY_MODE
	// Default: enabled
	RecoveryMode RecoveryMode

	// DeleteWalAfterRecovery removes the WAL file once recovery completes
	// successfully. Only consulted when RecoveryMode is RecoveryEnabled.
	// Environment: EMBERDB_DELETE_WAL_AFTER_RECOVERY
	// Default: true
	DeleteWalAfterRecovery bool

	// ThrowOnRecoveryError makes Open fail when recovery reports a
	// corrupt record, instead of proceeding with whatever was replayed.
	// Environment: EMBERDB_THROW_ON_RECOVERY_ERROR
	// Default: true
	ThrowOnRecoveryError bool

	// QueryCacheSize bounds the number of cached query results.
	// Environment: EMBERDB_QUERY_CACHE_SIZE
	// Default: 100
	QueryCacheSize int

	// QueryCacheTTL bounds how long a cached query result stays valid.
	// Environment: EMBERDB_QUERY_CACHE_TTL_SECONDS
	// Default: 5 minutes
	QueryCacheTTL time.Duration
}

// Default returns a Config populated entirely with defaults.
func Default() *Config {
	return &Config{
		StorageBackend:         BackendPaged,
		DataPath:               "./var",
		PageSize:               4096,
		BufferPoolSize:         1024,
		EnableTransactions:     true,
		VerifyChecksums:        true,
		MaxEntitySize:          16 << 20,
		EnableDebugLogging:     false,
		AutoFlushOnClose:       true,
		WALDir:                 "wal",
		RecoveryMode:           RecoveryEnabled,
		DeleteWalAfterRecovery: true,
		ThrowOnRecoveryError:   true,
		QueryCacheSize:         100,
		QueryCacheTTL:          5 * time.Minute,
	}
}

// Load returns a Config seeded with defaults and then overridden from
// EMBERDB_* environment variables.
func Load() *Config {
	c := Default()
	c.StorageBackend = StorageBackend(getEnv("EMBERDB_STORAGE_BACKEND", string(c.StorageBackend)))
	c.DataPath = getEnv("EMBERDB_DATA_PATH", c.DataPath)
	c.PageSize = uint32(getEnvInt("EMBERDB_PAGE_SIZE", int(c.PageSize)))
	c.BufferPoolSize = getEnvInt("EMBERDB_BUFFER_POOL_SIZE", c.BufferPoolSize)
	c.EnableTransactions = getEnvBool("EMBERDB_ENABLE_TRANSACTIONS", c.EnableTransactions)
	c.VerifyChecksums = getEnvBool("EMBERDB_VERIFY_CHECKSUMS", c.VerifyChecksums)
	c.MaxEntitySize = int64(getEnvInt("EMBERDB_MAX_ENTITY_SIZE", int(c.MaxEntitySize)))
	c.EnableDebugLogging = getEnvBool("EMBERDB_DEBUG_LOGGING", c.EnableDebugLogging)
	c.AutoFlushOnClose = getEnvBool("EMBERDB_AUTO_FLUSH_ON_CLOSE", c.AutoFlushOnClose)
	c.WALDir = getEnv("EMBERDB_WAL_DIR", c.WALDir)
	c.RecoveryMode = RecoveryMode(getEnv("EMBERDB_RECOVERY_MODE", string(c.RecoveryMode)))
	c.DeleteWalAfterRecovery = getEnvBool("EMBERDB_DELETE_WAL_AFTER_RECOVERY", c.DeleteWalAfterRecovery)
	c.ThrowOnRecoveryError = getEnvBool("EMBERDB_THROW_ON_RECOVERY_ERROR", c.ThrowOnRecoveryError)
	c.QueryCacheSize = getEnvInt("EMBERDB_QUERY_CACHE_SIZE", c.QueryCacheSize)
	c.QueryCacheTTL = getEnvDuration("EMBERDB_QUERY_CACHE_TTL_SECONDS", int(c.QueryCacheTTL/time.Second))
	return c
}

// Validate checks the configuration against the invariants spec.md fixes:
// page size a power of two in [4096, 32768], pool size >= 16, etc.
func (c *Config) Validate() error {
	if c.PageSize < 4096 || c.PageSize > 32768 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("config: page size %d must be a power of two in [4096, 32768]", c.PageSize)
	}
	if c.BufferPoolSize < 16 {
		return fmt.Errorf("config: buffer pool size %d must be >= 16", c.BufferPoolSize)
	}
	if c.StorageBackend != BackendPaged && c.StorageBackend != BackendMemory {
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	if c.RecoveryMode != RecoveryDisabled && c.RecoveryMode != RecoveryEnabled {
		return fmt.Errorf("config: unknown recovery mode %q", c.RecoveryMode)
	}
	if c.MaxEntitySize < 0 {
		return fmt.Errorf("config: max entity size must be >= 0")
	}
	if c.QueryCacheSize < 0 {
		return fmt.Errorf("config: query cache size must be >= 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
