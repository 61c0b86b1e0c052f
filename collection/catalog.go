package collection

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/fxamacker/cbor/v2"
	"github.com/natefinch/atomic"

	"emberdb/dberr"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// catalogVersion is the on-disk format version of a collection's id->page
// directory file.
const catalogVersion = 1

// catalogEnvelope mirrors index.envelope's self-describing-file shape
// (version + typed payload, CBOR, atomic rename) applied to the one thing
// the index layer doesn't track: which page id holds each entity's body.
type catalogEnvelope struct {
	Version    int               `cbor:"version"`
	EntityType string            `cbor:"entityType"`
	Pages      map[string]uint32 `cbor:"pages"`
}

// catalog is the in-memory id -> first-page-id directory for a collection,
// persisted as a single file (unlike per-field index files, there's only
// ever one of these per collection).
type catalog struct {
	path       string
	entityType string
	pages      map[string]uint32
}

func catalogPath(dir, name string) string {
	return filepath.Join(dir, unsafeFilenameChars.ReplaceAllString(name, "_")+".catalog")
}

// loadCatalog reads name's catalog file, or returns a fresh empty one if
// absent.
func loadCatalog(dir, name, entityType string) (*catalog, error) {
	path := catalogPath(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &catalog{path: path, entityType: entityType, pages: make(map[string]uint32)}, nil
		}
		return nil, fmt.Errorf("collection: read catalog %s: %w: %v", path, dberr.ErrIoError, err)
	}
	var env catalogEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("collection: decode catalog %s: %w: %v", path, dberr.ErrInvalidFormat, err)
	}
	if env.Version != catalogVersion {
		return nil, fmt.Errorf("collection: catalog %s version %d: %w", path, env.Version, dberr.ErrInvalidFormat)
	}
	if env.EntityType != "" && entityType != "" && env.EntityType != entityType {
		return nil, fmt.Errorf("collection: %s was opened as %q, now opened as %q: %w", name, env.EntityType, entityType, dberr.ErrCollectionTypeMismatch)
	}
	if env.Pages == nil {
		env.Pages = make(map[string]uint32)
	}
	storedType := env.EntityType
	if storedType == "" {
		storedType = entityType
	}
	return &catalog{path: path, entityType: storedType, pages: env.Pages}, nil
}

// save persists the catalog atomically.
func (c *catalog) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("collection: mkdir for catalog %s: %w: %v", c.path, dberr.ErrIoError, err)
	}
	data, err := cbor.Marshal(catalogEnvelope{Version: catalogVersion, EntityType: c.entityType, Pages: c.pages})
	if err != nil {
		return fmt.Errorf("collection: encode catalog %s: %w: %v", c.path, dberr.ErrInvalidFormat, err)
	}
	if err := atomic.WriteFile(c.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("collection: atomic write catalog %s: %w: %v", c.path, dberr.ErrIoError, err)
	}
	return nil
}

func (c *catalog) get(id string) (uint32, bool) {
	pageID, ok := c.pages[id]
	return pageID, ok
}

func (c *catalog) set(id string, pageID uint32) {
	c.pages[id] = pageID
}

func (c *catalog) remove(id string) {
	delete(c.pages, id)
}

func (c *catalog) ids() []string {
	out := make([]string, 0, len(c.pages))
	for id := range c.pages {
		out = append(out, id)
	}
	return out
}

func (c *catalog) count() int {
	return len(c.pages)
}
