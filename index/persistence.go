package index

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

// envelopeVersion is the current on-disk format version for index files.
const envelopeVersion = 1

// envelope is the self-describing wrapper every index file is written as:
// a CBOR map with version/field/type plus the type-specific payload.
// Grounded on storage/binary/tag_index_persistence.go's header+entries
// shape, generalized to a tagged envelope so loadIndex can dispatch on
// Type without the caller pre-declaring what kind of index it expects.
type envelope struct {
	Version int               `cbor:"version"`
	Field   string            `cbor:"field"`
	Type    string            `cbor:"type"`
	Entries []OrderedEntry    `cbor:"entries,omitempty"`
	Data    *FullTextDump     `cbor:"data,omitempty"`
}

// Persistence reads and writes one file per (collection, field) under dir,
// using atomic write-to-temp-then-rename (github.com/natefinch/atomic) so a
// crash mid-write never leaves a half-written index file.
type Persistence struct {
	dir string
}

// NewPersistence creates a Persistence rooted at dir (typically
// <dbpath>/indexes).
func NewPersistence(dir string) *Persistence {
	return &Persistence{dir: dir}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeName applies the same filename-safety substitution path() uses,
// exported so callers that need to glob for a collection's index files
// (Collection.Open, rebuilding its index set on reopen) can build the
// matching filename prefix without duplicating the pattern.
func SanitizeName(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "_")
}

func (p *Persistence) path(collection, field string) string {
	name := SanitizeName(collection) + "_" + SanitizeName(field) + ".idx"
	return filepath.Join(p.dir, name)
}

func (p *Persistence) writeEnvelope(collection, field string, env envelope) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("index: mkdir %s: %w: %v", p.dir, dberr.ErrIoError, err)
	}
	data, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("index: encode envelope for %s/%s: %w: %v", collection, field, dberr.ErrInvalidFormat, err)
	}
	if err := atomic.WriteFile(p.path(collection, field), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("index: atomic write %s/%s: %w: %v", collection, field, dberr.ErrIoError, err)
	}
	return nil
}

// readEnvelope loads and decodes the file for (collection, field). Returns
// (nil, nil) if the file does not exist, per spec.md §4.9 ("missing files
// return null, not an error").
func (p *Persistence) readEnvelope(collection, field string) (*envelope, error) {
	data, err := os.ReadFile(p.path(collection, field))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("index: read %s/%s: %w: %v", collection, field, dberr.ErrIoError, err)
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("index: decode %s/%s: %w: %v", collection, field, dberr.ErrInvalidFormat, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("index: %s/%s version %d: %w", collection, field, env.Version, dberr.ErrInvalidFormat)
	}
	return &env, nil
}

// SaveOrdered serializes ix's posting sets to disk.
func (p *Persistence) SaveOrdered(collection, field string, ix *OrderedIndex) error {
	return p.writeEnvelope(collection, field, envelope{
		Version: envelopeVersion, Field: field, Type: KindOrdered.String(), Entries: ix.ToMap(),
	})
}

// SaveHash serializes ix's posting sets to disk.
func (p *Persistence) SaveHash(collection, field string, ix *HashIndex) error {
	return p.writeEnvelope(collection, field, envelope{
		Version: envelopeVersion, Field: field, Type: KindHash.String(), Entries: ix.ToMap(),
	})
}

// SaveFullText serializes ix's forward and inverted maps to disk.
func (p *Persistence) SaveFullText(collection, field string, ix *FullTextIndex) error {
	dump := ix.ToMap()
	return p.writeEnvelope(collection, field, envelope{
		Version: envelopeVersion, Field: field, Type: KindFullText.String(), Data: &dump,
	})
}

// LoadOrdered loads field's ordered index, or (nil, nil) if absent.
func (p *Persistence) LoadOrdered(collection, field string) (*OrderedIndex, error) {
	env, err := p.readEnvelope(collection, field)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Type != KindOrdered.String() {
		return nil, fmt.Errorf("index: %s/%s: expected ordered, got %s: %w", collection, field, env.Type, dberr.ErrInvalidFormat)
	}
	ix := NewOrderedIndex()
	ix.LoadMap(env.Entries)
	return ix, nil
}

// LoadHash loads field's hash index, or (nil, nil) if absent.
func (p *Persistence) LoadHash(collection, field string) (*HashIndex, error) {
	env, err := p.readEnvelope(collection, field)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Type != KindHash.String() {
		return nil, fmt.Errorf("index: %s/%s: expected hash, got %s: %w", collection, field, env.Type, dberr.ErrInvalidFormat)
	}
	ix := NewHashIndex()
	ix.LoadMap(env.Entries)
	return ix, nil
}

// LoadFullText loads field's full-text index, or (nil, nil) if absent.
func (p *Persistence) LoadFullText(collection, field string, cfg FullTextConfig) (*FullTextIndex, error) {
	env, err := p.readEnvelope(collection, field)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Type != KindFullText.String() {
		return nil, fmt.Errorf("index: %s/%s: expected fulltext, got %s: %w", collection, field, env.Type, dberr.ErrInvalidFormat)
	}
	ix := NewFullTextIndex(cfg)
	if env.Data != nil {
		ix.LoadMap(*env.Data)
	}
	return ix, nil
}

// PeekKind reads only the type discriminator for (collection, field)
// without fully decoding the payload, letting IndexManager.Load dispatch
// to the right restorer. Returns (0, false, nil) if the file is absent.
func (p *Persistence) PeekKind(collection, field string) (Kind, bool, error) {
	env, err := p.readEnvelope(collection, field)
	if err != nil || env == nil {
		return 0, false, err
	}
	switch env.Type {
	case KindOrdered.String():
		return KindOrdered, true, nil
	case KindHash.String():
		return KindHash, true, nil
	case KindFullText.String():
		return KindFullText, true, nil
	default:
		return 0, false, fmt.Errorf("index: %s/%s: unknown type %q: %w", collection, field, env.Type, dberr.ErrInvalidFormat)
	}
}
