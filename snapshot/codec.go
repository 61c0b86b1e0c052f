// Package snapshot implements emberdb's framed binary backup format: full,
// differential, and incremental snapshots with SHA-256 integrity
// verification and chained restore, per spec.md §3 and §4.13.
//
// Framing is grounded on osakka-entitydb's storage/binary/format.go (magic
// + version + fixed header, explicit little-endian field serialization,
// sentinel errors on mismatch), adapted to the three-magic snapshot kinds
// and a UTF-8 JSON payload instead of that teacher's all-binary encoding.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"emberdb/dberr"
	"emberdb/value"
)

// Kind discriminates the three framed snapshot magics spec.md §3 defines.
type Kind uint8

const (
	KindFull Kind = iota
	KindDifferential
	KindIncremental
)

func (k Kind) magic() [4]byte {
	switch k {
	case KindFull:
		return [4]byte{'S', 'N', 'A', 'P'}
	case KindDifferential:
		return [4]byte{'D', 'I', 'F', 'F'}
	case KindIncremental:
		return [4]byte{'I', 'N', 'C', 'R'}
	default:
		return [4]byte{0, 0, 0, 0}
	}
}

func kindFromMagic(m [4]byte) (Kind, bool) {
	switch m {
	case (KindFull).magic():
		return KindFull, true
	case (KindDifferential).magic():
		return KindDifferential, true
	case (KindIncremental).magic():
		return KindIncremental, true
	default:
		return 0, false
	}
}

// FormatVersion is the current on-disk snapshot format version.
const FormatVersion uint8 = 1

// Flag bits within the header's flags byte.
const (
	flagCompressed byte = 0x01
)

const (
	checksumSize = 64 // SHA-256 hex digest, null-padded to 64 bytes
	headerFixed  = 4 /*magic*/ + 1 /*version*/ + 1 /*flags*/ + checksumSize + 8 /*timestamp*/
)

// FullPayload is the JSON body of a KindFull snapshot.
type FullPayload struct {
	Entities    map[string]map[string]value.Value `json:"entities"`
	Version     int                                `json:"version"`
	Description string                             `json:"description"`
	Metadata    map[string]string                  `json:"metadata,omitempty"`
}

// DeltaPayload is the JSON body of a KindDifferential or KindIncremental
// snapshot: entities changed since a base, plus ids deleted since it.
type DeltaPayload struct {
	Changed       map[string]map[string]value.Value `json:"changed"`
	Deleted       []string                           `json:"deleted,omitempty"`
	BaseTimestamp int64                              `json:"baseTimestamp,omitempty"`
}

// Snapshot is a decoded framed backup: header fields plus the raw JSON
// payload bytes (callers decode into FullPayload or DeltaPayload as
// appropriate for Kind).
type Snapshot struct {
	Kind       Kind
	Version    uint8
	Compressed bool
	Checksum   string // hex SHA-256 of the (decompressed) payload
	Timestamp  time.Time
	BasePath   string // DIFF/INCR only: path of the snapshot this deltas against
	Payload    []byte // decompressed JSON bytes
}

// FromEntities builds a full Snapshot from a complete entity set.
func FromEntities(entities map[string]map[string]value.Value, version int, description string, metadata map[string]string) (Snapshot, error) {
	payload, err := json.Marshal(FullPayload{
		Entities:    entities,
		Version:     version,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: marshal full payload: %w", err)
	}
	return Snapshot{
		Kind:      KindFull,
		Version:   FormatVersion,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}, nil
}

// FromDelta builds a differential or incremental Snapshot against basePath.
func FromDelta(kind Kind, basePath string, changed map[string]map[string]value.Value, deleted []string, baseTimestamp time.Time) (Snapshot, error) {
	if kind != KindDifferential && kind != KindIncremental {
		return Snapshot{}, fmt.Errorf("snapshot: FromDelta requires DIFF or INCR, got %v", kind)
	}
	payload, err := json.Marshal(DeltaPayload{
		Changed:       changed,
		Deleted:       deleted,
		BaseTimestamp: baseTimestamp.UnixMilli(),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: marshal delta payload: %w", err)
	}
	return Snapshot{
		Kind:      kind,
		Version:   FormatVersion,
		Timestamp: time.Now().UTC(),
		BasePath:  basePath,
		Payload:   payload,
	}, nil
}

// Compress enables payload compression (zstd, klauspost/compress) for the
// next ToBytes call. Compression is a replaceable algorithm slot per
// spec.md §1; zstd is this slot's concrete implementation.
func (s *Snapshot) Compress(enabled bool) {
	s.Compressed = enabled
}

// ToBytes frames s into its on-disk byte layout: magic, version, flags,
// checksum, timestamp, [base-path length+bytes for DIFF/INCR], payload.
func (s Snapshot) ToBytes() ([]byte, error) {
	sum := sha256.Sum256(s.Payload)
	hexSum := hex.EncodeToString(sum[:])

	payload := s.Payload
	flags := byte(0)
	if s.Compressed {
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("snapshot: create zstd writer: %w", err)
		}
		if _, err := w.Write(s.Payload); err != nil {
			w.Close()
			return nil, fmt.Errorf("snapshot: compress payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("snapshot: close zstd writer: %w", err)
		}
		payload = buf.Bytes()
		flags |= flagCompressed
	}

	var buf bytes.Buffer
	magic := s.Kind.magic()
	buf.Write(magic[:])
	buf.WriteByte(s.Version)
	buf.WriteByte(flags)

	var checksumField [checksumSize]byte
	copy(checksumField[:], hexSum)
	buf.Write(checksumField[:])

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(s.Timestamp.UnixMilli()))
	buf.Write(ts[:])

	if s.Kind == KindDifferential || s.Kind == KindIncremental {
		var baseLen [4]byte
		binary.LittleEndian.PutUint32(baseLen[:], uint32(len(s.BasePath)))
		buf.Write(baseLen[:])
		buf.WriteString(s.BasePath)
	}

	buf.Write(payload)
	return buf.Bytes(), nil
}

// FromBytes parses a framed snapshot from raw bytes, validating magic and
// version. It does not check the SHA-256 checksum; callers that need that
// guarantee call VerifyIntegrity after FromBytes succeeds.
func FromBytes(data []byte) (Snapshot, error) {
	if len(data) < headerFixed {
		return Snapshot{}, fmt.Errorf("snapshot: %w: truncated header", dberr.ErrCorruptedSnapshot)
	}
	r := bytes.NewReader(data)

	var magic [4]byte
	io.ReadFull(r, magic[:])
	kind, ok := kindFromMagic(magic)
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot: %w: unrecognized magic", dberr.ErrInvalidFormat)
	}

	version, _ := r.ReadByte()
	if version != FormatVersion {
		return Snapshot{}, fmt.Errorf("snapshot: %w: version %d, want %d", dberr.ErrInvalidFormat, version, FormatVersion)
	}

	flags, _ := r.ReadByte()
	compressed := flags&flagCompressed != 0

	var checksumField [checksumSize]byte
	if _, err := io.ReadFull(r, checksumField[:]); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w: truncated checksum", dberr.ErrCorruptedSnapshot)
	}
	checksum := string(bytes.TrimRight(checksumField[:], "\x00"))

	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w: truncated timestamp", dberr.ErrCorruptedSnapshot)
	}
	timestamp := time.UnixMilli(int64(binary.LittleEndian.Uint64(ts[:]))).UTC()

	var basePath string
	if kind == KindDifferential || kind == KindIncremental {
		var baseLen [4]byte
		if _, err := io.ReadFull(r, baseLen[:]); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %w: truncated base-path length", dberr.ErrCorruptedSnapshot)
		}
		n := binary.LittleEndian.Uint32(baseLen[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %w: truncated base path", dberr.ErrCorruptedSnapshot)
		}
		basePath = string(buf)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w: reading payload: %v", dberr.ErrCorruptedSnapshot, err)
	}

	payload := rest
	if compressed {
		zr, err := zstd.NewReader(bytes.NewReader(rest))
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %w: create zstd reader: %v", dberr.ErrCorruptedSnapshot, err)
		}
		defer zr.Close()
		payload, err = io.ReadAll(zr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: %w: decompress payload: %v", dberr.ErrCorruptedSnapshot, err)
		}
	}

	return Snapshot{
		Kind:       kind,
		Version:    version,
		Compressed: compressed,
		Checksum:   checksum,
		Timestamp:  timestamp,
		BasePath:   basePath,
		Payload:    payload,
	}, nil
}

// VerifyIntegrity recomputes the SHA-256 of the decompressed payload and
// compares it to the stored checksum.
func (s Snapshot) VerifyIntegrity() error {
	sum := sha256.Sum256(s.Payload)
	if hex.EncodeToString(sum[:]) != s.Checksum {
		return fmt.Errorf("snapshot: %w", dberr.ErrBackupIntegrityFailure)
	}
	return nil
}

// DecodeFull parses s's payload as a FullPayload. s.Kind must be KindFull.
func (s Snapshot) DecodeFull() (FullPayload, error) {
	if s.Kind != KindFull {
		return FullPayload{}, fmt.Errorf("snapshot: %w: DecodeFull on kind %v", dberr.ErrInvalidFormat, s.Kind)
	}
	var p FullPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return FullPayload{}, fmt.Errorf("snapshot: %w: %v", dberr.ErrCorruptedSnapshot, err)
	}
	return p, nil
}

// DecodeDelta parses s's payload as a DeltaPayload. s.Kind must be
// KindDifferential or KindIncremental.
func (s Snapshot) DecodeDelta() (DeltaPayload, error) {
	if s.Kind != KindDifferential && s.Kind != KindIncremental {
		return DeltaPayload{}, fmt.Errorf("snapshot: %w: DecodeDelta on kind %v", dberr.ErrInvalidFormat, s.Kind)
	}
	var p DeltaPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return DeltaPayload{}, fmt.Errorf("snapshot: %w: %v", dberr.ErrCorruptedSnapshot, err)
	}
	return p, nil
}
