package snapshot

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"emberdb/dberr"
	"emberdb/value"
)

func sampleEntities(n int) map[string]map[string]value.Value {
	out := make(map[string]map[string]value.Value, n)
	for i := 0; i < n; i++ {
		id := "e" + strconv.Itoa(i)
		out[id] = map[string]value.Value{
			"name":  value.String("widget"),
			"price": value.Float(float64(i)),
		}
	}
	return out
}

func TestFullSnapshotRoundTrip(t *testing.T) {
	entities := sampleEntities(3)
	s, err := FromEntities(entities, 1, "test snapshot", map[string]string{"source": "unit-test"})
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}

	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	decoded, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if decoded.Kind != KindFull {
		t.Fatalf("got kind %v, want KindFull", decoded.Kind)
	}
	if err := decoded.VerifyIntegrity(); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}

	full, err := decoded.DecodeFull()
	if err != nil {
		t.Fatalf("DecodeFull: %v", err)
	}
	if len(full.Entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(full.Entities))
	}
	if full.Description != "test snapshot" {
		t.Fatalf("got description %q", full.Description)
	}
	if full.Metadata["source"] != "unit-test" {
		t.Fatalf("metadata not preserved: %+v", full.Metadata)
	}
}

func TestFullSnapshotCompressedRoundTrip(t *testing.T) {
	entities := sampleEntities(50)
	s, err := FromEntities(entities, 1, "compressed", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	s.Compress(true)

	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	decoded, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !decoded.Compressed {
		t.Fatal("expected decoded snapshot to report Compressed")
	}
	if err := decoded.VerifyIntegrity(); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	full, err := decoded.DecodeFull()
	if err != nil {
		t.Fatalf("DecodeFull: %v", err)
	}
	if len(full.Entities) != 50 {
		t.Fatalf("got %d entities, want 50", len(full.Entities))
	}
}

func TestDifferentialSnapshotRoundTrip(t *testing.T) {
	changed := map[string]map[string]value.Value{
		"e1": {"price": value.Float(12.5)},
	}
	s, err := FromDelta(KindDifferential, "/backups/s0.snap", changed, []string{"e2", "e3"}, time.UnixMilli(1000).UTC())
	if err != nil {
		t.Fatalf("FromDelta: %v", err)
	}

	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	decoded, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if decoded.Kind != KindDifferential {
		t.Fatalf("got kind %v, want KindDifferential", decoded.Kind)
	}
	if decoded.BasePath != "/backups/s0.snap" {
		t.Fatalf("got base path %q", decoded.BasePath)
	}
	delta, err := decoded.DecodeDelta()
	if err != nil {
		t.Fatalf("DecodeDelta: %v", err)
	}
	if len(delta.Changed) != 1 || len(delta.Deleted) != 2 {
		t.Fatalf("got delta %+v", delta)
	}
}

func TestFromBytesRejectsBadMagic(t *testing.T) {
	raw := make([]byte, headerFixed)
	copy(raw, []byte("XXXX"))
	raw[4] = FormatVersion
	_, err := FromBytes(raw)
	if !errors.Is(err, dberr.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
}

func TestFromBytesRejectsVersionMismatch(t *testing.T) {
	entities := sampleEntities(1)
	s, err := FromEntities(entities, 1, "", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	raw[4] = 99 // corrupt version byte

	_, err = FromBytes(raw)
	if !errors.Is(err, dberr.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	entities := sampleEntities(2)
	s, err := FromEntities(entities, 1, "", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	decoded, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	decoded.Payload = append(decoded.Payload, '!')

	if err := decoded.VerifyIntegrity(); !errors.Is(err, dberr.ErrBackupIntegrityFailure) {
		t.Fatalf("got %v, want ErrBackupIntegrityFailure", err)
	}
}

func TestFromBytesTruncatedHeader(t *testing.T) {
	_, err := FromBytes([]byte("SNAP"))
	if !errors.Is(err, dberr.ErrCorruptedSnapshot) {
		t.Fatalf("got %v, want ErrCorruptedSnapshot", err)
	}
}
