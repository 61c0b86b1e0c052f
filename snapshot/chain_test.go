package snapshot

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"emberdb/value"
)

func writeSnapshotFile(t *testing.T, dir, name string, s Snapshot) string {
	t.Helper()
	raw, err := s.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func entityField(price float64) map[string]value.Value {
	return map[string]value.Value{"price": value.Float(price)}
}

// TestRestoreChainFullThenDifferential reproduces the canonical chain
// scenario: a full snapshot of 100 entities, then a differential that
// mutates 10, deletes 3, and inserts 5 — restoring the chain onto an
// empty collection should yield exactly 102 entities.
func TestRestoreChainFullThenDifferential(t *testing.T) {
	dir := t.TempDir()

	base := make(map[string]map[string]value.Value, 100)
	for i := 0; i < 100; i++ {
		id := idFor(i)
		base[id] = entityField(float64(i))
	}
	full, err := FromEntities(base, 1, "full", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	s0Path := writeSnapshotFile(t, dir, "s0.snap", full)

	changed := make(map[string]map[string]value.Value, 15)
	for i := 0; i < 10; i++ {
		id := idFor(i)
		changed[id] = entityField(float64(i) + 1000)
	}
	for i := 100; i < 105; i++ {
		id := idFor(i)
		changed[id] = entityField(float64(i))
	}
	deleted := []string{idFor(10), idFor(11), idFor(12)}

	d1, err := FromDelta(KindDifferential, s0Path, changed, deleted, full.Timestamp)
	if err != nil {
		t.Fatalf("FromDelta: %v", err)
	}
	d1Path := writeSnapshotFile(t, dir, "d1.diff", d1)

	state, err := RestoreChain([]string{s0Path, d1Path}, nil)
	if err != nil {
		t.Fatalf("RestoreChain: %v", err)
	}
	if len(state.Entities) != 102 {
		t.Fatalf("got %d entities, want 102", len(state.Entities))
	}
	for _, id := range deleted {
		if _, ok := state.Entities[id]; ok {
			t.Fatalf("deleted id %s still present", id)
		}
	}
	mutated := state.Entities[idFor(0)]
	if price, _ := mutated["price"].AsFloat(); price != 1000 {
		t.Fatalf("mutation not applied, got price %v", price)
	}
}

func TestRestoreChainRejectsDeltaFirst(t *testing.T) {
	dir := t.TempDir()
	d, err := FromDelta(KindDifferential, "missing", nil, nil, time.Time{})
	if err != nil {
		t.Fatalf("FromDelta: %v", err)
	}
	path := writeSnapshotFile(t, dir, "d.diff", d)

	_, err = RestoreChain([]string{path}, nil)
	if err == nil {
		t.Fatal("expected error when chain starts with a delta")
	}
}

func TestRestoreChainToleratesMidChainFullSnapshot(t *testing.T) {
	dir := t.TempDir()

	first, err := FromEntities(map[string]map[string]value.Value{"a": entityField(1)}, 1, "", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	firstPath := writeSnapshotFile(t, dir, "first.snap", first)

	second, err := FromEntities(map[string]map[string]value.Value{"b": entityField(2), "c": entityField(3)}, 1, "", nil)
	if err != nil {
		t.Fatalf("FromEntities: %v", err)
	}
	secondPath := writeSnapshotFile(t, dir, "second.snap", second)

	state, err := RestoreChain([]string{firstPath, secondPath}, nil)
	if err != nil {
		t.Fatalf("RestoreChain: %v", err)
	}
	if len(state.Entities) != 2 {
		t.Fatalf("got %d entities, want 2 (state should be replaced, not merged)", len(state.Entities))
	}
	if _, ok := state.Entities["a"]; ok {
		t.Fatal("expected first snapshot's state to be fully replaced")
	}
}

func TestRestoreChainEmptyPathsRejected(t *testing.T) {
	if _, err := RestoreChain(nil, nil); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func idFor(i int) string {
	return "e" + strconv.Itoa(i)
}
