package storage

import (
	"path/filepath"
	"testing"
)

// TestRecoveryScenario mirrors the end-to-end crash scenario: T1 inserts and
// commits, T2 inserts but never commits (simulated crash), T3 inserts and is
// explicitly aborted. Only T1's effect should survive recovery.
func TestRecoveryScenario(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t1, _ := w.BeginTransaction()
	w.LogInsert(t1, "orders", "order-1", []byte("payload-1"))
	if err := w.CommitTransaction(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}

	t2, _ := w.BeginTransaction()
	w.LogInsert(t2, "orders", "order-2", []byte("payload-2"))
	// t2 never commits: crash simulated by not calling CommitTransaction.

	t3, _ := w.BeginTransaction()
	w.LogInsert(t3, "orders", "order-3", []byte("payload-3"))
	if err := w.AbortTransaction(t3); err != nil {
		t.Fatalf("abort t3: %v", err)
	}

	path := w.Path()
	w.Close()

	redo := &fakeRedo{}
	result := Recover(path, redo, nil)
	if !result.Success {
		t.Fatalf("recovery failed: %v", result.Error)
	}
	if result.TransactionsSeen != 3 {
		t.Fatalf("expected 3 transactions seen, got %d", result.TransactionsSeen)
	}
	if result.TransactionsRedone != 1 {
		t.Fatalf("expected 1 transaction redone, got %d", result.TransactionsRedone)
	}
	if len(redo.inserts) != 1 || redo.inserts[0] != "order-1" {
		t.Fatalf("expected only order-1 redone, got %v", redo.inserts)
	}
}

func TestRecoveryUpdateAndDeleteReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txn, _ := w.BeginTransaction()
	w.LogInsert(txn, "orders", "o1", []byte("v1"))
	w.LogUpdate(txn, "orders", "o1", []byte("v1"), []byte("v2"))
	w.LogDelete(txn, "orders", "o1", []byte("v2"))
	if err := w.CommitTransaction(txn); err != nil {
		t.Fatalf("commit: %v", err)
	}
	path := w.Path()
	w.Close()

	redo := &fakeRedo{}
	result := Recover(path, redo, nil)
	if !result.Success {
		t.Fatalf("recovery failed: %v", result.Error)
	}
	if len(redo.inserts) != 1 || len(redo.updates) != 1 || len(redo.deletes) != 1 {
		t.Fatalf("expected one of each redo call, got inserts=%v updates=%v deletes=%v",
			redo.inserts, redo.updates, redo.deletes)
	}
}

func TestRecoveryEmptyWAL(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := w.Path()
	w.Close()

	redo := &fakeRedo{}
	result := Recover(path, redo, nil)
	if !result.Success {
		t.Fatalf("recovery failed: %v", result.Error)
	}
	if result.TransactionsSeen != 0 || result.RecordsApplied != 0 {
		t.Fatalf("expected no-op recovery on empty WAL, got %+v", result)
	}
}

func TestRecoveryMissingFileSurfacesError(t *testing.T) {
	redo := &fakeRedo{}
	result := Recover(filepath.Join(t.TempDir(), "does-not-exist.wal"), redo, nil)
	if result.Success {
		t.Fatal("expected recovery against a missing WAL file to fail")
	}
}
