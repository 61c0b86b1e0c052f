package storage

import (
	"fmt"

	"emberdb/dberr"
	"emberdb/elog"
)

// RedoHandler is the external collaborator recovery drives: it applies the
// effect of a committed Insert/Update/Delete record to the live storage
// path. Implemented by collection.Collection (or its storage adapter).
type RedoHandler interface {
	RedoInsert(collection, id string, after []byte) error
	RedoUpdate(collection, id string, before, after []byte) error
	RedoDelete(collection, id string, before []byte) error
}

// RecoveryResult summarizes a recovery pass.
type RecoveryResult struct {
	Success           bool
	Error             error
	TransactionsSeen  int
	TransactionsRedone int
	RecordsApplied    int
}

// Recover replays path's WAL against handler using the three-pass
// REDO-only scheme of spec.md §4.4: undo is never needed because data
// pages are only mutated after a transaction commits.
//
//  1. Analysis: scan forward once, classify every transaction id as
//     committed, aborted, or (if neither record appears) uncommitted.
//  2. Redo: scan forward again; for each Insert/Update/Delete whose
//     transaction is committed, invoke the matching RedoHandler method, in
//     strict LSN order.
//  3. Finalize: the caller may now truncate/delete the WAL and clear the
//     file header's dirty-shutdown bit.
//
// Aborted and uncommitted transactions' effects are never applied. A
// corrupt record encountered mid-scan yields a failed RecoveryResult
// rather than a panic; the caller decides whether to refuse to open the
// database or proceed with whatever was redone (this function itself is
// idempotent — replaying the same WAL twice against an already-recovered
// handler reapplies the same committed writes, which for
// Insert/Update/Delete-by-id is itself idempotent).
func Recover(path string, handler RedoHandler, log *elog.Logger) RecoveryResult {
	if log == nil {
		log = elog.Discard()
	}

	committed := make(map[uint64]bool)
	aborted := make(map[uint64]bool)
	seen := make(map[uint64]bool)

	analyze := func() error {
		r, err := NewReader(path)
		if err != nil {
			return err
		}
		defer r.Close()
		return r.ForEach(func(rec Record) bool {
			seen[rec.TxnID] = true
			switch rec.Type {
			case RecCommit:
				committed[rec.TxnID] = true
			case RecAbort:
				aborted[rec.TxnID] = true
			}
			return true
		})
	}
	if err := analyze(); err != nil {
		return RecoveryResult{Success: false, Error: fmt.Errorf("storage: recovery analysis: %w", dberr.ErrRecoveryFailure)}
	}

	applied := 0
	redoneTxns := make(map[uint64]bool)
	redo := func() error {
		r, err := NewReader(path)
		if err != nil {
			return err
		}
		defer r.Close()
		return r.ForEach(func(rec Record) bool {
			if !committed[rec.TxnID] || aborted[rec.TxnID] {
				return true
			}
			switch rec.Type {
			case RecInsert, RecUpdate, RecDelete:
				payload, err := decodeDataPayload(rec.Payload)
				if err != nil {
					log.Error("recovery: skipping undecodable record at LSN %d: %v", rec.LSN, err)
					return true
				}
				var applyErr error
				switch rec.Type {
				case RecInsert:
					applyErr = handler.RedoInsert(payload.Collection, payload.EntityID, payload.After)
				case RecUpdate:
					applyErr = handler.RedoUpdate(payload.Collection, payload.EntityID, payload.Before, payload.After)
				case RecDelete:
					applyErr = handler.RedoDelete(payload.Collection, payload.EntityID, payload.Before)
				}
				if applyErr != nil {
					log.Error("recovery: redo failed at LSN %d: %v", rec.LSN, applyErr)
					return true
				}
				applied++
				redoneTxns[rec.TxnID] = true
			}
			return true
		})
	}
	if err := redo(); err != nil {
		return RecoveryResult{
			Success:          false,
			Error:            fmt.Errorf("storage: recovery redo: %w", dberr.ErrRecoveryFailure),
			TransactionsSeen: len(seen),
		}
	}

	log.Info("recovery complete: %d transactions seen, %d committed+redone, %d records applied",
		len(seen), len(redoneTxns), applied)

	return RecoveryResult{
		Success:            true,
		TransactionsSeen:   len(seen),
		TransactionsRedone: len(redoneTxns),
		RecordsApplied:     applied,
	}
}
