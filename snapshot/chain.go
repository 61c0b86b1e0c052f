package snapshot

import (
	"fmt"
	"os"

	"emberdb/dberr"
	"emberdb/elog"
	"emberdb/value"
)

// State is the materialized entity set a restore chain produces.
type State struct {
	Entities map[string]map[string]value.Value
}

// RestoreChain replays paths in order onto an empty State: the first path
// must decode as a full snapshot, and every subsequent path applies as a
// differential or incremental delta against the accumulated state. An
// unexpected full snapshot mid-chain is tolerated: it replaces the
// accumulated state wholesale, with a warning logged, rather than erroring
// out (spec.md §4.13).
func RestoreChain(paths []string, log *elog.Logger) (State, error) {
	if log == nil {
		log = elog.Discard()
	}
	if len(paths) == 0 {
		return State{}, fmt.Errorf("snapshot: %w: empty restore chain", dberr.ErrInvalidInput)
	}

	state := State{Entities: make(map[string]map[string]value.Value)}

	for i, path := range paths {
		snap, err := readSnapshot(path)
		if err != nil {
			return State{}, fmt.Errorf("snapshot: reading %s: %w", path, err)
		}
		if err := snap.VerifyIntegrity(); err != nil {
			return State{}, fmt.Errorf("snapshot: %s: %w", path, err)
		}

		switch snap.Kind {
		case KindFull:
			if i != 0 {
				log.Warn("snapshot: unexpected full snapshot at chain position %d (%s); replacing accumulated state", i, path)
			}
			full, err := snap.DecodeFull()
			if err != nil {
				return State{}, fmt.Errorf("snapshot: decoding %s: %w", path, err)
			}
			state = State{Entities: cloneEntities(full.Entities)}

		case KindDifferential, KindIncremental:
			if i == 0 {
				return State{}, fmt.Errorf("snapshot: %w: chain must start with a full snapshot, got %v at %s", dberr.ErrInvalidFormat, snap.Kind, path)
			}
			delta, err := snap.DecodeDelta()
			if err != nil {
				return State{}, fmt.Errorf("snapshot: decoding %s: %w", path, err)
			}
			for id, fields := range delta.Changed {
				state.Entities[id] = fields
			}
			for _, id := range delta.Deleted {
				delete(state.Entities, id)
			}

		default:
			return State{}, fmt.Errorf("snapshot: %w: unknown kind at %s", dberr.ErrInvalidFormat, path)
		}
	}

	return state, nil
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", dberr.ErrIoError, err)
	}
	return FromBytes(data)
}

func cloneEntities(src map[string]map[string]value.Value) map[string]map[string]value.Value {
	out := make(map[string]map[string]value.Value, len(src))
	for id, fields := range src {
		cp := make(map[string]value.Value, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}
