package primitives

import (
	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// StateCell provides named cells with a Counter-family version and
// compare-and-swap. init is explicit and fails if the cell exists.
type StateCell struct {
	db *storage.Database
}

func NewStateCell(db *storage.Database) *StateCell {
	return &StateCell{db: db}
}

// transitionMaxRetries bounds the Transition retry loop.
const transitionMaxRetries = 16

// Init creates the cell at counter 1; fails with VersionConflict if
// it already exists.
func (sc *StateCell) Init(run types.RunID, name string, val types.Value) (types.Version, error) {
	ver := types.CounterVersion(1)
	err := sc.db.Transaction(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Get(storage.StateKey(name))
		if err != nil {
			return err
		}
		if ok {
			return errors.VersionConflict(types.StateRef(run, name), types.Version{}, types.Version{})
		}
		return t.PutVersioned(storage.StateKey(name), val, ver, wal.EntryStateInit)
	})
	if err != nil {
		return types.Version{}, err
	}
	return ver, nil
}

// Get reads the current cell state.
func (sc *StateCell) Get(run types.RunID, name string) (types.Versioned[types.Value], bool, error) {
	snap := sc.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.StateKey(name))
	return v, ok, nil
}

// Exists probes the cell.
func (sc *StateCell) Exists(run types.RunID, name string) (bool, error) {
	_, ok, err := sc.Get(run, name)
	return ok, err
}

// Set writes unconditionally, bumping the counter (creates at 1).
func (sc *StateCell) Set(run types.RunID, name string, val types.Value) (types.Version, error) {
	var ver types.Version
	err := sc.db.Transaction(run, func(t *storage.TransactionContext) error {
		v, e := sc.SetTx(t, name, val)
		ver = v
		return e
	})
	if err != nil {
		return types.Version{}, err
	}
	return ver, nil
}

// SetTx is Set inside a caller-owned transaction.
func (sc *StateCell) SetTx(t *storage.TransactionContext, name string, val types.Value) (types.Version, error) {
	cur, ok, err := t.Get(storage.StateKey(name))
	if err != nil {
		return types.Version{}, err
	}
	next := uint64(1)
	if ok {
		next = cur.Version.N + 1
	}
	ver := types.CounterVersion(next)
	return ver, t.PutVersioned(storage.StateKey(name), val, ver, wal.EntryStateSet)
}

// CAS writes iff the current counter equals expected. Returns the new
// counter and true on success; (0, false) on mismatch — a mismatch is
// an answer, not an error.
func (sc *StateCell) CAS(run types.RunID, name string, expected uint64, val types.Value) (uint64, bool, error) {
	var newCounter uint64
	matched := true
	err := sc.db.Transaction(run, func(t *storage.TransactionContext) error {
		cur, ok, err := t.Get(storage.StateKey(name))
		if err != nil {
			return err
		}
		if !ok {
			matched = false
			return nil
		}
		if cur.Version.N != expected {
			matched = false
			return nil
		}
		newCounter = expected + 1
		return t.PutVersioned(storage.StateKey(name), val,
			types.CounterVersion(newCounter), wal.EntryStateSet)
	})
	if err != nil {
		return 0, false, err
	}
	return newCounter, matched, nil
}

// Transition applies a pure function state → state under CAS,
// retrying on contention up to a bound. The current value is fed to f;
// the returned value is installed.
func (sc *StateCell) Transition(run types.RunID, name string, f func(types.Value) (types.Value, error)) (types.Version, error) {
	for attempt := 0; attempt < transitionMaxRetries; attempt++ {
		cur, ok, err := sc.Get(run, name)
		if err != nil {
			return types.Version{}, err
		}
		if !ok {
			return types.Version{}, errors.NotFound(types.StateRef(run, name))
		}
		next, err := f(cur.Value)
		if err != nil {
			return types.Version{}, err
		}
		counter, swapped, err := sc.CAS(run, name, cur.Version.N, next)
		if err != nil {
			if errors.IsRetryable(err) {
				continue
			}
			return types.Version{}, err
		}
		if swapped {
			return types.CounterVersion(counter), nil
		}
	}
	return types.Version{}, errors.TransactionAborted(run, "transition retries exhausted")
}

// Delete removes the cell.
func (sc *StateCell) Delete(run types.RunID, name string) error {
	return sc.db.Transaction(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Get(storage.StateKey(name))
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(types.StateRef(run, name))
		}
		return t.Delete(storage.StateKey(name), wal.EntryStateSet)
	})
}

// StateTransitionTx records a named transition marker atomically with
// other writes (used by callers that audit cell movements).
func (sc *StateCell) StateTransitionTx(t *storage.TransactionContext, name string, val types.Value) (types.Version, error) {
	cur, ok, err := t.Get(storage.StateKey(name))
	if err != nil {
		return types.Version{}, err
	}
	next := uint64(1)
	if ok {
		next = cur.Version.N + 1
	}
	ver := types.CounterVersion(next)
	return ver, t.PutVersioned(storage.StateKey(name), val, ver, wal.EntryStateTransition)
}
