package primitives

import (
	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// KV is the key-value facade: user key → Value, Txn-family versions.
// The facade is stateless; it encodes keys and delegates to the engine.
type KV struct {
	db *storage.Database
}

func NewKV(db *storage.Database) *KV {
	return &KV{db: db}
}

// Put writes a value and returns the committed version.
func (kv *KV) Put(run types.RunID, key string, val types.Value) (types.Version, error) {
	return kv.db.TransactionV(run, func(t *storage.TransactionContext) error {
		return kv.PutTx(t, key, val)
	})
}

// PutTx schedules a put inside a caller-owned transaction.
func (kv *KV) PutTx(t *storage.TransactionContext, key string, val types.Value) error {
	return t.Put(storage.KvKey(key), val, wal.EntryKvPut)
}

// Get reads the current value (fast path: direct snapshot, no
// transaction machinery).
func (kv *KV) Get(run types.RunID, key string) (types.Versioned[types.Value], bool, error) {
	snap := kv.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.KvKey(key))
	return v, ok, nil
}

// GetTx reads inside a transaction (read-your-writes, read-set).
func (kv *KV) GetTx(t *storage.TransactionContext, key string) (types.Versioned[types.Value], bool, error) {
	return t.Get(storage.KvKey(key))
}

// GetVersion reads a specific revision; trimmed history surfaces as
// HistoryTrimmed, never a silent neighbor.
func (kv *KV) GetVersion(run types.RunID, key string, ver types.Version) (types.Versioned[types.Value], error) {
	snap := kv.db.ReadSnapshot(run)
	return snap.GetVersion(run, storage.KvKey(key), ver)
}

// Exists probes without materializing the value.
func (kv *KV) Exists(run types.RunID, key string) (bool, error) {
	_, ok, err := kv.Get(run, key)
	return ok, err
}

// Delete removes the key (tombstone: history survives).
func (kv *KV) Delete(run types.RunID, key string) error {
	return kv.db.Transaction(run, func(t *storage.TransactionContext) error {
		return kv.DeleteTx(t, key)
	})
}

func (kv *KV) DeleteTx(t *storage.TransactionContext, key string) error {
	return t.Delete(storage.KvKey(key), wal.EntryKvDelete)
}

// MGet reads many keys from one snapshot (consistent prefix).
func (kv *KV) MGet(run types.RunID, keys []string) ([]types.Versioned[types.Value], []bool, error) {
	snap := kv.db.ReadSnapshot(run)
	vals := make([]types.Versioned[types.Value], len(keys))
	oks := make([]bool, len(keys))
	for i, k := range keys {
		vals[i], oks[i] = snap.Get(storage.KvKey(k))
	}
	return vals, oks, nil
}

// MPut writes many keys in a single transaction.
func (kv *KV) MPut(run types.RunID, items map[string]types.Value) error {
	return kv.db.Transaction(run, func(t *storage.TransactionContext) error {
		for k, v := range items {
			if err := kv.PutTx(t, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// MDelete removes many keys atomically.
func (kv *KV) MDelete(run types.RunID, keys []string) error {
	return kv.db.Transaction(run, func(t *storage.TransactionContext) error {
		for _, k := range keys {
			if err := kv.DeleteTx(t, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// CAS writes iff the current version matches expected. expected nil
// means "create iff absent".
func (kv *KV) CAS(run types.RunID, key string, expected *types.Version, val types.Value) error {
	return kv.db.Transaction(run, func(t *storage.TransactionContext) error {
		return t.Cas(storage.KvKey(key), expected, val, wal.EntryKvPut)
	})
}

// Incr atomically adds delta to an Int key, creating it at delta if
// absent. Built on the CAS/conflict machinery with retry; the new
// value is returned. Incr(k, 0) still allocates a version: writes
// always version.
func (kv *KV) Incr(run types.RunID, key string, delta int64) (int64, error) {
	var result int64
	err := kv.db.TransactionWithRetry(run, storage.DefaultRetryPolicy(), func(t *storage.TransactionContext) error {
		cur, ok, err := t.Get(storage.KvKey(key))
		if err != nil {
			return err
		}
		base := int64(0)
		if ok {
			n, isInt := cur.Value.Int()
			if !isInt {
				return errors.InvalidOperation("incr target is not an Int")
			}
			base = n
		}
		result = base + delta
		return t.Put(storage.KvKey(key), types.Int(result), wal.EntryKvPut)
	})
	return result, err
}

// Item is one listing entry with the user key restored.
type Item struct {
	Key   string
	Value types.Versioned[types.Value]
}

// List returns all keys under prefix, sorted. Empty prefix lists the
// whole run.
func (kv *KV) List(run types.RunID, prefix string) ([]Item, error) {
	snap := kv.db.ReadSnapshot(run)
	raw := snap.List(storage.KvKey(prefix))
	out := make([]Item, 0, len(raw))
	for _, e := range raw {
		out = append(out, Item{Key: e.Key[2:], Value: e.Value})
	}
	return out, nil
}

// Keys lists only the key names under prefix.
func (kv *KV) Keys(run types.RunID, prefix string) ([]string, error) {
	items, err := kv.List(run, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys, nil
}

// Count counts keys under prefix.
func (kv *KV) Count(run types.RunID, prefix string) (int, error) {
	items, err := kv.List(run, prefix)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// History returns revisions newest-first. limit <= 0 means all;
// before (exclusive) pages further back.
func (kv *KV) History(run types.RunID, key string, limit int, before *types.Version) ([]types.Versioned[types.Value], error) {
	snap := kv.db.ReadSnapshot(run)
	hist, _, _ := snap.History(storage.KvKey(key), limit, before)
	return hist, nil
}
