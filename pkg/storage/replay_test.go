package storage

import (
	"testing"

	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

func seedRun(t *testing.T, db *Database, vals map[string]int64) types.RunID {
	t.Helper()
	run, err := db.BeginRun()
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range vals {
		if err := db.Transaction(run, func(tx *TransactionContext) error {
			return tx.Put(KvKey(k), types.Int(v), wal.EntryKvPut)
		}); err != nil {
			t.Fatal(err)
		}
	}
	return run
}

func TestReplayDeterministic(t *testing.T) {
	db := openMem(t)
	run := seedRun(t, db, map[string]int64{"a": 1, "b": 2, "c": 3})

	first := db.ReplayRun(run)
	second := db.ReplayRun(run)
	if !first.Equal(second) {
		t.Error("replay must be deterministic and idempotent")
	}

	kvState := first.Primitives["kv"]
	if len(kvState) != 3 {
		t.Fatalf("kv view = %d entries", len(kvState))
	}
	if !kvState["a"].Value.Equal(types.Int(1)) {
		t.Errorf("view[a] = %v", kvState["a"].Value)
	}
}

func TestReplayIsSideEffectFree(t *testing.T) {
	db := openMem(t)
	run := seedRun(t, db, map[string]int64{"a": 1})

	before, _ := db.ReadSnapshot(run).Get(KvKey("a"))
	view := db.ReplayRun(run)
	after, _ := db.ReadSnapshot(run).Get(KvKey("a"))

	if before.Version != after.Version {
		t.Error("replay must not mutate the canonical store")
	}
	// mutar a visão não toca o armazenamento
	view.Primitives["kv"]["a"] = types.Versioned[types.Value]{Value: types.Int(999)}
	final, _ := db.ReadSnapshot(run).Get(KvKey("a"))
	if !final.Value.Equal(types.Int(1)) {
		t.Error("view is derived only")
	}
}

func TestReplayExcludesDeleted(t *testing.T) {
	db := openMem(t)
	run := seedRun(t, db, map[string]int64{"keep": 1, "drop": 2})
	db.Transaction(run, func(tx *TransactionContext) error {
		return tx.Delete(KvKey("drop"), wal.EntryKvDelete)
	})

	view := db.ReplayRun(run)
	if _, ok := view.Primitives["kv"]["drop"]; ok {
		t.Error("deleted keys must not appear in the replayed view")
	}
	if _, ok := view.Primitives["kv"]["keep"]; !ok {
		t.Error("surviving keys must appear")
	}
}

func TestDiffRuns(t *testing.T) {
	db := openMem(t)
	a := seedRun(t, db, map[string]int64{"same": 1, "changed": 10, "only_a": 5})
	b := seedRun(t, db, map[string]int64{"same": 1, "changed": 20, "only_b": 7})

	diff := db.DiffRuns(a, b)
	kv := diff.Primitives["kv"]

	if len(kv.Added) != 1 || kv.Added[0] != "only_b" {
		t.Errorf("added = %v", kv.Added)
	}
	if len(kv.Removed) != 1 || kv.Removed[0] != "only_a" {
		t.Errorf("removed = %v", kv.Removed)
	}
	if len(kv.Modified) != 1 || kv.Modified[0] != "changed" {
		t.Errorf("modified = %v", kv.Modified)
	}
}

func TestDiffEqualRuns(t *testing.T) {
	db := openMem(t)
	a := seedRun(t, db, map[string]int64{"x": 1})
	b := seedRun(t, db, map[string]int64{"x": 1})
	if diff := db.DiffRuns(a, b); !diff.Empty() {
		t.Errorf("equal-valued runs must produce an empty diff: %+v", diff.Primitives)
	}
}
