package primitives

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

func testDB(t *testing.T) *storage.Database {
	t.Helper()
	opts := storage.DefaultOptions()
	opts.Durability.Mode = wal.ModeInMemory
	db, err := storage.Open("", opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKVPutGetRoundTrip(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	ver, err := kv.Put(run, "user:1", types.Object(map[string]types.Value{"name": types.Str("Alice")}))
	require.NoError(t, err)
	assert.Equal(t, types.VersionTxn, ver.Kind)

	got, ok, err := kv.Get(run, "user:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(types.Object(map[string]types.Value{"name": types.Str("Alice")})))
	assert.Equal(t, ver, got.Version)
}

func TestKVOverwriteAndHistory(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	_, err := kv.Put(run, "k", types.Str("v1"))
	require.NoError(t, err)
	_, err = kv.Put(run, "k", types.Str("v2"))
	require.NoError(t, err)

	got, ok, _ := kv.Get(run, "k")
	require.True(t, ok)
	assert.True(t, got.Value.Equal(types.Str("v2")))

	hist, err := kv.History(run, "k", 0, nil)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Value.Equal(types.Str("v2")), "history[0] is the newest")
	assert.True(t, hist[1].Value.Equal(types.Str("v1")))
}

func TestKVDeleteAndExists(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	kv.Put(run, "k", types.Int(1))
	ok, _ := kv.Exists(run, "k")
	require.True(t, ok)

	require.NoError(t, kv.Delete(run, "k"))
	ok, _ = kv.Exists(run, "k")
	assert.False(t, ok)

	// histórico sobrevive ao tombstone
	hist, _ := kv.History(run, "k", 0, nil)
	assert.Len(t, hist, 1)
}

func TestKVBulkOperations(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	require.NoError(t, kv.MPut(run, map[string]types.Value{
		"a": types.Int(1),
		"b": types.Int(2),
		"c": types.Int(3),
	}))

	vals, oks, err := kv.MGet(run, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.True(t, oks[0] && oks[1])
	assert.False(t, oks[2])
	assert.True(t, vals[0].Value.Equal(types.Int(1)))

	require.NoError(t, kv.MDelete(run, []string{"a", "b"}))
	n, _ := kv.Count(run, "")
	assert.Equal(t, 1, n)
}

func TestKVListSortedAndEmptyPrefix(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	kv.Put(run, "z", types.Int(1))
	kv.Put(run, "a", types.Int(2))
	kv.Put(run, "m:x", types.Int(3))

	// prefixo vazio lista todas as chaves do run, ordenadas
	items, err := kv.List(run, "")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "m:x", "z"}, []string{items[0].Key, items[1].Key, items[2].Key})

	keys, _ := kv.Keys(run, "m:")
	assert.Equal(t, []string{"m:x"}, keys)
}

func TestKVIncr(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	n, err := kv.Incr(run, "c", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = kv.Incr(run, "c", -2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// incr 0 devolve o valor atual mas aloca versão nova
	before, _, _ := kv.Get(run, "c")
	n, err = kv.Incr(run, "c", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	after, _, _ := kv.Get(run, "c")
	assert.NotEqual(t, before.Version, after.Version, "writes always version")

	// incr sobre não-Int é erro de programador
	kv.Put(run, "s", types.Str("text"))
	_, err = kv.Incr(run, "s", 1)
	assert.Equal(t, errors.CodeInvalidOperation, errors.CodeOf(err))
}

func TestKVIncrConcurrent(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()
	kv.Put(run, "c", types.Int(0))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := kv.Incr(run, "c", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, _ := kv.Get(run, "c")
	n, _ := got.Value.Int()
	assert.EqualValues(t, 2, n, "first wins, second retries")
}

func TestKVCAS(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	run := types.NewRunID()

	// cria se ausente
	require.NoError(t, kv.CAS(run, "k", nil, types.Int(1)))
	// conflita se presente
	err := kv.CAS(run, "k", nil, types.Int(2))
	assert.Equal(t, errors.CodeVersionConflict, errors.CodeOf(err))

	cur, _, _ := kv.Get(run, "k")
	v0 := cur.Version
	require.NoError(t, kv.CAS(run, "k", &v0, types.Int(2)))
	// segundo cas com a mesma versão esperada falha
	err = kv.CAS(run, "k", &v0, types.Int(3))
	assert.Equal(t, errors.CodeVersionConflict, errors.CodeOf(err))
}

func TestKVCrossRunIsolation(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	a, b := types.NewRunID(), types.NewRunID()

	kv.Put(a, "k", types.Int(1))
	_, ok, _ := kv.Get(b, "k")
	assert.False(t, ok, "runs are isolation namespaces")
}
