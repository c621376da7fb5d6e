package primitives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

func TestEventAppendAllocatesSequences(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	run := types.NewRunID()

	for i := 1; i <= 5; i++ {
		seq, err := el.Append(run, "audit", "op", types.Object(map[string]types.Value{"i": types.Int(int64(i))}))
		require.NoError(t, err)
		assert.EqualValues(t, i, seq, "sequences are dense and start at 1")
	}

	count, err := el.Count(run, "audit")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	head, ok, _ := el.Head(run, "audit")
	require.True(t, ok)
	assert.EqualValues(t, 5, head)
}

func TestEventSequencesArePerStream(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	run := types.NewRunID()

	el.Append(run, "a", "x", types.Null())
	el.Append(run, "a", "x", types.Null())
	seq, _ := el.Append(run, "b", "x", types.Null())
	assert.EqualValues(t, 1, seq, "each (run, stream) has its own counter")

	streams, err := el.Streams(run)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "a", streams[0].Name)
	assert.EqualValues(t, 2, streams[0].Length)
}

func TestEventGetAndRange(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	run := types.NewRunID()

	for i := 1; i <= 10; i++ {
		el.Append(run, "s", "tick", types.Int(int64(i)))
	}

	ev, ok, err := el.Get(run, "s", 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 4, ev.Value.Seq)
	assert.True(t, ev.Value.Payload.Equal(types.Int(4)))
	assert.Equal(t, types.VersionSequence, ev.Version.Kind)

	evs, err := el.Range(run, "s", 3, 6)
	require.NoError(t, err)
	require.Len(t, evs, 4)
	assert.EqualValues(t, 3, evs[0].Seq)
	assert.EqualValues(t, 6, evs[3].Seq)
}

func TestEventImmutableChainVerifies(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	run := types.NewRunID()

	for i := 0; i < 100; i++ {
		_, err := el.Append(run, "x", "e", types.Object(map[string]types.Value{"i": types.Int(int64(i))}))
		require.NoError(t, err)
	}

	ver, err := el.VerifyChain(run)
	require.NoError(t, err)
	assert.True(t, ver.Valid)
	assert.EqualValues(t, 100, ver.Length)
	assert.Zero(t, ver.FirstInvalid)
}

func TestEventChainTamperDetection(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	run := types.NewRunID()

	for i := 0; i < 10; i++ {
		el.Append(run, "x", "e", types.Int(int64(i)))
	}

	// adultera o payload do evento 4 direto no armazenamento,
	// mantendo o hash gravado
	err := db.Transaction(run, func(tx *storage.TransactionContext) error {
		v, ok, err := tx.Get(storage.EventKey("x", 4))
		require.True(t, ok)
		if err != nil {
			return err
		}
		obj, _ := v.Value.Object()
		forged := make(map[string]types.Value, len(obj))
		for k, f := range obj {
			forged[k] = f
		}
		forged["payload"] = types.Int(999)
		return tx.PutVersioned(storage.EventKey("x", 4), types.Object(forged),
			types.SequenceVersion(4), wal.EntryEventAppend)
	})
	require.NoError(t, err)

	ver, err := el.VerifyStream(run, "x")
	require.NoError(t, err)
	assert.False(t, ver.Valid)
	assert.EqualValues(t, 4, ver.FirstInvalid)
}

func TestEventAppendTxAtomicWithOtherPrimitives(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	kv := NewKV(db)
	run := types.NewRunID()

	err := db.Transaction(run, func(tx *storage.TransactionContext) error {
		if err := kv.PutTx(tx, "user:1", types.Str("Alice")); err != nil {
			return err
		}
		_, err := el.AppendTx(tx, "audit", "create", types.Str("1"))
		return err
	})
	require.NoError(t, err)

	count, _ := el.Count(run, "audit")
	assert.EqualValues(t, 1, count)
	_, ok, _ := kv.Get(run, "user:1")
	assert.True(t, ok)
}

func TestEventEmptyStreamRejected(t *testing.T) {
	db := testDB(t)
	el := NewEventLog(db)
	_, err := el.Append(types.NewRunID(), "", "e", types.Null())
	assert.Error(t, err)
}
