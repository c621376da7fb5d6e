package primitives

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

func TestStateInitFailsIfPresent(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	run := types.NewRunID()

	ver, err := sc.Init(run, "cell", types.Int(0))
	require.NoError(t, err)
	assert.Equal(t, types.CounterVersion(1), ver)

	_, err = sc.Init(run, "cell", types.Int(1))
	assert.Equal(t, errors.CodeVersionConflict, errors.CodeOf(err))
}

func TestStateSetBumpsCounter(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	run := types.NewRunID()

	sc.Init(run, "cell", types.Str("a"))
	ver, err := sc.Set(run, "cell", types.Str("b"))
	require.NoError(t, err)
	assert.Equal(t, types.CounterVersion(2), ver)

	got, ok, _ := sc.Get(run, "cell")
	require.True(t, ok)
	assert.True(t, got.Value.Equal(types.Str("b")))
	assert.Equal(t, types.CounterVersion(2), got.Version)
}

func TestStateCAS(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	run := types.NewRunID()
	sc.Init(run, "cell", types.Int(10))

	// sucesso com o contador atual
	counter, swapped, err := sc.CAS(run, "cell", 1, types.Int(11))
	require.NoError(t, err)
	require.True(t, swapped)
	assert.EqualValues(t, 2, counter)

	// o mesmo contador esperado de novo: mismatch → None, não erro
	_, swapped, err = sc.CAS(run, "cell", 1, types.Int(12))
	require.NoError(t, err)
	assert.False(t, swapped)

	// célula inexistente: mismatch
	_, swapped, err = sc.CAS(run, "ghost", 1, types.Int(1))
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestStateTransition(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	run := types.NewRunID()
	sc.Init(run, "counter", types.Int(0))

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sc.Transition(run, "counter", func(cur types.Value) (types.Value, error) {
				n, _ := cur.Int()
				return types.Int(n + 1), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, _ := sc.Get(run, "counter")
	n, _ := got.Value.Int()
	assert.EqualValues(t, workers, n, "transition retries until the CAS lands")
}

func TestStateTransitionMissingCell(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	_, err := sc.Transition(types.NewRunID(), "ghost", func(v types.Value) (types.Value, error) {
		return v, nil
	})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestStateDelete(t *testing.T) {
	db := testDB(t)
	sc := NewStateCell(db)
	run := types.NewRunID()
	sc.Init(run, "cell", types.Int(1))

	require.NoError(t, sc.Delete(run, "cell"))
	ok, _ := sc.Exists(run, "cell")
	assert.False(t, ok)

	err := sc.Delete(run, "cell")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}
