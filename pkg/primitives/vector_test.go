package primitives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

func metaOf(kind string) types.Value {
	return types.Object(map[string]types.Value{"kind": types.Str(kind)})
}

func TestVectorCollectionLifecycle(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()

	require.NoError(t, vs.CreateCollection(run, "emb", 3, Cosine))
	err := vs.CreateCollection(run, "emb", 3, Cosine)
	assert.Equal(t, errors.CodeInvalidOperation, errors.CodeOf(err))

	colls, err := vs.Collections(run)
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, CollectionInfo{Name: "emb", Dim: 3, Metric: Cosine}, colls[0])

	vs.Upsert(run, "emb", "k", []float64{1, 0, 0}, types.Null())
	require.NoError(t, vs.DropCollection(run, "emb"))
	colls, _ = vs.Collections(run)
	assert.Empty(t, colls)

	_, _, err = vs.Get(run, "emb", "k")
	assert.Equal(t, errors.CodeCollectionNotFound, errors.CodeOf(err))
}

func TestVectorDimensionValidation(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 4, Euclidean)

	_, err := vs.Upsert(run, "emb", "k", []float64{1, 2}, types.Null())
	require.Equal(t, errors.CodeDimensionMismatch, errors.CodeOf(err))
	var se *errors.Error
	asErr(err, &se)
	require.NotNil(t, se)
	assert.Equal(t, 4, se.ExpectedDim)
	assert.Equal(t, 2, se.GotDim)

	_, err = vs.Search(run, "emb", []float64{1, 2}, 1, nil)
	assert.Equal(t, errors.CodeDimensionMismatch, errors.CodeOf(err))
}

func asErr(err error, target **errors.Error) {
	if e, ok := err.(*errors.Error); ok {
		*target = e
	}
}

func TestVectorUpsertGetDelete(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 2, Cosine)

	_, err := vs.Upsert(run, "emb", "k", []float64{0.5, 0.5}, metaOf("doc"))
	require.NoError(t, err)

	got, ok, err := vs.Get(run, "emb", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.5}, got.Value.Vector)
	assert.True(t, got.Value.Metadata.Equal(metaOf("doc")))

	// upsert substitui
	vs.Upsert(run, "emb", "k", []float64{1, 0}, metaOf("doc2"))
	got, _, _ = vs.Get(run, "emb", "k")
	assert.Equal(t, []float64{1, 0}, got.Value.Vector)

	require.NoError(t, vs.Delete(run, "emb", "k"))
	_, ok, _ = vs.Get(run, "emb", "k")
	assert.False(t, ok)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(vs.Delete(run, "emb", "k")))
}

func TestVectorSearchCosineOrdering(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 2, Cosine)

	vs.Upsert(run, "emb", "east", []float64{1, 0}, types.Null())
	vs.Upsert(run, "emb", "north", []float64{0, 1}, types.Null())
	vs.Upsert(run, "emb", "diag", []float64{1, 1}, types.Null())

	hits, err := vs.Search(run, "emb", []float64{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "east", hits[0].Key, "higher score first")
	assert.Equal(t, "diag", hits[1].Key)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	// k limita
	hits, _ = vs.Search(run, "emb", []float64{1, 0}, 1, nil)
	assert.Len(t, hits, 1)
}

func TestVectorSearchEuclideanNormalizedScores(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 1, Euclidean)

	vs.Upsert(run, "emb", "near", []float64{1}, types.Null())
	vs.Upsert(run, "emb", "far", []float64{10}, types.Null())

	hits, err := vs.Search(run, "emb", []float64{0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "near", hits[0].Key, "smaller distance ⇒ higher score")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestVectorSearchDotProduct(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 2, DotProduct)

	vs.Upsert(run, "emb", "big", []float64{10, 0}, types.Null())
	vs.Upsert(run, "emb", "small", []float64{1, 0}, types.Null())

	hits, _ := vs.Search(run, "emb", []float64{1, 0}, 2, nil)
	assert.Equal(t, "big", hits[0].Key)
	assert.InDelta(t, 10.0, hits[0].Score, 1e-9)
}

func TestVectorSearchFilters(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 1, Cosine)

	vs.Upsert(run, "emb", "a", []float64{1}, types.Object(map[string]types.Value{
		"lang": types.Str("pt"), "stars": types.Int(5), "tags": types.Array(types.Str("x")),
	}))
	vs.Upsert(run, "emb", "b", []float64{1}, types.Object(map[string]types.Value{
		"lang": types.Str("en"), "stars": types.Int(2), "tags": types.Array(types.Str("y")),
	}))

	hits, err := vs.Search(run, "emb", []float64{1}, 10, []Filter{{Field: "lang", Op: FilterEq, Value: types.Str("pt")}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)

	hits, _ = vs.Search(run, "emb", []float64{1}, 10, []Filter{{Field: "stars", Op: FilterGte, Value: types.Int(3)}})
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)

	hits, _ = vs.Search(run, "emb", []float64{1}, 10, []Filter{{Field: "lang", Op: FilterIn, Value: types.Array(types.Str("en"), types.Str("fr"))}})
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Key)

	hits, _ = vs.Search(run, "emb", []float64{1}, 10, []Filter{{Field: "tags", Op: FilterContains, Value: types.Str("x")}})
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)

	// conjunção
	hits, _ = vs.Search(run, "emb", []float64{1}, 10, []Filter{
		{Field: "lang", Op: FilterEq, Value: types.Str("pt")},
		{Field: "stars", Op: FilterLt, Value: types.Int(3)},
	})
	assert.Empty(t, hits)
}

func TestVectorZeroQueryUnderCosine(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	vs.CreateCollection(run, "emb", 2, Cosine)
	vs.Upsert(run, "emb", "k", []float64{1, 0}, types.Null())

	_, err := vs.Search(run, "emb", []float64{0, 0}, 1, nil)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err), "documented error, no crash")
}

func TestVectorUnknownCollection(t *testing.T) {
	db := testDB(t)
	vs := NewVectorStore(db)
	run := types.NewRunID()
	_, err := vs.Search(run, "ghost", []float64{1}, 1, nil)
	assert.Equal(t, errors.CodeCollectionNotFound, errors.CodeOf(err))
	_, err = vs.Upsert(run, "ghost", "k", []float64{1}, types.Null())
	assert.Equal(t, errors.CodeCollectionNotFound, errors.CodeOf(err))
}
