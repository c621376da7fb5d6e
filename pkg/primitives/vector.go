package primitives

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// VectorStore keeps collections of fixed-dimension vectors with
// metadata. Search scores are normalized so that higher is always
// better regardless of metric: cosine similarity, raw dot product,
// negated euclidean distance.
type VectorStore struct {
	db *storage.Database

	// índice de busca substituível; força bruta é correto em qualquer
	// tamanho e reconstruível trivialmente na recuperação
	index vectorIndex
}

func NewVectorStore(db *storage.Database) *VectorStore {
	return &VectorStore{db: db, index: bruteForceIndex{}}
}

// Metric selects the distance function of a collection.
type Metric string

const (
	Cosine     Metric = "cosine"
	Euclidean  Metric = "euclidean"
	DotProduct Metric = "dot"
)

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name   string
	Dim    int
	Metric Metric
}

// VectorEntry is a stored vector with metadata.
type VectorEntry struct {
	Key      string
	Vector   []float64
	Metadata types.Value
}

// SearchResult is one k-NN hit; Score is higher-is-better.
type SearchResult struct {
	Key      string
	Score    float64
	Metadata types.Value
}

// CreateCollection registers a collection with fixed dimension and
// metric; fails if it already exists.
func (vs *VectorStore) CreateCollection(run types.RunID, name string, dim int, metric Metric) error {
	if dim <= 0 {
		return errors.InvalidInput("vector dimension must be positive")
	}
	switch metric {
	case Cosine, Euclidean, DotProduct:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown metric %q", metric))
	}
	return vs.db.Transaction(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Get(storage.VectorCollKey(name))
		if err != nil {
			return err
		}
		if ok {
			return errors.InvalidOperation("collection already exists: " + name)
		}
		meta := types.Object(map[string]types.Value{
			"dim":    types.Int(int64(dim)),
			"metric": types.Str(string(metric)),
		})
		return t.Put(storage.VectorCollKey(name), meta, wal.EntryVectorCollection)
	})
}

// DropCollection removes the collection and all its vectors.
func (vs *VectorStore) DropCollection(run types.RunID, name string) error {
	return vs.db.Transaction(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Get(storage.VectorCollKey(name))
		if err != nil {
			return err
		}
		if !ok {
			return errors.CollectionNotFound(t.Run(), name)
		}
		items, err := t.List(storage.VectorPrefix(name))
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := t.Delete(it.Key, wal.EntryVectorDelete); err != nil {
				return err
			}
		}
		return t.Delete(storage.VectorCollKey(name), wal.EntryVectorDrop)
	})
}

// Collections lists the collections of a run.
func (vs *VectorStore) Collections(run types.RunID) ([]CollectionInfo, error) {
	snap := vs.db.ReadSnapshot(run)
	items := snap.List(storage.VectorCollKey(""))
	out := make([]CollectionInfo, 0, len(items))
	for _, it := range items {
		info, err := decodeCollection(it.Key[2:], it.Value.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func decodeCollection(name string, v types.Value) (CollectionInfo, error) {
	obj, ok := v.Object()
	if !ok {
		return CollectionInfo{}, errors.Corruption("undecodable collection metadata", nil)
	}
	info := CollectionInfo{Name: name}
	if f, ok := obj["dim"]; ok {
		n, _ := f.Int()
		info.Dim = int(n)
	}
	if f, ok := obj["metric"]; ok {
		s, _ := f.Str()
		info.Metric = Metric(s)
	}
	return info, nil
}

func (vs *VectorStore) collection(t *storage.TransactionContext, run types.RunID, name string) (CollectionInfo, error) {
	v, ok, err := t.Get(storage.VectorCollKey(name))
	if err != nil {
		return CollectionInfo{}, err
	}
	if !ok {
		return CollectionInfo{}, errors.CollectionNotFound(run, name)
	}
	return decodeCollection(name, v.Value)
}

// Upsert inserts or replaces a vector; the length must match the
// collection's dimension.
func (vs *VectorStore) Upsert(run types.RunID, coll, key string, vector []float64, metadata types.Value) (types.Version, error) {
	return vs.db.TransactionV(run, func(t *storage.TransactionContext) error {
		return vs.UpsertTx(t, coll, key, vector, metadata)
	})
}

// UpsertTx is Upsert inside a caller-owned transaction.
func (vs *VectorStore) UpsertTx(t *storage.TransactionContext, coll, key string, vector []float64, metadata types.Value) error {
	info, err := vs.collection(t, t.Run(), coll)
	if err != nil {
		return err
	}
	if len(vector) != info.Dim {
		return errors.DimensionMismatch(types.VectorRef(t.Run(), coll, key), info.Dim, len(vector))
	}
	val := types.Object(map[string]types.Value{
		"vec":  types.FloatArray(vector),
		"meta": metadata,
	})
	return t.Put(storage.VectorKey(coll, key), val, wal.EntryVectorUpsert)
}

// Get reads one vector.
func (vs *VectorStore) Get(run types.RunID, coll, key string) (types.Versioned[VectorEntry], bool, error) {
	snap := vs.db.ReadSnapshot(run)
	if _, ok := snap.Get(storage.VectorCollKey(coll)); !ok {
		return types.Versioned[VectorEntry]{}, false, errors.CollectionNotFound(run, coll)
	}
	v, ok := snap.Get(storage.VectorKey(coll, key))
	if !ok {
		return types.Versioned[VectorEntry]{}, false, nil
	}
	entry, err := decodeVectorEntry(key, v.Value)
	if err != nil {
		return types.Versioned[VectorEntry]{}, false, err
	}
	return types.Versioned[VectorEntry]{Value: entry, Version: v.Version, Timestamp: v.Timestamp}, true, nil
}

func decodeVectorEntry(key string, v types.Value) (VectorEntry, error) {
	obj, ok := v.Object()
	if !ok {
		return VectorEntry{}, errors.Corruption("undecodable vector entry", nil)
	}
	entry := VectorEntry{Key: key}
	if f, ok := obj["vec"]; ok {
		vec, ok := f.Floats()
		if !ok {
			return VectorEntry{}, errors.Corruption("vector payload is not a float array", nil)
		}
		entry.Vector = vec
	}
	if f, ok := obj["meta"]; ok {
		entry.Metadata = f
	}
	return entry, nil
}

// Delete removes one vector.
func (vs *VectorStore) Delete(run types.RunID, coll, key string) error {
	return vs.db.Transaction(run, func(t *storage.TransactionContext) error {
		if _, err := vs.collection(t, run, coll); err != nil {
			return err
		}
		_, ok, err := t.Get(storage.VectorKey(coll, key))
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(types.VectorRef(run, coll, key))
		}
		return t.Delete(storage.VectorKey(coll, key), wal.EntryVectorDelete)
	})
}

// FilterOp is a metadata predicate operator.
type FilterOp string

const (
	FilterEq       FilterOp = "eq"
	FilterNe       FilterOp = "ne"
	FilterGt       FilterOp = "gt"
	FilterGte      FilterOp = "gte"
	FilterLt       FilterOp = "lt"
	FilterLte      FilterOp = "lte"
	FilterIn       FilterOp = "in"
	FilterContains FilterOp = "contains"
)

// Filter constrains search hits by a metadata field. Multiple filters
// are conjunctive.
type Filter struct {
	Field string
	Op    FilterOp
	Value types.Value
}

// Search runs k-NN over the collection with metric-correct, normalized
// scores (higher is always better). The all-zero query under Cosine is
// rejected with InvalidInput.
func (vs *VectorStore) Search(run types.RunID, coll string, query []float64, k int, filters []Filter) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidInput("k must be positive")
	}
	snap := vs.db.ReadSnapshot(run)
	cv, ok := snap.Get(storage.VectorCollKey(coll))
	if !ok {
		return nil, errors.CollectionNotFound(run, coll)
	}
	info, err := decodeCollection(coll, cv.Value)
	if err != nil {
		return nil, err
	}
	if len(query) != info.Dim {
		return nil, errors.DimensionMismatch(types.VectorRef(run, coll, ""), info.Dim, len(query))
	}
	if info.Metric == Cosine && norm(query) == 0 {
		return nil, errors.InvalidInput("all-zero query vector under cosine metric")
	}

	items := snap.List(storage.VectorPrefix(coll))
	entries := make([]VectorEntry, 0, len(items))
	for _, it := range items {
		entry, err := decodeVectorEntry(it.Key[len(storage.VectorPrefix(coll)):], it.Value.Value)
		if err != nil {
			return nil, err
		}
		if !matchFilters(entry.Metadata, filters) {
			continue
		}
		entries = append(entries, entry)
	}

	return vs.index.Search(entries, query, k, info.Metric)
}

// vectorIndex é o ponto de substituição do índice interno: força
// bruta hoje; um índice ANN pode acelerar a busca contanto que seja
// reconstruível a partir dos vetores armazenados.
type vectorIndex interface {
	Search(entries []VectorEntry, query []float64, k int, metric Metric) ([]SearchResult, error)
}

type bruteForceIndex struct{}

func (bruteForceIndex) Search(entries []VectorEntry, query []float64, k int, metric Metric) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		score, err := similarity(query, e.Vector, metric)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Key: e.Key, Score: score, Metadata: e.Metadata})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// similarity devolve o score higher-is-better da métrica.
func similarity(a, b []float64, metric Metric) (float64, error) {
	switch metric {
	case Cosine:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			// vetor armazenado todo-zero: similaridade indefinida,
			// tratado como o pior score possível
			return -1, nil
		}
		return dot(a, b) / (na * nb), nil
	case Euclidean:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return -math.Sqrt(sum), nil
	case DotProduct:
		return dot(a, b), nil
	}
	return 0, errors.InvalidInput(fmt.Sprintf("unknown metric %q", metric))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}

// matchFilters avalia os predicados de metadados (conjunção).
func matchFilters(meta types.Value, filters []Filter) bool {
	for _, f := range filters {
		field, ok := meta.Field(f.Field)
		if !ok {
			return false
		}
		if !matchFilter(field, f) {
			return false
		}
	}
	return true
}

func matchFilter(field types.Value, f Filter) bool {
	switch f.Op {
	case FilterEq:
		return field.Equal(f.Value)
	case FilterNe:
		return !field.Equal(f.Value)
	case FilterGt, FilterGte, FilterLt, FilterLte:
		cmp, ok := compareScalar(field, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case FilterGt:
			return cmp > 0
		case FilterGte:
			return cmp >= 0
		case FilterLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case FilterIn:
		arr, ok := f.Value.Array()
		if !ok {
			return false
		}
		for _, e := range arr {
			if field.Equal(e) {
				return true
			}
		}
		return false
	case FilterContains:
		if s, ok := field.Str(); ok {
			sub, ok := f.Value.Str()
			return ok && strings.Contains(s, sub)
		}
		if arr, ok := field.Array(); ok {
			for _, e := range arr {
				if e.Equal(f.Value) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// compareScalar compara números (Int/Float promovidos) e strings.
func compareScalar(a, b types.Value) (int, bool) {
	af, aok := numericOf(a)
	bf, bok := numericOf(b)
	if aok && bok {
		if af < bf {
			return -1, true
		}
		if af > bf {
			return 1, true
		}
		return 0, true
	}
	as, aok := a.Str()
	bs, bok := b.Str()
	if aok && bok {
		if as < bs {
			return -1, true
		}
		if as > bs {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func numericOf(v types.Value) (float64, bool) {
	if n, ok := v.Int(); ok {
		return float64(n), true
	}
	if f, ok := v.Float(); ok {
		return f, true
	}
	return 0, false
}

