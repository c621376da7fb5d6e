package primitives

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// TraceStore records hierarchical, immutable spans. A trace never
// changes once recorded, but children may be recorded under it later.
// Secondary indexes (type, tag, parent, time) are written in the same
// transaction as the insert.
type TraceStore struct {
	db *storage.Database
}

func NewTraceStore(db *storage.Database) *TraceStore {
	return &TraceStore{db: db}
}

// Trace is a decoded span record.
type Trace struct {
	ID        string
	Type      string
	Tags      []string
	Metadata  types.Value
	Parent    string // vazio para raízes
	Timestamp types.Timestamp
}

func newTraceID() string {
	// UUID v7: ordenado no tempo, como o gerador de chaves do engine
	id, err := uuid.NewV7()
	if err != nil {
		panic(err) // falha de entropia do sistema
	}
	return id.String()
}

func encodeTrace(tr Trace) types.Value {
	tags := make([]types.Value, len(tr.Tags))
	for i, tag := range tr.Tags {
		tags[i] = types.Str(tag)
	}
	obj := map[string]types.Value{
		"id":   types.Str(tr.ID),
		"type": types.Str(tr.Type),
		"tags": types.ArrayOf(tags),
		"meta": tr.Metadata,
		"ts":   types.Int(int64(tr.Timestamp)),
	}
	if tr.Parent != "" {
		obj["parent"] = types.Str(tr.Parent)
	}
	return types.Object(obj)
}

func decodeTrace(v types.Value) (Trace, error) {
	obj, ok := v.Object()
	if !ok {
		return Trace{}, fmt.Errorf("registro de trace não é objeto")
	}
	var tr Trace
	if f, ok := obj["id"]; ok {
		tr.ID, _ = f.Str()
	}
	if f, ok := obj["type"]; ok {
		tr.Type, _ = f.Str()
	}
	if f, ok := obj["tags"]; ok {
		arr, _ := f.Array()
		for _, t := range arr {
			s, _ := t.Str()
			tr.Tags = append(tr.Tags, s)
		}
	}
	if f, ok := obj["meta"]; ok {
		tr.Metadata = f
	}
	if f, ok := obj["parent"]; ok {
		tr.Parent, _ = f.Str()
	}
	if f, ok := obj["ts"]; ok {
		n, _ := f.Int()
		tr.Timestamp = types.Timestamp(n)
	}
	return tr, nil
}

// Record writes a root span and returns its id.
func (ts *TraceStore) Record(run types.RunID, traceType string, tags []string, metadata types.Value) (string, error) {
	var id string
	err := ts.db.Transaction(run, func(t *storage.TransactionContext) error {
		var e error
		id, e = ts.RecordTx(t, traceType, tags, metadata)
		return e
	})
	return id, err
}

// RecordChild writes a span under parent. The parent must exist; a
// trace's parent is immutable once written, which rules out cycles at
// the interface (a fresh id can never be an ancestor of an existing
// span).
func (ts *TraceStore) RecordChild(run types.RunID, parent, traceType string, tags []string, metadata types.Value) (string, error) {
	var id string
	err := ts.db.Transaction(run, func(t *storage.TransactionContext) error {
		var e error
		id, e = ts.RecordChildTx(t, parent, traceType, tags, metadata)
		return e
	})
	return id, err
}

// RecordTx records a root span inside a caller-owned transaction.
func (ts *TraceStore) RecordTx(t *storage.TransactionContext, traceType string, tags []string, metadata types.Value) (string, error) {
	return ts.record(t, "", traceType, tags, metadata)
}

// RecordChildTx records a child span inside a caller-owned transaction.
func (ts *TraceStore) RecordChildTx(t *storage.TransactionContext, parent, traceType string, tags []string, metadata types.Value) (string, error) {
	if parent == "" {
		return "", errors.InvalidInput("empty parent trace id")
	}
	_, ok, err := t.Get(storage.TraceKey(parent))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound(types.TraceRef(t.Run(), parent))
	}
	return ts.record(t, parent, traceType, tags, metadata)
}

func (ts *TraceStore) record(t *storage.TransactionContext, parent, traceType string, tags []string, metadata types.Value) (string, error) {
	if traceType == "" {
		return "", errors.InvalidInput("empty trace type")
	}
	tr := Trace{
		ID:        newTraceID(),
		Type:      traceType,
		Tags:      tags,
		Metadata:  metadata,
		Parent:    parent,
		Timestamp: types.Now(),
	}

	if err := t.Put(storage.TraceKey(tr.ID), encodeTrace(tr), wal.EntryTraceRecord); err != nil {
		return "", err
	}

	// Índices secundários, na mesma transação do insert
	marker := types.Null()
	if err := t.Put(storage.TraceIndexKey("type", traceType, tr.ID), marker, wal.EntryTraceRecord); err != nil {
		return "", err
	}
	for _, tag := range tags {
		if err := t.Put(storage.TraceIndexKey("tag", tag, tr.ID), marker, wal.EntryTraceRecord); err != nil {
			return "", err
		}
	}
	if parent != "" {
		if err := t.Put(storage.TraceIndexKey("parent", parent, tr.ID), marker, wal.EntryTraceRecord); err != nil {
			return "", err
		}
	}
	if err := t.Put(storage.TraceIndexKey("time", storage.TraceTimeValue(tr.Timestamp), tr.ID), marker, wal.EntryTraceRecord); err != nil {
		return "", err
	}
	return tr.ID, nil
}

// Get reads one span.
func (ts *TraceStore) Get(run types.RunID, id string) (types.Versioned[Trace], bool, error) {
	snap := ts.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.TraceKey(id))
	if !ok {
		return types.Versioned[Trace]{}, false, nil
	}
	tr, err := decodeTrace(v.Value)
	if err != nil {
		return types.Versioned[Trace]{}, false, errors.Corruption("undecodable trace", err)
	}
	return types.Versioned[Trace]{Value: tr, Version: v.Version, Timestamp: v.Timestamp}, true, nil
}

// ByType lists spans of one type.
func (ts *TraceStore) ByType(run types.RunID, traceType string) ([]Trace, error) {
	return ts.byIndex(run, "type", traceType)
}

// ByTag lists spans carrying a tag.
func (ts *TraceStore) ByTag(run types.RunID, tag string) ([]Trace, error) {
	return ts.byIndex(run, "tag", tag)
}

// Children lists the direct children of a span.
func (ts *TraceStore) Children(run types.RunID, parent string) ([]Trace, error) {
	return ts.byIndex(run, "parent", parent)
}

func (ts *TraceStore) byIndex(run types.RunID, dim, value string) ([]Trace, error) {
	snap := ts.db.ReadSnapshot(run)
	prefix := storage.TraceIndexPrefix(dim, value)
	hits := snap.List(prefix)
	out := make([]Trace, 0, len(hits))
	for _, h := range hits {
		id := h.Key[len(prefix):]
		v, ok := snap.Get(storage.TraceKey(id))
		if !ok {
			continue
		}
		tr, err := decodeTrace(v.Value)
		if err != nil {
			return nil, errors.Corruption("undecodable trace", err)
		}
		out = append(out, tr)
	}
	sortTraces(out)
	return out, nil
}

// ByTimeRange lists spans with from <= ts < to (microseconds).
func (ts *TraceStore) ByTimeRange(run types.RunID, from, to types.Timestamp) ([]Trace, error) {
	snap := ts.db.ReadSnapshot(run)
	prefix := storage.TraceIndexPrefix("time", "")
	// prefixo sem valor: corta o separador final para listar a dimensão
	prefix = prefix[:len(prefix)-1]
	hits := snap.List(prefix)
	out := make([]Trace, 0, len(hits))
	fromKey := storage.TraceTimeValue(from)
	toKey := storage.TraceTimeValue(to)
	for _, h := range hits {
		rest := h.Key[len(prefix):]
		// rest = <ts padded>\x00<id>
		if len(rest) < 21 {
			continue
		}
		tsPart := rest[:20]
		if tsPart < fromKey || tsPart >= toKey {
			continue
		}
		id := rest[21:]
		v, ok := snap.Get(storage.TraceKey(id))
		if !ok {
			continue
		}
		tr, err := decodeTrace(v.Value)
		if err != nil {
			return nil, errors.Corruption("undecodable trace", err)
		}
		out = append(out, tr)
	}
	sortTraces(out)
	return out, nil
}

// Roots lists spans with no parent.
func (ts *TraceStore) Roots(run types.RunID) ([]Trace, error) {
	snap := ts.db.ReadSnapshot(run)
	all := snap.List(storage.TraceKey(""))
	out := make([]Trace, 0, len(all))
	for _, h := range all {
		tr, err := decodeTrace(h.Value.Value)
		if err != nil {
			return nil, errors.Corruption("undecodable trace", err)
		}
		if tr.Parent == "" {
			out = append(out, tr)
		}
	}
	sortTraces(out)
	return out, nil
}

// TraceNode is the recursive tree view rooted at one span.
type TraceNode struct {
	Trace    Trace
	Children []*TraceNode
}

// Tree builds the recursive view under root.
func (ts *TraceStore) Tree(run types.RunID, root string) (*TraceNode, error) {
	v, ok, err := ts.Get(run, root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(types.TraceRef(run, root))
	}
	node := &TraceNode{Trace: v.Value}
	children, err := ts.Children(run, root)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		sub, err := ts.Tree(run, child.ID)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, sub)
	}
	return node, nil
}

func sortTraces(trs []Trace) {
	sort.Slice(trs, func(i, j int) bool {
		if trs[i].Timestamp != trs[j].Timestamp {
			return trs[i].Timestamp < trs[j].Timestamp
		}
		return trs[i].ID < trs[j].ID
	})
}
