package storage

import (
	"sort"

	"github.com/stratadb-labs/strata-go/pkg/types"
)

// Replay determinístico: reconstrói, a partir do registro ordenado de
// um run, uma visão somente-leitura por primitivo. A visão é
// derivada: não toca o armazenamento canônico e só persiste se o
// chamador materializar. Duas invocações sobre o mesmo estado
// produzem visões idênticas.

// ReadOnlyView é o dicionário de estado por primitivo de um run.
type ReadOnlyView struct {
	Run types.RunID

	// primitivo → chave de usuário → estado final visível
	Primitives map[string]map[string]types.Versioned[types.Value]
}

// ReplayRun reconstrói a visão de um run percorrendo o histórico
// commitado em ordem de commit.
func (db *Database) ReplayRun(run types.RunID) *ReadOnlyView {
	view := &ReadOnlyView{
		Run:        run,
		Primitives: make(map[string]map[string]types.Versioned[types.Value]),
	}

	sh := db.store.Shard(run, false)
	if sh == nil {
		return view
	}

	watermark := sh.committed.Load()
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	keys := make([]string, 0, len(sh.entries))
	for k := range sh.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prim, ok := primitiveOfKey(key)
		if !ok {
			continue // entradas derivadas (heads, índices, regiões)
		}
		e := sh.entries[key]

		// Rejoga a cadeia em ordem de commit; o estado final é a
		// última revisão visível (tombstone remove a chave).
		var final *record
		for i := range e.recs {
			if e.recs[i].commit > watermark {
				break
			}
			final = &e.recs[i]
		}
		if final == nil || final.deleted {
			continue
		}

		m := view.Primitives[prim]
		if m == nil {
			m = make(map[string]types.Versioned[types.Value])
			view.Primitives[prim] = m
		}
		m[userKeyOf(key)] = types.Versioned[types.Value]{
			Value:     final.val,
			Version:   final.ver,
			Timestamp: final.ts,
		}
	}
	return view
}

// Equal compara duas visões valor a valor (igualdade estrita do
// modelo de dados; versões e timestamps incluídos).
func (v *ReadOnlyView) Equal(o *ReadOnlyView) bool {
	if len(v.Primitives) != len(o.Primitives) {
		return false
	}
	for prim, m := range v.Primitives {
		om, ok := o.Primitives[prim]
		if !ok || len(m) != len(om) {
			return false
		}
		for k, a := range m {
			b, ok := om[k]
			if !ok || a.Version != b.Version || a.Timestamp != b.Timestamp || !a.Value.Equal(b.Value) {
				return false
			}
		}
	}
	return true
}

// PrimitiveDiff classifica as chaves de um primitivo entre dois runs.
type PrimitiveDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty indica ausência de divergência.
func (d PrimitiveDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// RunDiff é o resultado de DiffRuns, por primitivo.
type RunDiff struct {
	A, B       types.RunID
	Primitives map[string]PrimitiveDiff
}

// Empty indica runs equivalentes em valor.
func (d *RunDiff) Empty() bool {
	for _, pd := range d.Primitives {
		if !pd.Empty() {
			return false
		}
	}
	return true
}

// DiffRuns caminha as duas visões rejogadas e classifica cada chave
// como added/removed/modified. Versões e timestamps divergem entre
// runs por construção; a comparação é por valor.
func (db *Database) DiffRuns(a, b types.RunID) *RunDiff {
	va := db.ReplayRun(a)
	vb := db.ReplayRun(b)

	diff := &RunDiff{A: a, B: b, Primitives: make(map[string]PrimitiveDiff)}

	prims := make(map[string]bool)
	for p := range va.Primitives {
		prims[p] = true
	}
	for p := range vb.Primitives {
		prims[p] = true
	}

	for p := range prims {
		ma := va.Primitives[p]
		mb := vb.Primitives[p]
		var pd PrimitiveDiff
		for k, av := range ma {
			bv, ok := mb[k]
			if !ok {
				pd.Removed = append(pd.Removed, k)
				continue
			}
			if !av.Value.Equal(bv.Value) {
				pd.Modified = append(pd.Modified, k)
			}
		}
		for k := range mb {
			if _, ok := ma[k]; !ok {
				pd.Added = append(pd.Added, k)
			}
		}
		sort.Strings(pd.Added)
		sort.Strings(pd.Removed)
		sort.Strings(pd.Modified)
		if !pd.Empty() {
			diff.Primitives[p] = pd
		}
	}
	return diff
}
