package primitives

import (
	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/jsonpath"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// JsonStore keeps full JSON documents with path-level mutations.
// Conflict detection is region-based: transactions touching disjoint
// regions of the same document commute; overlapping or nested regions
// conflict. Whole-document operations occupy the root region.
type JsonStore struct {
	db *storage.Database
}

func NewJsonStore(db *storage.Database) *JsonStore {
	return &JsonStore{db: db}
}

// Create writes a new document; fails if it already exists.
func (js *JsonStore) Create(run types.RunID, doc string, val types.Value) (types.Version, error) {
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Get(storage.JsonKey(doc))
		if err != nil {
			return err
		}
		if ok {
			return errors.InvalidOperation("document already exists: " + doc)
		}
		if err := markRegionWrite(t, doc, nil); err != nil {
			return err
		}
		return t.Put(storage.JsonKey(doc), val, wal.EntryJsonCreate)
	})
}

// Set overwrites the whole document (root region: conflicts with any
// concurrent path write).
func (js *JsonStore) Set(run types.RunID, doc string, val types.Value) (types.Version, error) {
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		return js.SetTx(t, doc, val)
	})
}

// SetTx is Set inside a caller-owned transaction.
func (js *JsonStore) SetTx(t *storage.TransactionContext, doc string, val types.Value) error {
	if err := markRegionWrite(t, doc, nil); err != nil {
		return err
	}
	return t.Put(storage.JsonKey(doc), val, wal.EntryJsonSet)
}

// Get reads the whole document.
func (js *JsonStore) Get(run types.RunID, doc string) (types.Versioned[types.Value], bool, error) {
	snap := js.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.JsonKey(doc))
	return v, ok, nil
}

// Exists probes the document.
func (js *JsonStore) Exists(run types.RunID, doc string) (bool, error) {
	_, ok, err := js.Get(run, doc)
	return ok, err
}

// Delete removes the document (root region).
func (js *JsonStore) Delete(run types.RunID, doc string) error {
	return js.db.Transaction(run, func(t *storage.TransactionContext) error {
		_, ok, err := t.Peek(storage.JsonKey(doc))
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(types.JsonRef(t.Run(), doc))
		}
		if err := markRegionWrite(t, doc, nil); err != nil {
			return err
		}
		return t.Delete(storage.JsonKey(doc), wal.EntryJsonDelete)
	})
}

// List names the documents of a run.
func (js *JsonStore) List(run types.RunID) ([]string, error) {
	snap := js.db.ReadSnapshot(run)
	items := snap.List(storage.JsonKey(""))
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key[2:])
	}
	return out, nil
}

// SetPath sets a path inside the document. Disjoint sibling paths do
// not conflict.
func (js *JsonStore) SetPath(run types.RunID, doc, path string, val types.Value) (types.Version, error) {
	p, err := jsonpath.Parse(path)
	if err != nil {
		return types.Version{}, errors.InvalidInput(err.Error())
	}
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		return js.SetPathTx(t, doc, p, val)
	})
}

// SetPathTx is SetPath inside a caller-owned transaction.
func (js *JsonStore) SetPathTx(t *storage.TransactionContext, doc string, p jsonpath.Path, val types.Value) error {
	if err := js.requireDoc(t, doc); err != nil {
		return err
	}
	if err := markRegionWrite(t, doc, p); err != nil {
		return err
	}
	return t.JSONSetPath(storage.JsonKey(doc), p, val, wal.EntryJsonPatch)
}

// GetPath reads a path from the document.
func (js *JsonStore) GetPath(run types.RunID, doc, path string) (types.Value, bool, error) {
	p, err := jsonpath.Parse(path)
	if err != nil {
		return types.Value{}, false, errors.InvalidInput(err.Error())
	}
	v, ok, err := js.Get(run, doc)
	if err != nil || !ok {
		return types.Value{}, false, err
	}
	sub, ok := jsonpath.Get(v.Value, p)
	return sub, ok, nil
}

// GetPathTx reads a path inside a transaction, region-aware: a
// concurrent write to an overlapping region aborts this transaction
// at commit.
func (js *JsonStore) GetPathTx(t *storage.TransactionContext, doc string, p jsonpath.Path) (types.Value, bool, error) {
	if err := markRegionRead(t, doc, p); err != nil {
		return types.Value{}, false, err
	}
	v, ok, err := t.Peek(storage.JsonKey(doc))
	if err != nil || !ok {
		return types.Value{}, false, err
	}
	sub, ok := jsonpath.Get(v.Value, p)
	return sub, ok, nil
}

// DeletePath removes a path from the document.
func (js *JsonStore) DeletePath(run types.RunID, doc, path string) (types.Version, error) {
	p, err := jsonpath.Parse(path)
	if err != nil {
		return types.Version{}, errors.InvalidInput(err.Error())
	}
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		if err := js.requireDoc(t, doc); err != nil {
			return err
		}
		if err := markRegionWrite(t, doc, p); err != nil {
			return err
		}
		return t.JSONDeletePath(storage.JsonKey(doc), p, wal.EntryJsonPatch)
	})
}

// Merge applies an RFC 7396 Merge Patch to the document (root region).
func (js *JsonStore) Merge(run types.RunID, doc string, patch types.Value) (types.Version, error) {
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		if err := js.requireDoc(t, doc); err != nil {
			return err
		}
		if err := markRegionWrite(t, doc, nil); err != nil {
			return err
		}
		return t.JSONMerge(storage.JsonKey(doc), patch, wal.EntryJsonPatch)
	})
}

// ArrayPush appends to the array at path.
func (js *JsonStore) ArrayPush(run types.RunID, doc, path string, val types.Value) (types.Version, error) {
	p, err := jsonpath.Parse(path)
	if err != nil {
		return types.Version{}, errors.InvalidInput(err.Error())
	}
	return js.db.TransactionV(run, func(t *storage.TransactionContext) error {
		if err := js.requireDoc(t, doc); err != nil {
			return err
		}
		if err := markRegionWrite(t, doc, p); err != nil {
			return err
		}
		return t.JSONPush(storage.JsonKey(doc), p, val, wal.EntryJsonPatch)
	})
}

// ArrayPop removes and returns the last element of the array at path.
func (js *JsonStore) ArrayPop(run types.RunID, doc, path string) (types.Value, error) {
	p, err := jsonpath.Parse(path)
	if err != nil {
		return types.Value{}, errors.InvalidInput(err.Error())
	}
	var popped types.Value
	err = js.db.Transaction(run, func(t *storage.TransactionContext) error {
		if err := js.requireDoc(t, doc); err != nil {
			return err
		}
		if err := markRegionWrite(t, doc, p); err != nil {
			return err
		}
		// valor devolvido vem da visão pendente; o commit aplica o pop
		// sobre o documento mais novo (regiões sobrepostas conflitam)
		view, ok, err := t.Peek(storage.JsonKey(doc))
		if err != nil || !ok {
			return errors.NotFound(types.JsonRef(t.Run(), doc))
		}
		arrVal, ok := jsonpath.Get(view.Value, p)
		if !ok {
			return errors.NotFound(types.JsonRef(t.Run(), doc))
		}
		arr, isArr := arrVal.Array()
		if !isArr || len(arr) == 0 {
			return errors.InvalidOperation("array pop on empty or non-array path")
		}
		popped = arr[len(arr)-1]
		return t.JSONPop(storage.JsonKey(doc), p, wal.EntryJsonPatch)
	})
	if err != nil {
		return types.Value{}, err
	}
	return popped, nil
}

func (js *JsonStore) requireDoc(t *storage.TransactionContext, doc string) error {
	_, ok, err := t.Peek(storage.JsonKey(doc))
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(types.JsonRef(t.Run(), doc))
	}
	return nil
}

// === Regiões de conflito ===
//
// Uma escrita do caminho p grava exact(p) e sub(a) para todo ancestral
// a de p (raiz e o próprio p incluídos), e lê exact(a) dos ancestrais
// próprios mais sub(p). Assim ancestral/descendente conflitam nas duas
// ordens de commit e irmãos disjuntos comutam. Caminho nil = raiz
// (operações de documento inteiro).

func markRegionWrite(t *storage.TransactionContext, doc string, p jsonpath.Path) error {
	ancestors := p.Ancestors() // "$", ..., canonical(p)
	exact := ancestors[len(ancestors)-1]

	// Leituras primeiro: MarkRead em chave já escrita nesta transação
	// é um no-op, e a validação precisa da pré-imagem.
	for _, a := range ancestors[:len(ancestors)-1] {
		if err := t.MarkRead(storage.JsonRegionKey(doc, "e:"+a)); err != nil {
			return err
		}
	}
	if err := t.MarkRead(storage.JsonRegionKey(doc, "s:"+exact)); err != nil {
		return err
	}

	if err := t.PutEphemeral(storage.JsonRegionKey(doc, "e:"+exact)); err != nil {
		return err
	}
	for _, a := range ancestors {
		if err := t.PutEphemeral(storage.JsonRegionKey(doc, "s:"+a)); err != nil {
			return err
		}
	}
	return nil
}

func markRegionRead(t *storage.TransactionContext, doc string, p jsonpath.Path) error {
	ancestors := p.Ancestors()
	exact := ancestors[len(ancestors)-1]
	for _, a := range ancestors[:len(ancestors)-1] {
		if err := t.MarkRead(storage.JsonRegionKey(doc, "e:"+a)); err != nil {
			return err
		}
	}
	if err := t.MarkRead(storage.JsonRegionKey(doc, "e:"+exact)); err != nil {
		return err
	}
	return t.MarkRead(storage.JsonRegionKey(doc, "s:"+exact))
}
