package storage

// Suporte transacional do JsonStore: mutações de caminho ficam
// pendentes no contexto e são resolvidas no commit contra o documento
// commitado mais recente. Como a validação por regiões já abortou
// qualquer transação com região sobreposta, aplicar o patch sobre o
// estado mais novo preserva as escritas de transações disjuntas
// (regiões disjuntas comutam).

import (
	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/jsonpath"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

type patchKind uint8

const (
	patchSet patchKind = iota + 1
	patchDelete
	patchPush
	patchPop
	patchMerge
)

type jsonPatch struct {
	kind patchKind
	path jsonpath.Path
	val  types.Value
}

// appendJSONPatch agenda uma mutação de caminho sobre a chave do
// documento. Se a transação já escreveu o documento inteiro, o patch
// é aplicado direto sobre o valor pendente.
func (t *TransactionContext) appendJSONPatch(key string, kind patchKind, path jsonpath.Path, val types.Value, recType uint8) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	if i, ok := t.opIdx[key]; ok {
		op := &t.ops[i]
		if op.deleted {
			return errors.NotFound(refOfKey(t.run, key))
		}
		if op.patches == nil {
			// escrita integral pendente: muta o valor direto
			next, err := applyOnePatch(op.val, jsonPatch{kind: kind, path: path, val: val})
			if err != nil {
				return errors.InvalidInput(err.Error())
			}
			op.val = next
			return nil
		}
		op.patches = append(op.patches, jsonPatch{kind: kind, path: path, val: val})
		return nil
	}

	t.opIdx[key] = len(t.ops)
	t.ops = append(t.ops, writeOp{
		key:     key,
		recType: recType,
		patches: []jsonPatch{{kind: kind, path: path, val: val}},
	})
	return nil
}

// PutEphemeral agenda uma escrita de chave de região: validada e
// aplicada como qualquer outra, mas nunca enquadrada no WAL.
func (t *TransactionContext) PutEphemeral(key string) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if i, ok := t.opIdx[key]; ok {
		// região já marcada nesta transação
		if t.ops[i].ephemeral {
			return nil
		}
		return nil
	}
	t.opIdx[key] = len(t.ops)
	t.ops = append(t.ops, writeOp{key: key, val: types.Null(), ephemeral: true})
	return nil
}

// Invólucros por operação (a camada de primitivos não enxerga os
// kinds internos).

func (t *TransactionContext) JSONSetPath(key string, path jsonpath.Path, val types.Value, recType uint8) error {
	return t.appendJSONPatch(key, patchSet, path, val, recType)
}

func (t *TransactionContext) JSONDeletePath(key string, path jsonpath.Path, recType uint8) error {
	return t.appendJSONPatch(key, patchDelete, path, types.Value{}, recType)
}

func (t *TransactionContext) JSONPush(key string, path jsonpath.Path, val types.Value, recType uint8) error {
	return t.appendJSONPatch(key, patchPush, path, val, recType)
}

func (t *TransactionContext) JSONPop(key string, path jsonpath.Path, recType uint8) error {
	return t.appendJSONPatch(key, patchPop, path, types.Value{}, recType)
}

func (t *TransactionContext) JSONMerge(key string, patch types.Value, recType uint8) error {
	return t.appendJSONPatch(key, patchMerge, nil, patch, recType)
}

// resolvePatchedView materializa a visão pendente de um documento com
// patches (read-your-writes do JsonStore).
func (t *TransactionContext) resolvePatchedView(op writeOp) (types.Value, bool, error) {
	base, ok := t.snap.Get(op.key)
	if !ok {
		return types.Value{}, false, errors.NotFound(refOfKey(t.run, op.key))
	}
	v, err := resolvePatches(base.Value, op.patches)
	if err != nil {
		return types.Value{}, false, errors.InvalidInput(err.Error())
	}
	return v, true, nil
}

func resolvePatches(base types.Value, patches []jsonPatch) (types.Value, error) {
	cur := base
	for _, p := range patches {
		next, err := applyOnePatch(cur, p)
		if err != nil {
			return types.Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func applyOnePatch(doc types.Value, p jsonPatch) (types.Value, error) {
	switch p.kind {
	case patchSet:
		return jsonpath.Set(doc, p.path, p.val)
	case patchDelete:
		return jsonpath.Delete(doc, p.path)
	case patchPush:
		return jsonpath.Push(doc, p.path, p.val)
	case patchPop:
		next, _, err := jsonpath.Pop(doc, p.path)
		return next, err
	case patchMerge:
		return jsonpath.Merge(doc, p.val), nil
	}
	return doc, nil
}
