package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

// txnState segue Idle → Active → Validating → {Committed, Aborted}.
// Validating é interno; para o chamador a transação é Active até o
// commit retornar.
type txnState int

const (
	txnIdle txnState = iota
	txnActive
	txnValidating
	txnCommitted
	txnAborted
)

// writeOp é uma mutação acumulada no contexto, na ordem em que foi
// emitida (o WAL preserva esta ordem).
type writeOp struct {
	key     string
	val     types.Value
	ver     types.Version // zero => família Txn, preenchida no commit
	recType uint8
	deleted bool

	// ephemeral: participa da validação e do apply (chaves de região
	// do JsonStore) mas nunca vai ao WAL nem a visões de replay.
	ephemeral bool

	// patches: mutações de caminho resolvidas no commit contra o
	// documento commitado mais recente (regiões disjuntas comutam).
	patches []jsonPatch
}

// TransactionContext acumula os conjuntos de leitura/escrita/deleção
// de uma transação. O contexto é dono exclusivo dos conjuntos durante
// sua vida e volta para o pool no fim (limpo, não desalocado).
type TransactionContext struct {
	db   *Database
	run  types.RunID
	snap Snapshot

	readSet map[string]uint64
	ops     []writeOp
	opIdx   map[string]int

	state    txnState
	deadline time.Time

	// commitVer recebe a versão Txn atribuída no commit (toda
	// escrita retorna Version).
	commitVer types.Version
}

func newTransactionContext() *TransactionContext {
	return &TransactionContext{
		readSet: make(map[string]uint64),
		opIdx:   make(map[string]int),
	}
}

// reset prepara o contexto reciclado para uma nova transação.
func (t *TransactionContext) reset(db *Database, run types.RunID, snap Snapshot) {
	t.db = db
	t.run = run
	t.snap = snap
	t.state = txnActive
	t.deadline = time.Time{}
	t.commitVer = types.Version{}
	for k := range t.readSet {
		delete(t.readSet, k)
	}
	for k := range t.opIdx {
		delete(t.opIdx, k)
	}
	t.ops = t.ops[:0]
}

// Run retorna o run desta transação.
func (t *TransactionContext) Run() types.RunID { return t.run }

func (t *TransactionContext) checkActive() error {
	if t.state != txnActive {
		return errors.TransactionNotActive(t.run)
	}
	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		t.state = txnAborted
		return errors.TransactionTimeout(t.run)
	}
	return nil
}

// Get lê uma chave: write-set → delete → snapshot (read-your-writes).
// Leituras do snapshot entram no read-set para a validação.
func (t *TransactionContext) Get(key string) (types.Versioned[types.Value], bool, error) {
	if err := t.checkActive(); err != nil {
		return types.Versioned[types.Value]{}, false, err
	}
	if i, ok := t.opIdx[key]; ok {
		op := t.ops[i]
		if op.deleted {
			return types.Versioned[types.Value]{}, false, nil
		}
		if op.patches != nil {
			v, ok, err := t.resolvePatchedView(op)
			return types.Versioned[types.Value]{Value: v}, ok, err
		}
		return types.Versioned[types.Value]{Value: op.val, Version: op.ver}, true, nil
	}
	t.readSet[key] = t.snap.ObservedCommit(key)
	v, ok := t.snap.Get(key)
	return v, ok, nil
}

// Peek lê do snapshot SEM registrar no read-set. Usado pelo JsonStore,
// cujo conflito é por região de caminho, não pela chave do documento.
func (t *TransactionContext) Peek(key string) (types.Versioned[types.Value], bool, error) {
	if err := t.checkActive(); err != nil {
		return types.Versioned[types.Value]{}, false, err
	}
	if i, ok := t.opIdx[key]; ok {
		op := t.ops[i]
		if op.deleted {
			return types.Versioned[types.Value]{}, false, nil
		}
		if op.patches != nil {
			v, ok, err := t.resolvePatchedView(op)
			return types.Versioned[types.Value]{Value: v}, ok, err
		}
		return types.Versioned[types.Value]{Value: op.val, Version: op.ver}, true, nil
	}
	v, ok := t.snap.Get(key)
	return v, ok, nil
}

// MarkRead registra uma leitura de região sem materializar valor
// (conflito por caminho do JsonStore).
func (t *TransactionContext) MarkRead(key string) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if _, ok := t.opIdx[key]; ok {
		return nil
	}
	t.readSet[key] = t.snap.ObservedCommit(key)
	return nil
}

// Put agenda uma escrita na família Txn (versão atribuída no commit).
func (t *TransactionContext) Put(key string, val types.Value, recType uint8) error {
	return t.put(writeOp{key: key, val: val, recType: recType})
}

// PutVersioned agenda uma escrita com versão explícita
// (Sequence do EventLog, Counter do StateCell).
func (t *TransactionContext) PutVersioned(key string, val types.Value, ver types.Version, recType uint8) error {
	return t.put(writeOp{key: key, val: val, ver: ver, recType: recType})
}

// Delete agenda um tombstone.
func (t *TransactionContext) Delete(key string, recType uint8) error {
	return t.put(writeOp{key: key, recType: recType, deleted: true})
}

func (t *TransactionContext) put(op writeOp) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if i, ok := t.opIdx[op.key]; ok {
		t.ops[i] = op
		return nil
	}
	t.opIdx[op.key] = len(t.ops)
	t.ops = append(t.ops, op)
	return nil
}

// List mescla a listagem do snapshot com os conjuntos da transação.
// Não registra leituras no read-set (fantasmas estão fora do contrato
// de snapshot isolation).
func (t *TransactionContext) List(prefix string) ([]KeyValue, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	base := t.snap.List(prefix)
	if len(t.ops) == 0 {
		return base, nil
	}

	merged := make(map[string]*KeyValue, len(base))
	for i := range base {
		kv := base[i]
		merged[kv.Key] = &kv
	}
	for _, op := range t.ops {
		if !strings.HasPrefix(op.key, prefix) {
			continue
		}
		if op.deleted {
			delete(merged, op.key)
			continue
		}
		merged[op.key] = &KeyValue{
			Key:   op.key,
			Value: types.Versioned[types.Value]{Value: op.val, Version: op.ver},
		}
	}
	out := make([]KeyValue, 0, len(merged))
	for _, kv := range merged {
		out = append(out, *kv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Cas lê a chave e falha rápido com VersionConflict se a versão
// observada difere da esperada; senão agenda a escrita.
func (t *TransactionContext) Cas(key string, expected *types.Version, val types.Value, recType uint8) error {
	cur, ok, err := t.Get(key)
	if err != nil {
		return err
	}
	ref := refOfKey(t.run, key)
	if expected == nil {
		// criação condicional: conflita se já existe
		if ok {
			return errors.VersionConflict(ref, types.Version{}, cur.Version)
		}
		return t.Put(key, val, recType)
	}
	if !ok {
		return errors.NotFound(ref)
	}
	if cur.Version.Compare(*expected) != 0 {
		return errors.VersionConflict(ref, *expected, cur.Version)
	}
	return t.Put(key, val, recType)
}
