package storage

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// Database é o valor único que possui todo o estado mutável do
// engine: shards, writer do WAL, MANIFEST e alocador de ids de
// transação. Não há singleton de processo.
type Database struct {
	path string
	opts Options
	log  zerolog.Logger

	store *Store
	wal   *wal.Writer

	manMu sync.Mutex
	man   manifest

	// Alocador global de ids de transação. fetch-add atômico,
	// contendido apenas no commit; leituras usam snapshots.
	txnSeq atomic.Uint64

	// snapGate quiesce commits durante a captura de um snapshot
	// persistente. Commits seguram leitura; o snapshotter, escrita.
	snapGate sync.RWMutex

	ctxPool sync.Pool

	lastRecovery       *RecoveryResult
	lastSnapshotOffset atomic.Uint64

	closed atomic.Bool

	// Gatilhos de snapshot em background
	snapDone   chan struct{}
	snapReq    chan struct{}
	snapTicker *time.Ticker
	snapWG     sync.WaitGroup
}

// Open abre (ou cria) o banco em path e executa a recuperação.
// path vazio ou modo in-memory: nenhum arquivo é criado.
func Open(path string, opts Options) (*Database, error) {
	db := &Database{
		path: path,
		opts: opts,
		log:  opts.Logger,
	}
	db.ctxPool.New = func() interface{} { return newTransactionContext() }

	inMemory := opts.Durability.Mode == wal.ModeInMemory || path == ""
	if inMemory {
		db.store = NewStore()
		db.lastRecovery = &RecoveryResult{}
		return db, nil
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Storage(err)
	}

	man, err := loadManifest(path)
	if err != nil {
		return nil, errors.Storage(err)
	}
	db.man = man

	result, store, txnSeq, err := runRecovery(db.path, man, opts, db.log)
	if err != nil {
		return nil, err
	}
	db.store = store
	db.txnSeq.Store(txnSeq)
	db.lastRecovery = result

	walOpts := wal.Options{
		Dir:              filepath.Join(path, "WAL"),
		SegmentSoftLimit: opts.SegmentSoftLimit,
		BufferSize:       64 * 1024,
		Mode:             opts.Durability.Mode,
		FlushInterval:    opts.Durability.FlushInterval,
		MaxPendingWrites: opts.Durability.MaxPendingWrites,
		BaseOffset:       man.WALBaseOffset,
		FirstSegment:     man.WALFirstSegment,
		Logger:           db.log,
	}
	w, err := wal.OpenWriter(walOpts)
	if err != nil {
		return nil, errors.Storage(err)
	}
	db.wal = w
	if len(man.Snapshots) > 0 {
		db.lastSnapshotOffset.Store(man.Snapshots[len(man.Snapshots)-1].WALOffset)
	}

	db.snapDone = make(chan struct{})
	db.snapReq = make(chan struct{}, 1)
	if opts.Snapshot.TimeInterval > 0 {
		db.snapTicker = time.NewTicker(opts.Snapshot.TimeInterval)
	}
	db.snapWG.Add(1)
	go db.snapshotLoop()

	db.log.Info().
		Str("component", "engine").
		Str("path", path).
		Str("mode", opts.Durability.Mode.String()).
		Uint64("txn_seq", txnSeq).
		Int("transactions_recovered", result.TransactionsRecovered).
		Msg("database open")

	return db, nil
}

// Close encerra os gatilhos de fundo, tira o snapshot de shutdown se
// configurado e fecha o WAL (o flusher faz o flush final e é joined).
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	if db.snapDone != nil {
		close(db.snapDone)
		db.snapWG.Wait()
		if db.snapTicker != nil {
			db.snapTicker.Stop()
		}
	}

	if db.wal != nil && db.opts.Snapshot.SnapshotOnShutdown {
		if _, err := db.snapshotNow(); err != nil {
			db.log.Error().Str("component", "engine").Err(err).Msg("shutdown snapshot failed")
		}
	}

	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			return errors.Storage(err)
		}
	}

	db.log.Info().Str("component", "engine").Msg("database closed")
	return nil
}

// LastRecovery retorna o resultado da recuperação da abertura.
func (db *Database) LastRecovery() *RecoveryResult { return db.lastRecovery }

// Store dá acesso de leitura ao mapeamento de shards (replay, diff).
func (db *Database) Store() *Store { return db.store }

// ReadSnapshot é o caminho rápido de leitura: captura um snapshot do
// run sem entrar na maquinaria de contexto. Observacionalmente
// equivalente a uma transação de uma operação.
func (db *Database) ReadSnapshot(run types.RunID) Snapshot {
	return db.store.Snapshot(run)
}

// Transaction executa f dentro de uma transação OCC no run dado.
// f registra leituras e escritas no contexto; a validação
// first-committer-wins roda no commit. Erro de f aborta sem tocar o
// armazenamento.
func (db *Database) Transaction(run types.RunID, f func(*TransactionContext) error) error {
	_, err := db.transaction(run, time.Time{}, f)
	return err
}

// TransactionV é Transaction retornando a versão de commit atribuída
// (zero para transações só de leitura).
func (db *Database) TransactionV(run types.RunID, f func(*TransactionContext) error) (types.Version, error) {
	return db.transaction(run, time.Time{}, f)
}

func (db *Database) transaction(run types.RunID, deadline time.Time, f func(*TransactionContext) error) (types.Version, error) {
	if db.closed.Load() {
		return types.Version{}, errors.InvalidOperation("database closed")
	}

	t := db.ctxPool.Get().(*TransactionContext)
	t.reset(db, run, db.store.Snapshot(run))
	t.deadline = deadline

	if err := f(t); err != nil {
		t.state = txnAborted
		db.release(t)
		return types.Version{}, err
	}

	err := db.commit(t)
	ver := t.commitVer
	db.release(t)
	return ver, err
}

func (db *Database) release(t *TransactionContext) {
	t.db = nil
	t.snap = Snapshot{}
	db.ctxPool.Put(t)
}

// commit valida, aloca o id, enquadra os registros no WAL e aplica ao
// shard — nessa ordem. Só depois do append do WAL retornar é que as
// escritas ficam visíveis.
func (db *Database) commit(t *TransactionContext) error {
	if t.state != txnActive {
		return errors.TransactionNotActive(t.run)
	}
	t.state = txnValidating

	// Transação só de leitura: nada a validar nem persistir
	if len(t.ops) == 0 {
		t.state = txnCommitted
		return nil
	}

	if !t.deadline.IsZero() && time.Now().After(t.deadline) {
		t.state = txnAborted
		return errors.TransactionTimeout(t.run)
	}

	db.snapGate.RLock()
	defer db.snapGate.RUnlock()

	sh := db.store.Shard(t.run, true)
	sh.commitMu.Lock()
	defer sh.commitMu.Unlock()

	// Validação: first-committer-wins. Quem commitou antes já subiu a
	// versão; qualquer leitura nossa desatualizada aborta.
	for key, observed := range t.readSet {
		if cur := sh.CurrentCommit(key); cur != observed {
			t.state = txnAborted
			return errors.WriteConflict(refOfKey(t.run, key))
		}
	}

	txnID := db.txnSeq.Add(1)
	ts := types.Now()

	applyOps := make([]applyOp, len(t.ops))
	for i, op := range t.ops {
		ver := op.ver
		if ver.IsZero() {
			ver = types.TxnVersion(txnID)
		}
		val := op.val
		if op.patches != nil {
			// Mutação de caminho: resolve contra o documento
			// commitado mais novo. A validação por regiões garante
			// que só transações de regiões disjuntas chegaram aqui.
			base, ok := sh.CurrentValue(op.key)
			if !ok {
				t.state = txnAborted
				return errors.WriteConflict(refOfKey(t.run, op.key))
			}
			resolved, err := resolvePatches(base, op.patches)
			if err != nil {
				t.state = txnAborted
				return errors.InvalidInput(err.Error())
			}
			val = resolved
		}
		applyOps[i] = applyOp{key: op.key, val: val, ver: ver, deleted: op.deleted}
	}

	if db.wal != nil {
		records := make([]*wal.Record, 0, len(t.ops)+1)
		for i, op := range t.ops {
			if op.ephemeral {
				continue
			}
			rec, err := encodeOpRecord(op.recType, txnID, t.run, ts, applyOps[i])
			if err != nil {
				t.state = txnAborted
				return errors.Serialization(err)
			}
			records = append(records, rec)
		}
		marker, err := encodeMarkerRecord(wal.EntryTransactionCommit, txnID, t.run, ts)
		if err != nil {
			t.state = txnAborted
			return errors.Serialization(err)
		}
		records = append(records, marker)

		if _, err := db.wal.AppendBatch(records); err != nil {
			t.state = txnAborted
			return errors.Storage(err)
		}
	}

	sh.Apply(applyOps, txnID, ts)
	t.state = txnCommitted
	t.commitVer = types.TxnVersion(txnID)

	db.maybeRequestSnapshot()
	return nil
}

// === Snapshots persistentes ===

// SnapshotNow tira um snapshot manual e o publica.
func (db *Database) SnapshotNow() (SnapshotInfo, error) {
	if db.wal == nil {
		return SnapshotInfo{}, errors.InvalidOperation("snapshots require a durable database")
	}
	return db.snapshotNow()
}

func (db *Database) snapshotNow() (SnapshotInfo, error) {
	// Quiesce commits: a captura é um ponto consistente no tempo.
	db.snapGate.Lock()
	ts := types.Now()
	// Marcador no log: delimita onde este snapshot foi tirado
	if marker, err := encodeMarkerRecord(wal.EntrySnapshotMarker, 0, types.MetaRunID, ts); err == nil {
		if _, err := db.wal.AppendBatch([]*wal.Record{marker}); err != nil {
			db.snapGate.Unlock()
			return SnapshotInfo{}, errors.Storage(err)
		}
	}
	if err := db.wal.Sync(); err != nil {
		db.snapGate.Unlock()
		return SnapshotInfo{}, errors.Storage(err)
	}
	offset := db.wal.Offset()
	data, err := encodeSnapshot(db.store, db.txnSeq.Load(), offset, ts)
	db.snapGate.Unlock()
	if err != nil {
		return SnapshotInfo{}, errors.Serialization(err)
	}

	db.manMu.Lock()
	defer db.manMu.Unlock()

	seq := db.man.NextSnapshotSeq
	name, err := writeSnapshotFile(db.path, seq, data)
	if err != nil {
		return SnapshotInfo{}, errors.Storage(err)
	}

	db.man.Snapshots = append(db.man.Snapshots, manifestSnapshot{
		Seq: seq, File: name, WALOffset: offset, Timestamp: int64(ts),
	})
	db.man.Newest = seq
	db.man.NextSnapshotSeq = seq + 1

	// Retenção: os N mais novos sobrevivem; os demais só são apagados
	// depois do MANIFEST atualizado estar durável.
	var expired []manifestSnapshot
	if keep := db.opts.Snapshot.RetentionCount; keep > 0 && len(db.man.Snapshots) > keep {
		expired = append(expired, db.man.Snapshots[:len(db.man.Snapshots)-keep]...)
		db.man.Snapshots = db.man.Snapshots[len(db.man.Snapshots)-keep:]
	}

	if err := storeManifest(db.path, db.man); err != nil {
		return SnapshotInfo{}, errors.Storage(err)
	}
	for _, old := range expired {
		os.Remove(filepath.Join(db.path, snapshotDirName, old.File))
	}

	db.lastSnapshotOffset.Store(offset)

	db.log.Info().
		Str("component", "snapshot").
		Uint64("seq", seq).
		Uint64("wal_offset", offset).
		Msg("snapshot published")

	return SnapshotInfo{Seq: seq, File: name, WALOffset: offset, Timestamp: ts}, nil
}

// ListSnapshots lista os snapshots vivos segundo o MANIFEST.
func (db *Database) ListSnapshots() []SnapshotInfo {
	db.manMu.Lock()
	defer db.manMu.Unlock()
	out := make([]SnapshotInfo, 0, len(db.man.Snapshots))
	for _, s := range db.man.Snapshots {
		out = append(out, SnapshotInfo{Seq: s.Seq, File: s.File, WALOffset: s.WALOffset, Timestamp: types.Timestamp(s.Timestamp)})
	}
	return out
}

// Compact tira um snapshot e apaga os segmentos do WAL inteiramente
// cobertos por ele; depois aplica as políticas de retenção dos runs.
func (db *Database) Compact() error {
	if _, err := db.SnapshotNow(); err != nil {
		return err
	}

	// Só caem segmentos cobertos por TODOS os snapshots retidos; um
	// fallback para o snapshot mais antigo ainda precisa da sua cauda.
	db.manMu.Lock()
	oldest := db.man.Snapshots[0].WALOffset
	db.manMu.Unlock()

	removed, err := db.wal.RemoveSegmentsBelow(oldest)
	if err != nil {
		return errors.Storage(err)
	}
	if removed > 0 {
		seq, base := db.wal.FirstSegment()
		db.manMu.Lock()
		db.man.WALFirstSegment = seq
		db.man.WALBaseOffset = base
		err = storeManifest(db.path, db.man)
		db.manMu.Unlock()
		if err != nil {
			return errors.Storage(err)
		}
	}

	// Retenção por run
	for _, run := range db.ListRuns() {
		info, err := db.RunInfo(run)
		if err != nil {
			continue
		}
		if info.Retention.Kind != RetainAll {
			if err := db.ApplyRetention(run); err != nil {
				db.log.Error().Str("component", "engine").Err(err).
					Str("run", string(run)).Msg("retention sweep failed")
			}
		}
	}

	db.log.Info().Str("component", "engine").Int("segments_removed", removed).Msg("compaction done")
	return nil
}

func (db *Database) maybeRequestSnapshot() {
	if db.wal == nil || db.snapReq == nil {
		return
	}
	threshold := db.opts.Snapshot.WALSizeThreshold
	if threshold <= 0 {
		return
	}
	if db.wal.Offset()-db.lastSnapshotOffset.Load() < uint64(threshold) {
		return
	}
	select {
	case db.snapReq <- struct{}{}:
	default:
	}
}

// snapshotLoop é o worker de gatilhos: intervalo de tempo e limiar de
// tamanho do WAL. Thread simples com shutdown explícito.
func (db *Database) snapshotLoop() {
	defer db.snapWG.Done()
	var tick <-chan time.Time
	if db.snapTicker != nil {
		tick = db.snapTicker.C
	}
	for {
		select {
		case <-tick:
			if _, err := db.snapshotNow(); err != nil {
				db.log.Error().Str("component", "snapshot").Err(err).Msg("interval snapshot failed")
			}
		case <-db.snapReq:
			if _, err := db.snapshotNow(); err != nil {
				db.log.Error().Str("component", "snapshot").Err(err).Msg("threshold snapshot failed")
			}
		case <-db.snapDone:
			return
		}
	}
}

// === Operações utilitárias da superfície externa ===

// Flush força a durabilidade do que está bufferizado.
func (db *Database) Flush() error {
	if db.wal == nil {
		return nil
	}
	if err := db.wal.Sync(); err != nil {
		return errors.Storage(err)
	}
	return nil
}

// Ping confirma que o engine está aberto.
func (db *Database) Ping() error {
	if db.closed.Load() {
		return errors.InvalidOperation("database closed")
	}
	return nil
}

// DatabaseInfo é o retrato introspectivo do engine.
type DatabaseInfo struct {
	Path           string
	Durability     string
	Runs           int
	WALOffset      uint64
	NewestSnapshot uint64
	LastRecovery   *RecoveryResult
}

// Info retorna metadados do engine.
func (db *Database) Info() DatabaseInfo {
	info := DatabaseInfo{
		Path:         db.path,
		Durability:   db.opts.Durability.Mode.String(),
		Runs:         len(db.store.Runs()),
		LastRecovery: db.lastRecovery,
	}
	if db.wal != nil {
		info.WALOffset = db.wal.Offset()
	}
	db.manMu.Lock()
	info.NewestSnapshot = db.man.Newest
	db.manMu.Unlock()
	return info
}
