package storage

import (
	"fmt"
	"time"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// RunStatus é o conjunto de 5 estados da máquina de runs.
// "Orphaned" não é um status armazenado: é um predicado computado na
// recuperação (begin sem end/abort correspondente).
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunPaused    RunStatus = "paused"
	RunArchived  RunStatus = "archived"
)

// validTransitions codifica a máquina de estados:
//
//	Active → {Completed, Failed, Cancelled, Paused, Archived}
//	Paused → {Active, Cancelled, Archived}
//	{Completed, Failed, Cancelled} → {Archived}
//	Archived → (terminal)
var validTransitions = map[RunStatus]map[RunStatus]bool{
	RunActive: {
		RunCompleted: true, RunFailed: true, RunCancelled: true,
		RunPaused: true, RunArchived: true,
	},
	RunPaused: {
		RunActive: true, RunCancelled: true, RunArchived: true,
	},
	RunCompleted: {RunArchived: true},
	RunFailed:    {RunArchived: true},
	RunCancelled: {RunArchived: true},
	RunArchived:  {},
}

// RetentionKind discrimina as políticas de retenção de histórico.
type RetentionKind string

const (
	RetainAll       RetentionKind = "keep_all"
	RetainLast      RetentionKind = "keep_last"
	RetainFor       RetentionKind = "keep_for"
	RetainComposite RetentionKind = "composite"
)

// RetentionPolicy limita o histórico de versões por entidade de um
// run. Nunca há fallback silencioso para uma versão próxima: ler uma
// versão aparada retorna HistoryTrimmed.
type RetentionPolicy struct {
	Kind  RetentionKind
	N     int
	For   time.Duration
	Parts []RetentionPolicy // união, para Composite
}

func KeepAll() RetentionPolicy            { return RetentionPolicy{Kind: RetainAll} }
func KeepLast(n int) RetentionPolicy      { return RetentionPolicy{Kind: RetainLast, N: n} }
func KeepFor(d time.Duration) RetentionPolicy {
	return RetentionPolicy{Kind: RetainFor, For: d}
}
func Composite(parts ...RetentionPolicy) RetentionPolicy {
	return RetentionPolicy{Kind: RetainComposite, Parts: parts}
}

// RunRecord é a entrada do índice de runs (meta-namespace).
type RunRecord struct {
	ID        types.RunID
	Status    RunStatus
	Reason    string
	CreatedAt types.Timestamp
	UpdatedAt types.Timestamp
	Retention RetentionPolicy
}

func encodeRunInfo(info RunRecord) types.Value {
	obj := map[string]types.Value{
		"id":         types.Str(string(info.ID)),
		"status":     types.Str(string(info.Status)),
		"created_at": types.Int(int64(info.CreatedAt)),
		"updated_at": types.Int(int64(info.UpdatedAt)),
	}
	if info.Reason != "" {
		obj["reason"] = types.Str(info.Reason)
	}
	obj["retention"] = encodeRetention(info.Retention)
	return types.Object(obj)
}

func encodeRetention(p RetentionPolicy) types.Value {
	obj := map[string]types.Value{"kind": types.Str(string(p.Kind))}
	switch p.Kind {
	case RetainLast:
		obj["n"] = types.Int(int64(p.N))
	case RetainFor:
		obj["for_us"] = types.Int(p.For.Microseconds())
	case RetainComposite:
		parts := make([]types.Value, len(p.Parts))
		for i, part := range p.Parts {
			parts[i] = encodeRetention(part)
		}
		obj["parts"] = types.ArrayOf(parts)
	}
	return types.Object(obj)
}

func decodeRunInfo(v types.Value) (RunRecord, error) {
	obj, ok := v.Object()
	if !ok {
		return RunRecord{}, fmt.Errorf("registro de run não é objeto")
	}
	var info RunRecord
	if f, ok := obj["id"]; ok {
		s, _ := f.Str()
		info.ID = types.RunID(s)
	}
	if f, ok := obj["status"]; ok {
		s, _ := f.Str()
		info.Status = RunStatus(s)
	}
	if f, ok := obj["reason"]; ok {
		info.Reason, _ = f.Str()
	}
	if f, ok := obj["created_at"]; ok {
		n, _ := f.Int()
		info.CreatedAt = types.Timestamp(n)
	}
	if f, ok := obj["updated_at"]; ok {
		n, _ := f.Int()
		info.UpdatedAt = types.Timestamp(n)
	}
	if f, ok := obj["retention"]; ok {
		info.Retention = decodeRetention(f)
	} else {
		info.Retention = KeepAll()
	}
	return info, nil
}

func decodeRetention(v types.Value) RetentionPolicy {
	obj, ok := v.Object()
	if !ok {
		return KeepAll()
	}
	p := RetentionPolicy{Kind: RetainAll}
	if f, ok := obj["kind"]; ok {
		s, _ := f.Str()
		p.Kind = RetentionKind(s)
	}
	switch p.Kind {
	case RetainLast:
		if f, ok := obj["n"]; ok {
			n, _ := f.Int()
			p.N = int(n)
		}
	case RetainFor:
		if f, ok := obj["for_us"]; ok {
			n, _ := f.Int()
			p.For = time.Duration(n) * time.Microsecond
		}
	case RetainComposite:
		if f, ok := obj["parts"]; ok {
			arr, _ := f.Array()
			for _, part := range arr {
				p.Parts = append(p.Parts, decodeRetention(part))
			}
		}
	}
	return p
}

// === Ciclo de vida ===

// BeginRun cria um run novo em estado Active.
func (db *Database) BeginRun() (types.RunID, error) {
	return db.BeginRunWithRetention(KeepAll())
}

// BeginRunWithRetention cria um run com a política de retenção dada.
func (db *Database) BeginRunWithRetention(policy RetentionPolicy) (types.RunID, error) {
	run := types.NewRunID()
	now := types.Now()
	info := RunRecord{ID: run, Status: RunActive, CreatedAt: now, UpdatedAt: now, Retention: policy}
	err := db.Transaction(types.MetaRunID, func(t *TransactionContext) error {
		return t.Put(RunIndexKey(run), encodeRunInfo(info), wal.EntryRunBegin)
	})
	if err != nil {
		return "", err
	}
	return run, nil
}

// EndRun move o run para Completed.
func (db *Database) EndRun(run types.RunID) error {
	return db.transitionRun(run, RunCompleted, "", wal.EntryRunEnd)
}

// AbortRun move o run para Failed, guardando o motivo.
func (db *Database) AbortRun(run types.RunID, reason string) error {
	return db.transitionRun(run, RunFailed, reason, wal.EntryRunEnd)
}

// PauseRun, ResumeRun, CancelRun e ArchiveRun cobrem as demais
// transições válidas; qualquer outra retorna InvalidOperation.
func (db *Database) PauseRun(run types.RunID) error {
	return db.transitionRun(run, RunPaused, "", wal.EntryRunUpdate)
}

func (db *Database) ResumeRun(run types.RunID) error {
	return db.transitionRun(run, RunActive, "", wal.EntryRunUpdate)
}

func (db *Database) CancelRun(run types.RunID) error {
	return db.transitionRun(run, RunCancelled, "", wal.EntryRunUpdate)
}

func (db *Database) ArchiveRun(run types.RunID) error {
	return db.transitionRun(run, RunArchived, "", wal.EntryRunUpdate)
}

func (db *Database) transitionRun(run types.RunID, to RunStatus, reason string, recType uint8) error {
	return db.Transaction(types.MetaRunID, func(t *TransactionContext) error {
		cur, ok, err := t.Get(RunIndexKey(run))
		if err != nil {
			return err
		}
		if !ok {
			return errors.RunNotFound(run)
		}
		info, err := decodeRunInfo(cur.Value)
		if err != nil {
			return errors.Corruption("run index entry undecodable", err)
		}
		if !validTransitions[info.Status][to] {
			return errors.InvalidOperation(
				fmt.Sprintf("run %s: transition %s → %s", run, info.Status, to))
		}
		info.Status = to
		info.Reason = reason
		info.UpdatedAt = types.Now()
		return t.Put(RunIndexKey(run), encodeRunInfo(info), recType)
	})
}

// RunInfo retorna o registro atual do run.
func (db *Database) RunInfo(run types.RunID) (RunRecord, error) {
	snap := db.ReadSnapshot(types.MetaRunID)
	v, ok := snap.Get(RunIndexKey(run))
	if !ok {
		return RunRecord{}, errors.RunNotFound(run)
	}
	info, err := decodeRunInfo(v.Value)
	if err != nil {
		return RunRecord{}, errors.Corruption("run index entry undecodable", err)
	}
	return info, nil
}

// RunStatusOf retorna só o status.
func (db *Database) RunStatusOf(run types.RunID) (RunStatus, error) {
	info, err := db.RunInfo(run)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// ListRuns lista os runs registrados no índice.
func (db *Database) ListRuns() []types.RunID {
	snap := db.ReadSnapshot(types.MetaRunID)
	items := snap.List(tagRunIndex)
	out := make([]types.RunID, 0, len(items))
	for _, kv := range items {
		out = append(out, types.RunID(userKeyOf(kv.Key)))
	}
	return out
}

// OrphanedRuns lista os runs classificados como órfãos pela última
// recuperação. A política (marcar Failed, deixar para replay) é do
// chamador.
func (db *Database) OrphanedRuns() []types.RunID {
	if db.lastRecovery == nil {
		return nil
	}
	out := make([]types.RunID, len(db.lastRecovery.OrphanedRuns))
	copy(out, db.lastRecovery.OrphanedRuns)
	return out
}

// SetRetention troca a política de retenção de um run.
func (db *Database) SetRetention(run types.RunID, policy RetentionPolicy) error {
	return db.Transaction(types.MetaRunID, func(t *TransactionContext) error {
		cur, ok, err := t.Get(RunIndexKey(run))
		if err != nil {
			return err
		}
		if !ok {
			return errors.RunNotFound(run)
		}
		info, err := decodeRunInfo(cur.Value)
		if err != nil {
			return errors.Corruption("run index entry undecodable", err)
		}
		info.Retention = policy
		info.UpdatedAt = types.Now()
		return t.Put(RunIndexKey(run), encodeRunInfo(info), wal.EntryRunUpdate)
	})
}

// DeleteRun remove o run do índice e derruba o shard inteiro
// (limpeza por run eficiente: o run é o primeiro componente da chave
// composta).
func (db *Database) DeleteRun(run types.RunID) error {
	err := db.Transaction(types.MetaRunID, func(t *TransactionContext) error {
		_, ok, err := t.Get(RunIndexKey(run))
		if err != nil {
			return err
		}
		if !ok {
			return errors.RunNotFound(run)
		}
		return t.Delete(RunIndexKey(run), wal.EntryRunUpdate)
	})
	if err != nil {
		return err
	}
	db.store.DropRun(run)
	return nil
}
