package storage

import (
	"time"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

// ApplyRetention aplica a política de retenção do run, aparando o
// histórico de versões por entidade. A revisão mais nova nunca é
// aparada. A aplicação é explícita (esta chamada) ou via compactação.
func (db *Database) ApplyRetention(run types.RunID) error {
	info, err := db.RunInfo(run)
	if err != nil {
		return err
	}
	if info.Retention.Kind == RetainAll {
		return nil
	}

	sh := db.store.Shard(run, false)
	if sh == nil {
		return nil
	}

	now := types.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for _, e := range sh.entries {
		cut := retentionCutoff(e.recs, info.Retention, now)
		if cut <= 0 {
			continue
		}
		oldest := e.recs[cut].ver
		e.recs = append(e.recs[:0:0], e.recs[cut:]...)
		e.trimmed = true
		e.oldestRetained = oldest
	}
	return nil
}

// retentionCutoff decide quantas revisões do prefixo caem.
// Composite é união: sobrevive o que QUALQUER parte retém.
func retentionCutoff(recs []record, p RetentionPolicy, now types.Timestamp) int {
	if len(recs) <= 1 {
		return 0
	}
	switch p.Kind {
	case RetainAll:
		return 0
	case RetainLast:
		n := p.N
		if n < 1 {
			n = 1
		}
		if len(recs) <= n {
			return 0
		}
		return len(recs) - n
	case RetainFor:
		horizon := now - types.Timestamp(p.For/time.Microsecond)
		cut := 0
		for i := 0; i < len(recs)-1; i++ {
			if recs[i].ts < horizon {
				cut = i + 1
			} else {
				break
			}
		}
		return cut
	case RetainComposite:
		// União das partes: o corte efetivo é o menor corte
		cut := len(recs) - 1
		for _, part := range p.Parts {
			if c := retentionCutoff(recs, part, now); c < cut {
				cut = c
			}
		}
		if len(p.Parts) == 0 {
			return 0
		}
		return cut
	}
	return 0
}

// GetVersion lê uma revisão específica de uma chave. Uma versão já
// aparada retorna HistoryTrimmed com a mais antiga retida — nunca um
// fallback silencioso para a vizinha.
func (sn Snapshot) GetVersion(run types.RunID, key string, ver types.Version) (types.Versioned[types.Value], error) {
	if sn.shard == nil {
		return types.Versioned[types.Value]{}, errors.NotFound(refOfKey(run, key))
	}
	sn.shard.mu.RLock()
	defer sn.shard.mu.RUnlock()
	e := sn.shard.entries[key]
	if e == nil {
		return types.Versioned[types.Value]{}, errors.NotFound(refOfKey(run, key))
	}
	for i := len(e.recs) - 1; i >= 0; i-- {
		rec := e.recs[i]
		if rec.commit > sn.watermark {
			continue
		}
		if rec.ver == ver {
			if rec.deleted {
				return types.Versioned[types.Value]{}, errors.NotFound(refOfKey(run, key))
			}
			return types.Versioned[types.Value]{Value: rec.val, Version: rec.ver, Timestamp: rec.ts}, nil
		}
	}
	if e.trimmed && ver.Kind == e.oldestRetained.Kind && ver.Compare(e.oldestRetained) < 0 {
		return types.Versioned[types.Value]{}, errors.HistoryTrimmed(refOfKey(run, key), e.oldestRetained)
	}
	return types.Versioned[types.Value]{}, errors.NotFound(refOfKey(run, key))
}
