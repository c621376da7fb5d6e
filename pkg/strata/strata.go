// Package strata amarra o engine e as fachadas dos primitivos numa
// única superfície embutida: é o que CLI, bindings e servidores
// consomem.
package strata

import (
	"github.com/stratadb-labs/strata-go/pkg/primitives"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// DB é o valor que possui o engine e expõe os seis primitivos.
// Todas as fachadas compartilham o mesmo engine, então uma única
// transação pode tocar qualquer mistura deles atomicamente.
type DB struct {
	Engine *storage.Database

	KV     *primitives.KV
	Events *primitives.EventLog
	State  *primitives.StateCell
	Traces *primitives.TraceStore
	JSON   *primitives.JsonStore
	Vector *primitives.VectorStore
}

// Open abre o banco em path com as opções dadas.
func Open(path string, opts storage.Options) (*DB, error) {
	engine, err := storage.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &DB{
		Engine: engine,
		KV:     primitives.NewKV(engine),
		Events: primitives.NewEventLog(engine),
		State:  primitives.NewStateCell(engine),
		Traces: primitives.NewTraceStore(engine),
		JSON:   primitives.NewJsonStore(engine),
		Vector: primitives.NewVectorStore(engine),
	}, nil
}

// OpenInMemory abre um banco volátil (nenhum arquivo é criado).
func OpenInMemory() (*DB, error) {
	opts := storage.DefaultOptions()
	opts.Durability.Mode = wal.ModeInMemory
	return Open("", opts)
}

// Close encerra o engine (flush final, join dos workers).
func (db *DB) Close() error { return db.Engine.Close() }

// Transaction abre uma transação no run dado; f pode usar as
// variantes *Tx de qualquer fachada.
func (db *DB) Transaction(run types.RunID, f func(*storage.TransactionContext) error) error {
	return db.Engine.Transaction(run, f)
}
