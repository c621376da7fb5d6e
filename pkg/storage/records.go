package storage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// Corpo BSON dos registros do WAL. Todo registro de operação carrega
// o id da transação, o run e o timestamp do committer; o marcador de
// commit fecha o grupo (disciplina que a recuperação exige).

type opPayload struct {
	Txn       int64  `bson:"t"`
	Run       string `bson:"r"`
	Timestamp int64  `bson:"ts"`
	Key       string `bson:"k"`
	VerKind   int32  `bson:"vk"`
	VerN      int64  `bson:"vn"`
	Deleted   bool   `bson:"d,omitempty"`
	Value     []byte `bson:"val,omitempty"`
}

type markerPayload struct {
	Txn       int64  `bson:"t"`
	Run       string `bson:"r"`
	Timestamp int64  `bson:"ts"`
}

// walOp é um registro de operação decodificado.
type walOp struct {
	recType uint8
	txn     uint64
	run     types.RunID
	ts      types.Timestamp
	key     string
	ver     types.Version
	deleted bool
	val     types.Value
}

func encodeOpRecord(recType uint8, txn uint64, run types.RunID, ts types.Timestamp, op applyOp) (*wal.Record, error) {
	p := opPayload{
		Txn:       int64(txn),
		Run:       string(run),
		Timestamp: int64(ts),
		Key:       op.key,
		VerKind:   int32(op.ver.Kind),
		VerN:      int64(op.ver.N),
		Deleted:   op.deleted,
	}
	if !op.deleted {
		data, err := types.MarshalValue(op.val)
		if err != nil {
			return nil, err
		}
		p.Value = data
	}
	payload, err := bson.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &wal.Record{Type: recType, Version: wal.RecordFormatV1, Payload: payload}, nil
}

func encodeMarkerRecord(recType uint8, txn uint64, run types.RunID, ts types.Timestamp) (*wal.Record, error) {
	payload, err := bson.Marshal(markerPayload{Txn: int64(txn), Run: string(run), Timestamp: int64(ts)})
	if err != nil {
		return nil, err
	}
	return &wal.Record{Type: recType, Version: wal.RecordFormatV1, Payload: payload}, nil
}

func decodeOpRecord(rec *wal.Record) (walOp, error) {
	var p opPayload
	if err := bson.Unmarshal(rec.Payload, &p); err != nil {
		return walOp{}, fmt.Errorf("payload de operação ilegível: %w", err)
	}
	op := walOp{
		recType: rec.Type,
		txn:     uint64(p.Txn),
		run:     types.RunID(p.Run),
		ts:      types.Timestamp(p.Timestamp),
		key:     p.Key,
		ver:     types.Version{Kind: types.VersionKind(p.VerKind), N: uint64(p.VerN)},
		deleted: p.Deleted,
	}
	if !p.Deleted {
		v, err := types.UnmarshalValue(p.Value)
		if err != nil {
			return walOp{}, fmt.Errorf("valor de operação ilegível: %w", err)
		}
		op.val = v
	}
	return op, nil
}

func decodeMarkerRecord(rec *wal.Record) (uint64, types.RunID, types.Timestamp, error) {
	var p markerPayload
	if err := bson.Unmarshal(rec.Payload, &p); err != nil {
		return 0, "", 0, fmt.Errorf("marcador ilegível: %w", err)
	}
	return uint64(p.Txn), types.RunID(p.Run), types.Timestamp(p.Timestamp), nil
}

// isMarker indica os tipos de registro que não carregam operação.
func isMarker(t uint8) bool {
	switch t {
	case wal.EntryTransactionCommit, wal.EntryTransactionAbort, wal.EntrySnapshotMarker:
		return true
	}
	return false
}
