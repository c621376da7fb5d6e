package primitives

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/storage"
	"github.com/stratadb-labs/strata-go/pkg/types"
	"github.com/stratadb-labs/strata-go/pkg/wal"
)

// EventLog is the per-run, per-stream append-only log. Each append
// allocates the next Sequence for (run, stream) and links into the
// stream's hash chain: hash = H(prev_hash || type || payload || ts).
type EventLog struct {
	db *storage.Database
}

func NewEventLog(db *storage.Database) *EventLog {
	return &EventLog{db: db}
}

// Event is a decoded event record.
type Event struct {
	Stream    string
	Seq       uint64
	Type      string
	Payload   types.Value
	Hash      string
	PrevHash  string
	Timestamp types.Timestamp
}

const genesisHash = "" // primeiro elo da cadeia

func chainHash(prev, eventType string, payload types.Value, ts types.Timestamp) (string, error) {
	payloadBytes, err := types.MarshalValue(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(eventType))
	h.Write(payloadBytes)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(ts))
	h.Write(tsBuf[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

func encodeEvent(e Event) types.Value {
	return types.Object(map[string]types.Value{
		"type":      types.Str(e.Type),
		"payload":   e.Payload,
		"hash":      types.Str(e.Hash),
		"prev_hash": types.Str(e.PrevHash),
		"ts":        types.Int(int64(e.Timestamp)),
	})
}

func decodeEvent(stream string, seq uint64, v types.Value) (Event, error) {
	obj, ok := v.Object()
	if !ok {
		return Event{}, fmt.Errorf("evento %s/%d não é objeto", stream, seq)
	}
	e := Event{Stream: stream, Seq: seq}
	if f, ok := obj["type"]; ok {
		e.Type, _ = f.Str()
	}
	if f, ok := obj["payload"]; ok {
		e.Payload = f
	}
	if f, ok := obj["hash"]; ok {
		e.Hash, _ = f.Str()
	}
	if f, ok := obj["prev_hash"]; ok {
		e.PrevHash, _ = f.Str()
	}
	if f, ok := obj["ts"]; ok {
		n, _ := f.Int()
		e.Timestamp = types.Timestamp(n)
	}
	return e, nil
}

// head guarda (última sequência, último hash) por stream; a leitura
// dele no append é o que dá a detecção de conflito entre appenders
// concorrentes (first-committer-wins).
func decodeHead(v types.Value) (uint64, string) {
	obj, ok := v.Object()
	if !ok {
		return 0, genesisHash
	}
	var seq uint64
	var hash string
	if f, ok := obj["seq"]; ok {
		n, _ := f.Int()
		seq = uint64(n)
	}
	if f, ok := obj["hash"]; ok {
		hash, _ = f.Str()
	}
	return seq, hash
}

func encodeHead(seq uint64, hash string) types.Value {
	return types.Object(map[string]types.Value{
		"seq":  types.Int(int64(seq)),
		"hash": types.Str(hash),
	})
}

// Append adds an event to the stream and returns its sequence.
func (el *EventLog) Append(run types.RunID, stream, eventType string, payload types.Value) (uint64, error) {
	var seq uint64
	err := el.db.Transaction(run, func(t *storage.TransactionContext) error {
		s, err := el.AppendTx(t, stream, eventType, payload)
		seq = s
		return err
	})
	return seq, err
}

// AppendTx appends inside a caller-owned transaction, so the event can
// commit atomically with writes to other primitives.
func (el *EventLog) AppendTx(t *storage.TransactionContext, stream, eventType string, payload types.Value) (uint64, error) {
	if stream == "" {
		return 0, errors.InvalidInput("empty stream name")
	}

	headKey := storage.EventHeadKey(stream)
	cur, ok, err := t.Get(headKey)
	if err != nil {
		return 0, err
	}
	prevSeq, prevHash := uint64(0), genesisHash
	if ok {
		prevSeq, prevHash = decodeHead(cur.Value)
	}

	seq := prevSeq + 1
	ts := types.Now()
	hash, err := chainHash(prevHash, eventType, payload, ts)
	if err != nil {
		return 0, errors.Serialization(err)
	}

	ev := Event{
		Stream: stream, Seq: seq, Type: eventType, Payload: payload,
		Hash: hash, PrevHash: prevHash, Timestamp: ts,
	}
	if err := t.PutVersioned(storage.EventKey(stream, seq), encodeEvent(ev),
		types.SequenceVersion(seq), wal.EntryEventAppend); err != nil {
		return 0, err
	}
	if err := t.PutVersioned(headKey, encodeHead(seq, hash),
		types.SequenceVersion(seq), wal.EntryEventAppend); err != nil {
		return 0, err
	}
	return seq, nil
}

// Get reads one event by sequence.
func (el *EventLog) Get(run types.RunID, stream string, seq uint64) (types.Versioned[Event], bool, error) {
	snap := el.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.EventKey(stream, seq))
	if !ok {
		return types.Versioned[Event]{}, false, nil
	}
	ev, err := decodeEvent(stream, seq, v.Value)
	if err != nil {
		return types.Versioned[Event]{}, false, errors.Corruption("undecodable event", err)
	}
	return types.Versioned[Event]{Value: ev, Version: v.Version, Timestamp: v.Timestamp}, true, nil
}

// Range reads events with from <= seq <= to, in order. to = 0 means
// "to the head".
func (el *EventLog) Range(run types.RunID, stream string, from, to uint64) ([]Event, error) {
	head, ok, err := el.Head(run, stream)
	if err != nil || !ok {
		return nil, err
	}
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head {
		to = head
	}
	snap := el.db.ReadSnapshot(run)
	out := make([]Event, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		v, ok := snap.Get(storage.EventKey(stream, seq))
		if !ok {
			continue
		}
		ev, err := decodeEvent(stream, seq, v.Value)
		if err != nil {
			return nil, errors.Corruption("undecodable event", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Head returns the last sequence of the stream.
func (el *EventLog) Head(run types.RunID, stream string) (uint64, bool, error) {
	snap := el.db.ReadSnapshot(run)
	v, ok := snap.Get(storage.EventHeadKey(stream))
	if !ok {
		return 0, false, nil
	}
	seq, _ := decodeHead(v.Value)
	return seq, true, nil
}

// Count returns the stream length.
func (el *EventLog) Count(run types.RunID, stream string) (uint64, error) {
	seq, _, err := el.Head(run, stream)
	return seq, err
}

// StreamInfo names a stream and its length.
type StreamInfo struct {
	Name   string
	Length uint64
}

// Streams lists the streams of a run with their lengths.
func (el *EventLog) Streams(run types.RunID) ([]StreamInfo, error) {
	snap := el.db.ReadSnapshot(run)
	heads := snap.List(storage.EventHeadKey(""))
	out := make([]StreamInfo, 0, len(heads))
	for _, h := range heads {
		seq, _ := decodeHead(h.Value.Value)
		out = append(out, StreamInfo{Name: h.Key[2:], Length: seq})
	}
	return out, nil
}

// ChainVerification is the result of a hash-chain walk.
type ChainVerification struct {
	Valid        bool
	Length       uint64
	FirstInvalid uint64 // sequência do primeiro elo inválido (0 se válido)
	Stream       string
}

// VerifyStream recomputes one stream's chain and reports the first
// invalid sequence, if any.
func (el *EventLog) VerifyStream(run types.RunID, stream string) (ChainVerification, error) {
	events, err := el.Range(run, stream, 1, 0)
	if err != nil {
		return ChainVerification{}, err
	}
	res := ChainVerification{Valid: true, Length: uint64(len(events)), Stream: stream}
	prev := genesisHash
	for _, ev := range events {
		expected, err := chainHash(prev, ev.Type, ev.Payload, ev.Timestamp)
		if err != nil {
			return ChainVerification{}, errors.Serialization(err)
		}
		if ev.PrevHash != prev || ev.Hash != expected {
			res.Valid = false
			res.FirstInvalid = ev.Seq
			return res, nil
		}
		prev = ev.Hash
	}
	return res, nil
}

// VerifyChain verifies every stream of the run; the first broken
// stream short-circuits.
func (el *EventLog) VerifyChain(run types.RunID) (ChainVerification, error) {
	streams, err := el.Streams(run)
	if err != nil {
		return ChainVerification{}, err
	}
	total := ChainVerification{Valid: true}
	for _, s := range streams {
		res, err := el.VerifyStream(run, s.Name)
		if err != nil {
			return ChainVerification{}, err
		}
		total.Length += res.Length
		if !res.Valid {
			res.Length = total.Length
			return res, nil
		}
	}
	return total, nil
}
