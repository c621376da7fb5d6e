package types

import "fmt"

// EntityKind identifica o primitivo dono de uma entidade.
type EntityKind uint8

const (
	EntityKv EntityKind = iota + 1
	EntityEvent
	EntityState
	EntityTrace
	EntityRun
	EntityJson
	EntityVector
)

func (k EntityKind) String() string {
	switch k {
	case EntityKv:
		return "kv"
	case EntityEvent:
		return "event"
	case EntityState:
		return "state"
	case EntityTrace:
		return "trace"
	case EntityRun:
		return "run"
	case EntityJson:
		return "json"
	case EntityVector:
		return "vector"
	default:
		return "entity"
	}
}

// EntityRef endereça qualquer entidade armazenada: toda entidade tem
// exatamente um endereço.
type EntityRef struct {
	Kind EntityKind
	Run  RunID

	// Campos por variante. Key cobre kv/state/trace/json;
	// Seq cobre event; Collection+Key cobre vector.
	Key        string
	Seq        uint64
	Collection string
}

func KvRef(run RunID, key string) EntityRef {
	return EntityRef{Kind: EntityKv, Run: run, Key: key}
}

func EventRef(run RunID, seq uint64) EntityRef {
	return EntityRef{Kind: EntityEvent, Run: run, Seq: seq}
}

func StateRef(run RunID, name string) EntityRef {
	return EntityRef{Kind: EntityState, Run: run, Key: name}
}

func TraceRef(run RunID, id string) EntityRef {
	return EntityRef{Kind: EntityTrace, Run: run, Key: id}
}

func RunRef(run RunID) EntityRef {
	return EntityRef{Kind: EntityRun, Run: run}
}

func JsonRef(run RunID, doc string) EntityRef {
	return EntityRef{Kind: EntityJson, Run: run, Key: doc}
}

func VectorRef(run RunID, coll, id string) EntityRef {
	return EntityRef{Kind: EntityVector, Run: run, Collection: coll, Key: id}
}

// String formata como URI: "kv://<run>/<key>", "event://<run>/42", etc.
// É o formato que as mensagens de erro exibem.
func (r EntityRef) String() string {
	switch r.Kind {
	case EntityEvent:
		return fmt.Sprintf("event://%s/%d", r.Run, r.Seq)
	case EntityRun:
		return fmt.Sprintf("run://%s", r.Run)
	case EntityVector:
		return fmt.Sprintf("vector://%s/%s/%s", r.Run, r.Collection, r.Key)
	default:
		return fmt.Sprintf("%s://%s/%s", r.Kind, r.Run, r.Key)
	}
}
