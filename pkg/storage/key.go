package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stratadb-labs/strata-go/pkg/types"
)

// Chave composta: dentro de um shard a chave é (tag do primitivo +
// bytes do usuário). O run já é o primeiro componente por construção
// (o shard). A ordenação lexicográfica dá scans por prefixo dentro de
// um run para um primitivo.

const (
	tagKv         = "k!"
	tagEvent      = "e!"
	tagEventHead  = "h!"
	tagState      = "s!"
	tagTrace      = "t!"
	tagTraceIndex = "x!"
	tagJson       = "j!"
	tagJsonRegion = "r!"
	tagVectorColl = "c!"
	tagVector     = "v!"
	tagRunIndex   = "R!"
)

// Separador de componentes dentro dos bytes do usuário.
const keySep = "\x00"

func KvKey(key string) string { return tagKv + key }

// EventKey usa sequência com largura fixa para que a ordem
// lexicográfica coincida com a numérica.
func EventKey(stream string, seq uint64) string {
	return tagEvent + stream + keySep + fmt.Sprintf("%020d", seq)
}

func EventStreamPrefix(stream string) string { return tagEvent + stream + keySep }
func EventHeadKey(stream string) string      { return tagEventHead + stream }

func StateKey(name string) string { return tagState + name }

func TraceKey(id string) string { return tagTrace + id }

// TraceIndexKey: índice secundário por tipo/tag/parent/tempo,
// atualizado na mesma transação do insert.
func TraceIndexKey(dim, value, id string) string {
	return tagTraceIndex + dim + keySep + value + keySep + id
}

func TraceIndexPrefix(dim, value string) string {
	return tagTraceIndex + dim + keySep + value + keySep
}

// TraceTimeValue formata timestamps com largura fixa para scans de
// faixa temporal.
func TraceTimeValue(ts types.Timestamp) string {
	return fmt.Sprintf("%020d", ts)
}

func JsonKey(doc string) string { return tagJson + doc }

// JsonRegionKey: chave sintética de região de conflito por caminho.
const regionSep = "\x1f"

func JsonRegionKey(doc, path string) string {
	return tagJsonRegion + doc + regionSep + path
}

func VectorCollKey(coll string) string { return tagVectorColl + coll }

func VectorKey(coll, id string) string {
	return tagVector + coll + keySep + id
}

func VectorPrefix(coll string) string { return tagVector + coll + keySep }

func RunIndexKey(run types.RunID) string { return tagRunIndex + string(run) }

// refOfKey reconstrói o EntityRef de uma chave composta, para que
// erros de conflito apontem a entidade certa.
func refOfKey(run types.RunID, key string) types.EntityRef {
	switch {
	case strings.HasPrefix(key, tagKv):
		return types.KvRef(run, key[len(tagKv):])
	case strings.HasPrefix(key, tagEvent):
		rest := key[len(tagEvent):]
		if i := strings.LastIndex(rest, keySep); i >= 0 {
			seq, _ := strconv.ParseUint(rest[i+len(keySep):], 10, 64)
			return types.EventRef(run, seq)
		}
		return types.EventRef(run, 0)
	case strings.HasPrefix(key, tagEventHead):
		return types.EventRef(run, 0)
	case strings.HasPrefix(key, tagState):
		return types.StateRef(run, key[len(tagState):])
	case strings.HasPrefix(key, tagTrace):
		return types.TraceRef(run, key[len(tagTrace):])
	case strings.HasPrefix(key, tagTraceIndex):
		return types.TraceRef(run, key)
	case strings.HasPrefix(key, tagJson):
		return types.JsonRef(run, key[len(tagJson):])
	case strings.HasPrefix(key, tagJsonRegion):
		rest := key[len(tagJsonRegion):]
		if i := strings.Index(rest, regionSep); i >= 0 {
			return types.JsonRef(run, rest[:i])
		}
		return types.JsonRef(run, rest)
	case strings.HasPrefix(key, tagVectorColl):
		return types.VectorRef(run, key[len(tagVectorColl):], "")
	case strings.HasPrefix(key, tagVector):
		rest := key[len(tagVector):]
		if i := strings.Index(rest, keySep); i >= 0 {
			return types.VectorRef(run, rest[:i], rest[i+len(keySep):])
		}
		return types.VectorRef(run, rest, "")
	case strings.HasPrefix(key, tagRunIndex):
		return types.RunRef(types.RunID(key[len(tagRunIndex):]))
	}
	return types.KvRef(run, key)
}

// primitiveOfKey nomeia o primitivo dono da chave (visões de replay).
func primitiveOfKey(key string) (string, bool) {
	switch {
	case strings.HasPrefix(key, tagKv):
		return "kv", true
	case strings.HasPrefix(key, tagEvent):
		return "events", true
	case strings.HasPrefix(key, tagEventHead):
		return "", false // derivado, não aparece em visões
	case strings.HasPrefix(key, tagState):
		return "state", true
	case strings.HasPrefix(key, tagTrace):
		return "traces", true
	case strings.HasPrefix(key, tagTraceIndex):
		return "", false
	case strings.HasPrefix(key, tagJson):
		return "json", true
	case strings.HasPrefix(key, tagJsonRegion):
		return "", false
	case strings.HasPrefix(key, tagVectorColl):
		return "vector_collections", true
	case strings.HasPrefix(key, tagVector):
		return "vectors", true
	case strings.HasPrefix(key, tagRunIndex):
		return "runs", true
	}
	return "", false
}

// userKeyOf remove a tag do primitivo para exibição.
func userKeyOf(key string) string {
	if len(key) >= 2 && key[1] == '!' {
		return key[2:]
	}
	return key
}
