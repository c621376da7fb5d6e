package types

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifica a variante de um Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value é a soma fechada de 8 variantes que todo primitivo armazena.
// A igualdade é estrita e preserva tipos: Int(1) != Float(1.0),
// NaN != NaN, -0.0 == 0.0. Não há coerção implícita.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	arr  []Value
	obj  map[string]Value
}

// === Construtores ===

func Null() Value              { return Value{kind: KindNull} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Str(s string) Value       { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value     { return Value{kind: KindBytes, raw: b} }
func Array(vs ...Value) Value  { return Value{kind: KindArray, arr: vs} }
func ArrayOf(vs []Value) Value { return Value{kind: KindArray, arr: vs} }

func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

// FloatArray é um atalho para vetores (usado pelo VectorStore).
func FloatArray(fs []float64) Value {
	vs := make([]Value, len(fs))
	for i, f := range fs {
		vs[i] = Float(f)
	}
	return ArrayOf(vs)
}

// === Acesso ===

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)    { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)    { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Str() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) Bytes() ([]byte, bool) { return v.raw, v.kind == KindBytes }
func (v Value) Array() ([]Value, bool) { return v.arr, v.kind == KindArray }

func (v Value) Object() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Field lê um campo de um Object; o segundo retorno é false se o
// valor não for Object ou o campo não existir.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Floats extrai um Array composto só de Float.
func (v Value) Floats() ([]float64, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	out := make([]float64, len(v.arr))
	for i, e := range v.arr {
		f, ok := e.Float()
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// Equal implementa a igualdade estrita do modelo de dados.
// Floats usam == do IEEE-754: NaN nunca é igual a nada (nem a si),
// e -0.0 == 0.0.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone faz cópia profunda. Necessário para isolar o estado guardado
// no shard de mutações feitas pelo chamador depois do commit.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		cp := make([]byte, len(v.raw))
		copy(cp, v.raw)
		return Value{kind: KindBytes, raw: cp}
	case KindArray:
		cp := make([]Value, len(v.arr))
		for i := range v.arr {
			cp[i] = v.arr[i].Clone()
		}
		return Value{kind: KindArray, arr: cp}
	case KindObject:
		cp := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			cp[k] = e.Clone()
		}
		return Value{kind: KindObject, obj: cp}
	default:
		return v
	}
}

// String é apenas para depuração e mensagens de erro.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.raw))
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + v.obj[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "invalid"
}
