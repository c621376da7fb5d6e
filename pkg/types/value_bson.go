package types

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Codec BSON do Value. O sistema de tipos do BSON cobre a soma de 8
// variantes sem perda: null, bool, int64, double, string, binary,
// array, document. Objetos são emitidos com chaves ordenadas para que
// a codificação seja determinística (replay byte-idêntico).

// MarshalValue serializa um Value para bytes BSON.
// O valor é embrulhado em um documento {"v": ...} porque BSON exige
// documento no nível raiz.
func MarshalValue(v Value) ([]byte, error) {
	return bson.Marshal(bson.D{{Key: "v", Value: valueToBSON(v)}})
}

// UnmarshalValue desfaz MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return Value{}, fmt.Errorf("erro no parser nativo: %w", err)
	}
	for _, e := range doc {
		if e.Key == "v" {
			return valueFromBSON(e.Value)
		}
	}
	return Value{}, fmt.Errorf("documento sem campo raiz %q", "v")
}

func valueToBSON(v Value) any {
	switch v.kind {
	case KindNull:
		return bson.Null{}
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return bson.Binary{Data: v.raw}
	case KindArray:
		arr := make(bson.A, len(v.arr))
		for i, e := range v.arr {
			arr[i] = valueToBSON(e)
		}
		return arr
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(bson.D, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: valueToBSON(v.obj[k])})
		}
		return doc
	}
	return bson.Null{}
}

func valueFromBSON(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bson.Null:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case string:
		return Str(x), nil
	case bson.Binary:
		return Bytes(x.Data), nil
	case bson.A:
		arr := make([]Value, len(x))
		for i, e := range x {
			v, err := valueFromBSON(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return ArrayOf(arr), nil
	case bson.D:
		obj := make(map[string]Value, len(x))
		for _, e := range x {
			v, err := valueFromBSON(e.Value)
			if err != nil {
				return Value{}, err
			}
			obj[e.Key] = v
		}
		return Object(obj), nil
	case bson.M:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := valueFromBSON(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	}
	return Value{}, fmt.Errorf("tipo BSON não mapeável: %T", raw)
}
