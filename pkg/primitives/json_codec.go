package primitives

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stratadb-labs/strata-go/pkg/errors"
	"github.com/stratadb-labs/strata-go/pkg/types"
)

// Conversão texto-JSON ↔ Value. Números inteiros sem parte fracionária
// viram Int; com fração ou expoente, Float — a igualdade estrita do
// modelo de dados depende dessa distinção.

// ParseJSON converte um documento JSON textual em Value.
func ParseJSON(data string) (types.Value, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return types.Value{}, errors.Serialization(err)
	}
	return fromJSONAny(raw)
}

func fromJSONAny(raw interface{}) (types.Value, error) {
	switch x := raw.(type) {
	case nil:
		return types.Null(), nil
	case bool:
		return types.Bool(x), nil
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := x.Int64(); err == nil {
				return types.Int(n), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return types.Value{}, errors.Serialization(err)
		}
		return types.Float(f), nil
	case string:
		return types.Str(x), nil
	case []interface{}:
		arr := make([]types.Value, len(x))
		for i, e := range x {
			v, err := fromJSONAny(e)
			if err != nil {
				return types.Value{}, err
			}
			arr[i] = v
		}
		return types.ArrayOf(arr), nil
	case map[string]interface{}:
		obj := make(map[string]types.Value, len(x))
		for k, e := range x {
			v, err := fromJSONAny(e)
			if err != nil {
				return types.Value{}, err
			}
			obj[k] = v
		}
		return types.Object(obj), nil
	}
	return types.Value{}, errors.Serialization(fmt.Errorf("JSON value of type %T", raw))
}

// ToJSON serializa um Value como texto JSON com chaves ordenadas.
// Bytes não têm representação JSON e são rejeitados.
func ToJSON(v types.Value) (string, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeJSON(buf *bytes.Buffer, v types.Value) error {
	switch v.Kind() {
	case types.KindNull:
		buf.WriteString("null")
	case types.KindBool:
		b, _ := v.Bool()
		data, _ := json.Marshal(b)
		buf.Write(data)
	case types.KindInt:
		n, _ := v.Int()
		data, _ := json.Marshal(n)
		buf.Write(data)
	case types.KindFloat:
		f, _ := v.Float()
		data, err := json.Marshal(f)
		if err != nil {
			return errors.Serialization(err)
		}
		buf.Write(data)
	case types.KindString:
		s, _ := v.Str()
		data, _ := json.Marshal(s)
		buf.Write(data)
	case types.KindBytes:
		return errors.InvalidInput("bytes value has no JSON representation")
	case types.KindArray:
		arr, _ := v.Array()
		buf.WriteByte('[')
		for i, e := range arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case types.KindObject:
		obj, _ := v.Object()
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kdata, _ := json.Marshal(k)
			buf.Write(kdata)
			buf.WriteByte(':')
			if err := writeJSON(buf, obj[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
