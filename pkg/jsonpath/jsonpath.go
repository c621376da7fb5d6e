// Package jsonpath implementa o subconjunto de JSONPath que o
// JsonStore aceita: raiz $, campos aninhados ($.a.b) e índices de
// array ($.items[0].name).
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stratadb-labs/strata-go/pkg/types"
)

// Step é um componente do caminho: campo ou índice.
type Step struct {
	Field   string
	Index   int
	IsIndex bool
}

// Path é a sequência de passos a partir da raiz (vazia = raiz).
type Path []Step

// Parse valida e decompõe um caminho.
func Parse(path string) (Path, error) {
	if path == "" || path[0] != '$' {
		return nil, fmt.Errorf("caminho deve começar em $: %q", path)
	}
	rest := path[1:]
	var out Path
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := len(rest)
			for i := 0; i < len(rest); i++ {
				if rest[i] == '.' || rest[i] == '[' {
					end = i
					break
				}
			}
			field := rest[:end]
			if field == "" {
				return nil, fmt.Errorf("campo vazio em %q", path)
			}
			out = append(out, Step{Field: field})
			rest = rest[end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("índice sem fecho em %q", path)
			}
			idx, err := strconv.Atoi(rest[1:close])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("índice inválido em %q", path)
			}
			out = append(out, Step{Index: idx, IsIndex: true})
			rest = rest[close+1:]
		default:
			return nil, fmt.Errorf("sintaxe inválida em %q", path)
		}
	}
	return out, nil
}

// Canonical reserializa o caminho na forma normalizada.
func (p Path) Canonical() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range p {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
		} else {
			b.WriteByte('.')
			b.WriteString(s.Field)
		}
	}
	return b.String()
}

// Ancestors retorna os caminhos canônicos da raiz até o próprio p,
// em ordem ("$", "$.a", "$.a.b"). Usado pelas chaves de região.
func (p Path) Ancestors() []string {
	out := make([]string, 0, len(p)+1)
	for i := 0; i <= len(p); i++ {
		out = append(out, p[:i].Canonical())
	}
	return out
}

// Get resolve o caminho dentro de root.
func Get(root types.Value, p Path) (types.Value, bool) {
	cur := root
	for _, s := range p {
		if s.IsIndex {
			arr, ok := cur.Array()
			if !ok || s.Index >= len(arr) {
				return types.Value{}, false
			}
			cur = arr[s.Index]
			continue
		}
		f, ok := cur.Field(s.Field)
		if !ok {
			return types.Value{}, false
		}
		cur = f
	}
	return cur, true
}

// Set retorna uma nova raiz com o caminho definido, criando objetos
// intermediários ausentes. A raiz original não é mutada (a espinha
// tocada é copiada).
func Set(root types.Value, p Path, v types.Value) (types.Value, error) {
	if len(p) == 0 {
		return v, nil
	}
	return rebuild(root, p, func(types.Value, bool) (types.Value, bool, error) {
		return v, true, nil
	}, true)
}

// Delete retorna uma nova raiz sem o alvo do caminho.
func Delete(root types.Value, p Path) (types.Value, error) {
	if len(p) == 0 {
		return types.Null(), nil
	}
	return rebuild(root, p, func(types.Value, bool) (types.Value, bool, error) {
		return types.Value{}, false, nil
	}, false)
}

// Push acrescenta v ao array no caminho.
func Push(root types.Value, p Path, v types.Value) (types.Value, error) {
	return rebuild(root, p, func(cur types.Value, ok bool) (types.Value, bool, error) {
		if !ok {
			return types.Array(v), true, nil
		}
		arr, isArr := cur.Array()
		if !isArr {
			return types.Value{}, false, fmt.Errorf("alvo de push não é array: %s", p.Canonical())
		}
		next := make([]types.Value, 0, len(arr)+1)
		next = append(next, arr...)
		next = append(next, v)
		return types.ArrayOf(next), true, nil
	}, true)
}

// Pop remove e retorna o último elemento do array no caminho.
func Pop(root types.Value, p Path) (types.Value, types.Value, error) {
	var popped types.Value
	newRoot, err := rebuild(root, p, func(cur types.Value, ok bool) (types.Value, bool, error) {
		if !ok {
			return types.Value{}, false, fmt.Errorf("alvo de pop ausente: %s", p.Canonical())
		}
		arr, isArr := cur.Array()
		if !isArr {
			return types.Value{}, false, fmt.Errorf("alvo de pop não é array: %s", p.Canonical())
		}
		if len(arr) == 0 {
			return types.Value{}, false, fmt.Errorf("pop em array vazio: %s", p.Canonical())
		}
		popped = arr[len(arr)-1]
		return types.ArrayOf(arr[:len(arr)-1]), true, nil
	}, false)
	if err != nil {
		return types.Value{}, types.Value{}, err
	}
	return newRoot, popped, nil
}

// rebuild reconstrói a espinha do caminho aplicando mut na folha.
// mut recebe (valorAtual, existe) e retorna (novoValor, manter, erro);
// manter=false remove a folha. create controla a criação de objetos
// intermediários ausentes.
func rebuild(cur types.Value, p Path, mut func(types.Value, bool) (types.Value, bool, error), create bool) (types.Value, error) {
	if len(p) == 0 {
		next, _, err := mut(cur, true)
		return next, err
	}

	s := p[0]
	if s.IsIndex {
		arr, ok := cur.Array()
		if !ok {
			return types.Value{}, fmt.Errorf("passo de índice sobre não-array")
		}
		if s.Index >= len(arr) {
			return types.Value{}, fmt.Errorf("índice %d fora do array (tamanho %d)", s.Index, len(arr))
		}
		next := make([]types.Value, len(arr))
		copy(next, arr)
		if len(p) == 1 {
			leaf, keep, err := mut(arr[s.Index], true)
			if err != nil {
				return types.Value{}, err
			}
			if !keep {
				next = append(next[:s.Index], next[s.Index+1:]...)
				return types.ArrayOf(next), nil
			}
			next[s.Index] = leaf
			return types.ArrayOf(next), nil
		}
		child, err := rebuild(arr[s.Index], p[1:], mut, create)
		if err != nil {
			return types.Value{}, err
		}
		next[s.Index] = child
		return types.ArrayOf(next), nil
	}

	obj, ok := cur.Object()
	if !ok {
		if !create {
			return types.Value{}, fmt.Errorf("passo de campo sobre não-objeto")
		}
		obj = map[string]types.Value{}
	}
	next := make(map[string]types.Value, len(obj)+1)
	for k, v := range obj {
		next[k] = v
	}

	child, childOk := next[s.Field]
	if len(p) == 1 {
		leaf, keep, err := mut(child, childOk)
		if err != nil {
			return types.Value{}, err
		}
		if !keep {
			delete(next, s.Field)
			return types.Object(next), nil
		}
		next[s.Field] = leaf
		return types.Object(next), nil
	}

	if !childOk {
		if !create {
			return types.Value{}, fmt.Errorf("caminho ausente: %s", p.Canonical())
		}
		child = types.Object(map[string]types.Value{})
	}
	sub, err := rebuild(child, p[1:], mut, create)
	if err != nil {
		return types.Value{}, err
	}
	next[s.Field] = sub
	return types.Object(next), nil
}

// Merge aplica um RFC 7396 Merge Patch: objetos fundem recursivamente,
// Null remove o campo, qualquer outro valor substitui.
func Merge(target, patch types.Value) types.Value {
	pobj, ok := patch.Object()
	if !ok {
		return patch
	}
	tobj, ok := target.Object()
	if !ok {
		tobj = map[string]types.Value{}
	}
	out := make(map[string]types.Value, len(tobj)+len(pobj))
	for k, v := range tobj {
		out[k] = v
	}
	for k, pv := range pobj {
		if pv.IsNull() {
			delete(out, k)
			continue
		}
		if cur, ok := out[k]; ok {
			out[k] = Merge(cur, pv)
		} else {
			out[k] = Merge(types.Null(), pv)
		}
	}
	return types.Object(out)
}
