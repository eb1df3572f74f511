package object

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Truthy: none, false, 0, 0.0, "" and empty containers are false.
func Truthy(o Object) bool {
	switch v := o.(type) {
	case nil, *None:
		return false
	case *Boolean:
		return v.Value
	case *Integer:
		return v.Value != 0
	case *Float:
		return v.Value != 0
	case *String:
		return v.Value != ""
	case *List:
		return len(v.Elements) > 0
	case *Tuple:
		return len(v.Elements) > 0
	case *Dict:
		return v.Len() > 0
	}
	return true
}

// Equal is structural equality; ints and floats compare numerically.
func Equal(a, b Object) bool {
	switch x := a.(type) {
	case *None:
		_, ok := b.(*None)
		return ok
	case *Boolean:
		y, ok := b.(*Boolean)
		return ok && x.Value == y.Value
	case *Integer:
		switch y := b.(type) {
		case *Integer:
			return x.Value == y.Value
		case *Float:
			return float64(x.Value) == y.Value
		}
		return false
	case *Float:
		switch y := b.(type) {
		case *Integer:
			return x.Value == float64(y.Value)
		case *Float:
			return x.Value == y.Value
		}
		return false
	case *String:
		y, ok := b.(*String)
		return ok && x.Value == y.Value
	case *List:
		y, ok := b.(*List)
		return ok && equalSlices(x.Elements, y.Elements)
	case *Tuple:
		y, ok := b.(*Tuple)
		return ok && equalSlices(x.Elements, y.Elements)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for k, pair := range x.Pairs {
			other, ok := y.Pairs[k]
			if !ok || !Equal(pair.Value, other.Value) {
				return false
			}
		}
		return true
	}
	return a == b
}

func equalSlices(a, b []Object) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// FromGo converts decoded JSON/YAML/SQL values into objects.
func FromGo(v any) Object {
	switch x := v.(type) {
	case nil:
		return NONE
	case Object:
		return x
	case bool:
		return NativeBool(x)
	case int:
		return &Integer{Value: int64(x)}
	case int64:
		return &Integer{Value: x}
	case float64:
		return &Float{Value: x}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return &Integer{Value: i}
		}
		f, _ := x.Float64()
		return &Float{Value: f}
	case string:
		return &String{Value: x}
	case []byte:
		return &String{Value: string(x)}
	case []any:
		out := make([]Object, len(x))
		for i, e := range x {
			out[i] = FromGo(e)
		}
		return &List{Elements: out}
	case []string:
		out := make([]Object, len(x))
		for i, e := range x {
			out[i] = &String{Value: e}
		}
		return &List{Elements: out}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			d.PutString(k, FromGo(x[k]))
		}
		return d
	}
	return &String{Value: fmt.Sprintf("%v", v)}
}

// ToGo is the inverse of FromGo; callables and other runtime values become
// their Inspect text.
func ToGo(o Object) any {
	switch v := o.(type) {
	case nil, *None:
		return nil
	case *Boolean:
		return v.Value
	case *Integer:
		return v.Value
	case *Float:
		return v.Value
	case *String:
		return v.Value
	case *List:
		return toGoSlice(v.Elements)
	case *Tuple:
		return toGoSlice(v.Elements)
	case *Dict:
		out := make(map[string]any, v.Len())
		for _, pair := range v.Items() {
			key := pair.Key.Inspect()
			out[key] = ToGo(pair.Value)
		}
		return out
	case *Error:
		return map[string]any{"kind": string(v.Kind), "message": v.Message, "phase": string(v.Phase)}
	}
	return o.Inspect()
}

func toGoSlice(elems []Object) []any {
	out := make([]any, len(elems))
	for i, e := range elems {
		out[i] = ToGo(e)
	}
	return out
}

// Elements returns the items of a list or tuple.
func Elements(o Object) ([]Object, bool) {
	switch v := o.(type) {
	case *List:
		return v.Elements, true
	case *Tuple:
		return v.Elements, true
	}
	return nil, false
}

// ToFloat widens ints; bools are not numbers.
func ToFloat(o Object) (float64, bool) {
	switch v := o.(type) {
	case *Integer:
		return float64(v.Value), true
	case *Float:
		return v.Value, true
	}
	return 0, false
}
