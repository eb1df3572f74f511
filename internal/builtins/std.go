package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/registry"
	"weave/internal/resource"
)

func fnPrint() *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := noKwargs("print", kwargs, "sep"); err != nil {
			return nil, err
		}
		sep := " "
		if v, ok := kwargs["sep"]; ok {
			s, err := unpackString(v, "print")
			if err != nil {
				return nil, err
			}
			sep = s
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.Inspect()
		}
		if err := outputFrom(ctx).println(strings.Join(parts, sep)); err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "print failed: %v", err)
		}
		return object.NONE, nil
	}}
}

func fnLen() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("len", args, 1, 1); err != nil {
			return nil, err
		}
		switch arg := args[0].(type) {
		case *object.String:
			return &object.Integer{Value: int64(utf8.RuneCountInString(arg.Value))}, nil
		case *object.List:
			return &object.Integer{Value: int64(len(arg.Elements))}, nil
		case *object.Tuple:
			return &object.Integer{Value: int64(len(arg.Elements))}, nil
		case *object.Dict:
			return &object.Integer{Value: int64(arg.Len())}, nil
		}
		return nil, diag.New(diag.TypeError, "argument to `len` not supported, got %s", args[0].Type())
	}}
}

func fnStr() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("str", args, 1, 1); err != nil {
			return nil, err
		}
		return &object.String{Value: args[0].Inspect()}, nil
	}}
}

func fnInt() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("int", args, 1, 1); err != nil {
			return nil, err
		}
		switch arg := args[0].(type) {
		case *object.Integer:
			return arg, nil
		case *object.Float:
			return &object.Integer{Value: int64(arg.Value)}, nil
		case *object.Boolean:
			if arg.Value {
				return &object.Integer{Value: 1}, nil
			}
			return &object.Integer{Value: 0}, nil
		case *object.String:
			i, err := strconv.ParseInt(strings.TrimSpace(arg.Value), 10, 64)
			if err != nil {
				return nil, diag.New(diag.TypeError, "invalid literal for int: %q", arg.Value)
			}
			return &object.Integer{Value: i}, nil
		}
		return nil, diag.New(diag.TypeError, "argument to `int` not supported, got %s", args[0].Type())
	}}
}

func fnFloat() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("float", args, 1, 1); err != nil {
			return nil, err
		}
		switch arg := args[0].(type) {
		case *object.Integer:
			return &object.Float{Value: float64(arg.Value)}, nil
		case *object.Float:
			return arg, nil
		case *object.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(arg.Value), 64)
			if err != nil {
				return nil, diag.New(diag.TypeError, "invalid literal for float: %q", arg.Value)
			}
			return &object.Float{Value: f}, nil
		}
		return nil, diag.New(diag.TypeError, "argument to `float` not supported, got %s", args[0].Type())
	}}
}

func fnBool() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("bool", args, 1, 1); err != nil {
			return nil, err
		}
		return object.NativeBool(object.Truthy(args[0])), nil
	}}
}

func fnType() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("type", args, 1, 1); err != nil {
			return nil, err
		}
		return &object.String{Value: string(args[0].Type())}, nil
	}}
}

func fnRange() *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("range", args, 1, 3); err != nil {
			return nil, err
		}
		bounds := make([]int64, len(args))
		for i, a := range args {
			n, err := unpackInt(a, "range")
			if err != nil {
				return nil, err
			}
			bounds[i] = n
		}
		start, stop, step := int64(0), bounds[0], int64(1)
		if len(bounds) > 1 {
			start, stop = bounds[0], bounds[1]
		}
		if len(bounds) > 2 {
			step = bounds[2]
		}
		if step == 0 {
			return nil, diag.New(diag.RuntimeError, "range step must not be zero")
		}
		var out []object.Object
		for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
			out = append(out, &object.Integer{Value: i})
		}
		return &object.List{Elements: out}, nil
	}}
}

func fnSum() *object.Foreign {
	return &object.Foreign{Params: []string{"items"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sum", args, 1, 1); err != nil {
			return nil, err
		}
		elems, err := unpackSequence(args[0], "sum")
		if err != nil {
			return nil, err
		}
		var isum int64
		var fsum float64
		float := false
		for _, el := range elems {
			switch v := el.(type) {
			case *object.Integer:
				isum += v.Value
				fsum += float64(v.Value)
			case *object.Float:
				fsum += v.Value
				float = true
			default:
				return nil, diag.New(diag.TypeError, "sum of non-numeric value %s", el.Type())
			}
		}
		if float {
			return &object.Float{Value: fsum}, nil
		}
		return &object.Integer{Value: isum}, nil
	}}
}

// compare orders two numbers or two strings.
func compare(a, b object.Object) (int, error) {
	if as, ok := a.(*object.String); ok {
		if bs, ok := b.(*object.String); ok {
			return strings.Compare(as.Value, bs.Value), nil
		}
	}
	af, aok := object.ToFloat(a)
	bf, bok := object.ToFloat(b)
	if !aok || !bok {
		return 0, diag.New(diag.TypeError, "cannot compare %s and %s", a.Type(), b.Type())
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	}
	return 0, nil
}

// fnMinMax keeps the element whose comparison against the current best has
// sign want.
func fnMinMax(name string, want int) *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity(name, args, 1, -1); err != nil {
			return nil, err
		}
		elems := args
		if len(args) == 1 {
			var err error
			if elems, err = unpackSequence(args[0], name); err != nil {
				return nil, err
			}
		}
		if len(elems) == 0 {
			return nil, diag.New(diag.RuntimeError, "%s of an empty sequence", name)
		}
		best := elems[0]
		for _, el := range elems[1:] {
			c, err := compare(el, best)
			if err != nil {
				return nil, err
			}
			if c == want {
				best = el
			}
		}
		return best, nil
	}}
}

func fnAbs() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("abs", args, 1, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case *object.Integer:
			if v.Value < 0 {
				return &object.Integer{Value: -v.Value}, nil
			}
			return v, nil
		case *object.Float:
			return &object.Float{Value: math.Abs(v.Value)}, nil
		}
		return nil, diag.New(diag.TypeError, "argument to `abs` not supported, got %s", args[0].Type())
	}}
}

func fnRound() *object.Foreign {
	return &object.Foreign{Params: []string{"x", "digits"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("round", args, 1, 2); err != nil {
			return nil, err
		}
		f, err := unpackNumber(args[0], "round")
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return &object.Integer{Value: int64(math.RoundToEven(f))}, nil
		}
		digits, err := unpackInt(args[1], "round")
		if err != nil {
			return nil, err
		}
		scale := math.Pow(10, float64(digits))
		return &object.Float{Value: math.RoundToEven(f*scale) / scale}, nil
	}}
}

func fnSorted() *object.Foreign {
	return &object.Foreign{Params: []string{"items"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sorted", args, 1, 1); err != nil {
			return nil, err
		}
		if err := noKwargs("sorted", kwargs, "reverse"); err != nil {
			return nil, err
		}
		elems, err := unpackSequence(args[0], "sorted")
		if err != nil {
			return nil, err
		}
		out := append([]object.Object(nil), elems...)
		var cmpErr error
		sort.SliceStable(out, func(i, j int) bool {
			c, err := compare(out[i], out[j])
			if err != nil && cmpErr == nil {
				cmpErr = err
			}
			return c < 0
		})
		if cmpErr != nil {
			return nil, cmpErr
		}
		if rev, ok := kwargs["reverse"]; ok && object.Truthy(rev) {
			reverse(out)
		}
		return &object.List{Elements: out}, nil
	}}
}

func reverse(elems []object.Object) {
	for i, j := 0, len(elems)-1; i < j; i, j = i+1, j-1 {
		elems[i], elems[j] = elems[j], elems[i]
	}
}

func fnReversed() *object.Foreign {
	return &object.Foreign{Params: []string{"items"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("reversed", args, 1, 1); err != nil {
			return nil, err
		}
		if s, ok := args[0].(*object.String); ok {
			runes := []rune(s.Value)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return &object.String{Value: string(runes)}, nil
		}
		elems, err := unpackSequence(args[0], "reversed")
		if err != nil {
			return nil, err
		}
		out := append([]object.Object(nil), elems...)
		reverse(out)
		return &object.List{Elements: out}, nil
	}}
}

func unpackDict(arg object.Object, fnName string) (*object.Dict, error) {
	d, ok := arg.(*object.Dict)
	if !ok {
		return nil, diag.New(diag.TypeError, "argument to `%s` must be a dict, got=%s", fnName, arg.Type())
	}
	return d, nil
}

func fnKeys() *object.Foreign {
	return &object.Foreign{Params: []string{"d"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("keys", args, 1, 1); err != nil {
			return nil, err
		}
		d, err := unpackDict(args[0], "keys")
		if err != nil {
			return nil, err
		}
		items := d.Items()
		out := make([]object.Object, len(items))
		for i, pair := range items {
			out[i] = pair.Key
		}
		return &object.List{Elements: out}, nil
	}}
}

func fnValues() *object.Foreign {
	return &object.Foreign{Params: []string{"d"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("values", args, 1, 1); err != nil {
			return nil, err
		}
		d, err := unpackDict(args[0], "values")
		if err != nil {
			return nil, err
		}
		items := d.Items()
		out := make([]object.Object, len(items))
		for i, pair := range items {
			out[i] = pair.Value
		}
		return &object.List{Elements: out}, nil
	}}
}

// fnAppend returns a new list; the argument is left untouched so lists
// shared across parallel branches stay stable.
func fnAppend() *object.Foreign {
	return &object.Foreign{Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("append", args, 2, -1); err != nil {
			return nil, err
		}
		list, ok := args[0].(*object.List)
		if !ok {
			return nil, diag.New(diag.TypeError, "argument to `append` must be a list, got=%s", args[0].Type())
		}
		out := make([]object.Object, 0, len(list.Elements)+len(args)-1)
		out = append(append(out, list.Elements...), args[1:]...)
		return &object.List{Elements: out}, nil
	}}
}

func fnMap() *object.Foreign {
	return &object.Foreign{Params: []string{"fn", "items"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("map", args, 2, 2); err != nil {
			return nil, err
		}
		fn, err := unpackCallable(args[0], "map")
		if err != nil {
			return nil, err
		}
		elems, err := unpackSequence(args[1], "map")
		if err != nil {
			return nil, err
		}
		out := make([]object.Object, len(elems))
		for i, el := range elems {
			if out[i], err = fn.Call(ctx, env, []object.Object{el}, nil); err != nil {
				return nil, err
			}
		}
		return &object.List{Elements: out}, nil
	}}
}

func fnFilter() *object.Foreign {
	return &object.Foreign{Params: []string{"fn", "items"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("filter", args, 2, 2); err != nil {
			return nil, err
		}
		fn, err := unpackCallable(args[0], "filter")
		if err != nil {
			return nil, err
		}
		elems, err := unpackSequence(args[1], "filter")
		if err != nil {
			return nil, err
		}
		var out []object.Object
		for _, el := range elems {
			keep, err := fn.Call(ctx, env, []object.Object{el}, nil)
			if err != nil {
				return nil, err
			}
			if object.Truthy(keep) {
				out = append(out, el)
			}
		}
		return &object.List{Elements: out}, nil
	}}
}

var raisableKinds = map[diag.Kind]bool{
	diag.NameError:        true,
	diag.DispatchError:    true,
	diag.TypeError:        true,
	diag.ValidationError:  true,
	diag.TimeoutError:     true,
	diag.TransientError:   true,
	diag.CompositionError: true,
	diag.RuntimeError:     true,
	diag.ConfigError:      true,
}

func fnError() *object.Foreign {
	return &object.Foreign{Params: []string{"message", "kind"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := noKwargs("error", kwargs, "message", "kind"); err != nil {
			return nil, err
		}
		msg := kwarg(args, kwargs, 0, "message")
		if msg == nil {
			return nil, diag.New(diag.TypeError, "error missing required argument \"message\"")
		}
		text, err := unpackString(msg, "error")
		if err != nil {
			return nil, err
		}
		kind := diag.RuntimeError
		if k := kwarg(args, kwargs, 1, "kind"); k != nil {
			name, err := unpackString(k, "error")
			if err != nil {
				return nil, err
			}
			if !raisableKinds[diag.Kind(name)] {
				return nil, diag.New(diag.TypeError, "unknown error kind %q", name)
			}
			kind = diag.Kind(name)
		}
		return &object.Error{Kind: kind, Message: text}, nil
	}}
}

func fnTransient() *object.Foreign {
	return &object.Foreign{Params: []string{"message"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("transient", args, 1, 1); err != nil {
			return nil, err
		}
		text, err := unpackString(args[0], "transient")
		if err != nil {
			return nil, err
		}
		return &object.Error{Kind: diag.TransientError, Message: text}, nil
	}}
}

func fnSleep() *object.Foreign {
	return &object.Foreign{Params: []string{"seconds"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("sleep", args, 1, 1); err != nil {
			return nil, err
		}
		secs, err := unpackNumber(args[0], "sleep")
		if err != nil {
			return nil, err
		}
		t := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer t.Stop()
		select {
		case <-t.C:
			return object.NONE, nil
		case <-ctx.Done():
			return nil, diag.Wrap(diag.TimeoutError, ctx.Err(), "sleep interrupted: %v", ctx.Err())
		}
	}}
}

func fnNow() *object.Foreign {
	return &object.Foreign{Params: []string{}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("now", args, 0, 0); err != nil {
			return nil, err
		}
		return &object.Float{Value: float64(time.Now().UnixNano()) / float64(time.Second)}, nil
	}}
}

func fnToJSON() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("to_json", args, 1, 1); err != nil {
			return nil, err
		}
		data, err := json.Marshal(object.ToGo(args[0]))
		if err != nil {
			return nil, diag.Wrap(diag.TypeError, err, "to_json: %v", err)
		}
		return &object.String{Value: string(data)}, nil
	}}
}

func fnFromJSON() *object.Foreign {
	return &object.Foreign{Params: []string{"text"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("from_json", args, 1, 1); err != nil {
			return nil, err
		}
		text, err := unpackString(args[0], "from_json")
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(text)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, diag.Wrap(diag.ValidationError, err, "from_json: %v", err)
		}
		return object.FromGo(v), nil
	}}
}

// fnFunctions lists the registry visible to the running program, optionally
// limited to one namespace.
func fnFunctions() *object.Foreign {
	return &object.Foreign{Params: []string{"namespace"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("functions", args, 0, 1); err != nil {
			return nil, err
		}
		r := registry.FromContext(ctx)
		if r == nil {
			return nil, diag.New(diag.RuntimeError, "functions: no registry in this execution")
		}
		var only *string
		if len(args) == 1 {
			ns, err := unpackString(args[0], "functions")
			if err != nil {
				return nil, err
			}
			only = &ns
		}
		var out []object.Object
		for _, e := range r.Entries() {
			if only != nil && e.Namespace != *only {
				continue
			}
			out = append(out, object.NewDict().
				PutString("name", &object.String{Value: e.Name}).
				PutString("namespace", &object.String{Value: e.Namespace}).
				PutString("priority", &object.String{Value: e.Priority.String()}).
				PutString("params", object.FromGo(e.Signature)))
		}
		return &object.List{Elements: out}, nil
	}}
}

// fnRegister adds a Dynamic-priority entry to the running session.
func fnRegister() *object.Foreign {
	return &object.Foreign{Params: []string{"name", "fn", "namespace"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := noKwargs("register", kwargs, "name", "fn", "namespace"); err != nil {
			return nil, err
		}
		nameArg, fnArg := kwarg(args, kwargs, 0, "name"), kwarg(args, kwargs, 1, "fn")
		if nameArg == nil || fnArg == nil {
			return nil, diag.New(diag.TypeError, "register needs a name and a function")
		}
		name, err := unpackString(nameArg, "register")
		if err != nil {
			return nil, err
		}
		fn, err := unpackCallable(fnArg, "register")
		if err != nil {
			return nil, err
		}
		var ns string
		if v := kwarg(args, kwargs, 2, "namespace"); v != nil {
			if ns, err = unpackString(v, "register"); err != nil {
				return nil, err
			}
		}
		r := registry.FromContext(ctx)
		if r == nil {
			return nil, diag.New(diag.RuntimeError, "register: no registry in this execution")
		}
		if err := r.RegisterFunc(ns, name, fn, registry.Dynamic, map[string]any{"dynamic": true}); err != nil {
			return nil, err
		}
		return object.NONE, nil
	}}
}

// fnUse opens a SQL connection and binds it into the calling context under
// name. The context owns the only reference.
func fnUse() *object.Foreign {
	return &object.Foreign{Params: []string{"name", "driver", "dsn"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("use", args, 3, 3); err != nil {
			return nil, err
		}
		var parts [3]string
		for i := range parts {
			s, err := unpackString(args[i], "use")
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		h, err := resource.OpenSQL(ctx, parts[0], parts[1], parts[2])
		if err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "use %s: %v", parts[0], err)
		}
		defer h.Release()
		if err := env.BindResource(parts[0], h); err != nil {
			return nil, diag.Wrap(diag.RuntimeError, err, "use %s: %v", parts[0], err)
		}
		return &object.Resource{Handle: h}, nil
	}}
}
