// Package builtins provides the functions every weave program can call
// without importing anything: Builtin-priority functions in the root
// namespace and Core-priority namespaces such as str, math, re, sql and llm.
package builtins

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/registry"
)

// GetForeignFunctions returns a fresh table of every built-in, keyed by
// "name" for the root namespace and "namespace.name" otherwise.
func GetForeignFunctions() map[string]*object.Foreign {
	return map[string]*object.Foreign{
		"print":     fnPrint(),
		"len":       fnLen(),
		"str":       fnStr(),
		"int":       fnInt(),
		"float":     fnFloat(),
		"bool":      fnBool(),
		"type":      fnType(),
		"range":     fnRange(),
		"sum":       fnSum(),
		"min":       fnMinMax("min", -1),
		"max":       fnMinMax("max", 1),
		"abs":       fnAbs(),
		"round":     fnRound(),
		"sorted":    fnSorted(),
		"reversed":  fnReversed(),
		"keys":      fnKeys(),
		"values":    fnValues(),
		"append":    fnAppend(),
		"map":       fnMap(),
		"filter":    fnFilter(),
		"error":     fnError(),
		"transient": fnTransient(),
		"sleep":     fnSleep(),
		"now":       fnNow(),
		"to_json":   fnToJSON(),
		"from_json": fnFromJSON(),
		"functions": fnFunctions(),
		"register":  fnRegister(),
		"use":       fnUse(),

		"str.upper":       fnStringUpper(),
		"str.lower":       fnStringLower(),
		"str.split":       fnStringSplit(),
		"str.join":        fnStringJoin(),
		"str.replace":     fnStringReplace(),
		"str.trim":        fnStringTrim(),
		"str.contains":    fnStringContains(),
		"str.starts_with": fnStringStartsWith(),
		"str.ends_with":   fnStringEndsWith(),

		"math.sqrt":  fnMathSqrt(),
		"math.pow":   fnMathPow(),
		"math.floor": fnMathFloor(),
		"math.ceil":  fnMathCeil(),
		"math.pi":    fnMathPi(),

		"re.match":    fnRegexMatch(),
		"re.find_all": fnRegexFindAll(),
		"re.replace":  fnRegexReplace(),

		"sql.query":    fnSQLQuery(),
		"sql.exec":     fnSQLExec(),
		"sql.begin":    fnSQLBegin(),
		"sql.commit":   fnSQLCommit(),
		"sql.rollback": fnSQLRollback(),
		"sql.close":    fnSQLClose(),

		"llm.reason": fnLLMReason(),
	}
}

// Base builds the process-wide registry: root names at Builtin priority,
// namespaced ones at Core. The result is sealed.
func Base() (*registry.Registry, error) {
	r := registry.New()
	table := GetForeignFunctions()
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fn := table[key]
		priority := registry.Builtin
		if ns, name, ok := strings.Cut(key, "."); ok {
			fn.Namespace, fn.FnName = ns, name
			priority = registry.Core
		} else {
			fn.FnName = key
		}
		if err := r.RegisterFunc(fn.Namespace, fn.FnName, fn, priority, map[string]any{"native": true}); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

type outputKey struct{}

// WithOutput directs print to w for calls made under ctx.
func WithOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputKey{}, &output{w: w})
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

var stdout = &output{w: os.Stdout}

func outputFrom(ctx context.Context) *output {
	if o, ok := ctx.Value(outputKey{}).(*output); ok {
		return o
	}
	return stdout
}

func (o *output) println(line string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := fmt.Fprintln(o.w, line)
	return err
}

func arity(name string, args []object.Object, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		want := fmt.Sprint(min)
		switch {
		case max < 0:
			want = fmt.Sprintf("at least %d", min)
		case max != min:
			want = fmt.Sprintf("%d to %d", min, max)
		}
		return diag.New(diag.TypeError, "wrong number of arguments to %s: got=%d, want=%s", name, len(args), want)
	}
	return nil
}

func unpackString(arg object.Object, fnName string) (string, error) {
	s, ok := arg.(*object.String)
	if !ok {
		return "", diag.New(diag.TypeError, "argument to `%s` must be a str, got=%s", fnName, arg.Type())
	}
	return s.Value, nil
}

func unpackInt(arg object.Object, fnName string) (int64, error) {
	n, ok := arg.(*object.Integer)
	if !ok {
		return 0, diag.New(diag.TypeError, "argument to `%s` must be an int, got=%s", fnName, arg.Type())
	}
	return n.Value, nil
}

func unpackNumber(arg object.Object, fnName string) (float64, error) {
	f, ok := object.ToFloat(arg)
	if !ok {
		return 0, diag.New(diag.TypeError, "argument to `%s` must be a number, got=%s", fnName, arg.Type())
	}
	return f, nil
}

func unpackCallable(arg object.Object, fnName string) (object.Callable, error) {
	fn, ok := arg.(object.Callable)
	if !ok {
		return nil, diag.New(diag.TypeError, "argument to `%s` must be callable, got=%s", fnName, arg.Type())
	}
	return fn, nil
}

func unpackSequence(arg object.Object, fnName string) ([]object.Object, error) {
	elems, ok := object.Elements(arg)
	if !ok {
		return nil, diag.New(diag.TypeError, "argument to `%s` must be a list or tuple, got=%s", fnName, arg.Type())
	}
	return elems, nil
}

// kwarg returns the keyword argument name, or the positional argument at
// index i, or nil.
func kwarg(args []object.Object, kwargs map[string]object.Object, i int, name string) object.Object {
	if v, ok := kwargs[name]; ok {
		return v
	}
	if i < len(args) {
		return args[i]
	}
	return nil
}

func noKwargs(name string, kwargs map[string]object.Object, allowed ...string) error {
	for k := range kwargs {
		known := false
		for _, a := range allowed {
			if a == k {
				known = true
				break
			}
		}
		if !known {
			return diag.New(diag.TypeError, "%s got an unexpected keyword argument %q", name, k)
		}
	}
	return nil
}
