package builtins

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"

	"weave/internal/diag"
	"weave/internal/object"
)

// stringFn adapts a func over string arguments into a Foreign.
func stringFn(name string, params []string, fn func(args []string) object.Object) *object.Foreign {
	return &object.Foreign{Params: params, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity(name, args, len(params), len(params)); err != nil {
			return nil, err
		}
		strs := make([]string, len(args))
		for i, a := range args {
			s, err := unpackString(a, name)
			if err != nil {
				return nil, err
			}
			strs[i] = s
		}
		return fn(strs), nil
	}}
}

func fnStringUpper() *object.Foreign {
	return stringFn("str.upper", []string{"s"}, func(a []string) object.Object {
		return &object.String{Value: strings.ToUpper(a[0])}
	})
}

func fnStringLower() *object.Foreign {
	return stringFn("str.lower", []string{"s"}, func(a []string) object.Object {
		return &object.String{Value: strings.ToLower(a[0])}
	})
}

func fnStringTrim() *object.Foreign {
	return stringFn("str.trim", []string{"s"}, func(a []string) object.Object {
		return &object.String{Value: strings.TrimFunc(a[0], unicode.IsSpace)}
	})
}

func fnStringReplace() *object.Foreign {
	return stringFn("str.replace", []string{"s", "old", "new"}, func(a []string) object.Object {
		return &object.String{Value: strings.ReplaceAll(a[0], a[1], a[2])}
	})
}

func fnStringContains() *object.Foreign {
	return stringFn("str.contains", []string{"s", "sub"}, func(a []string) object.Object {
		return object.NativeBool(strings.Contains(a[0], a[1]))
	})
}

func fnStringStartsWith() *object.Foreign {
	return stringFn("str.starts_with", []string{"s", "prefix"}, func(a []string) object.Object {
		return object.NativeBool(strings.HasPrefix(a[0], a[1]))
	})
}

func fnStringEndsWith() *object.Foreign {
	return stringFn("str.ends_with", []string{"s", "suffix"}, func(a []string) object.Object {
		return object.NativeBool(strings.HasSuffix(a[0], a[1]))
	})
}

func stringList(parts []string) *object.List {
	out := make([]object.Object, len(parts))
	for i, p := range parts {
		out[i] = &object.String{Value: p}
	}
	return &object.List{Elements: out}
}

// fnStringSplit splits on whitespace runs when no separator is given.
func fnStringSplit() *object.Foreign {
	return &object.Foreign{Params: []string{"s", "sep"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("str.split", args, 1, 2); err != nil {
			return nil, err
		}
		s, err := unpackString(args[0], "str.split")
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return stringList(strings.Fields(s)), nil
		}
		sep, err := unpackString(args[1], "str.split")
		if err != nil {
			return nil, err
		}
		return stringList(strings.Split(s, sep)), nil
	}}
}

func fnStringJoin() *object.Foreign {
	return &object.Foreign{Params: []string{"items", "sep"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("str.join", args, 2, 2); err != nil {
			return nil, err
		}
		elems, err := unpackSequence(args[0], "str.join")
		if err != nil {
			return nil, err
		}
		sep, err := unpackString(args[1], "str.join")
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(elems))
		for i, el := range elems {
			if parts[i], err = unpackString(el, "str.join"); err != nil {
				return nil, err
			}
		}
		return &object.String{Value: strings.Join(parts, sep)}, nil
	}}
}

func numberFn(name string, fn func(float64) object.Object) *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
		f, err := unpackNumber(args[0], name)
		if err != nil {
			return nil, err
		}
		return fn(f), nil
	}}
}

func fnMathSqrt() *object.Foreign {
	return &object.Foreign{Params: []string{"x"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("math.sqrt", args, 1, 1); err != nil {
			return nil, err
		}
		f, err := unpackNumber(args[0], "math.sqrt")
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return nil, diag.New(diag.RuntimeError, "math.sqrt of negative number %v", f)
		}
		return &object.Float{Value: math.Sqrt(f)}, nil
	}}
}

func fnMathPow() *object.Foreign {
	return &object.Foreign{Params: []string{"x", "y"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("math.pow", args, 2, 2); err != nil {
			return nil, err
		}
		if base, ok := args[0].(*object.Integer); ok {
			if exp, ok := args[1].(*object.Integer); ok && exp.Value >= 0 {
				out := int64(1)
				for i := int64(0); i < exp.Value; i++ {
					out *= base.Value
				}
				return &object.Integer{Value: out}, nil
			}
		}
		x, err := unpackNumber(args[0], "math.pow")
		if err != nil {
			return nil, err
		}
		y, err := unpackNumber(args[1], "math.pow")
		if err != nil {
			return nil, err
		}
		return &object.Float{Value: math.Pow(x, y)}, nil
	}}
}

func fnMathFloor() *object.Foreign {
	return numberFn("math.floor", func(f float64) object.Object {
		return &object.Integer{Value: int64(math.Floor(f))}
	})
}

func fnMathCeil() *object.Foreign {
	return numberFn("math.ceil", func(f float64) object.Object {
		return &object.Integer{Value: int64(math.Ceil(f))}
	})
}

func fnMathPi() *object.Foreign {
	return &object.Foreign{Params: []string{}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("math.pi", args, 0, 0); err != nil {
			return nil, err
		}
		return &object.Float{Value: math.Pi}, nil
	}}
}

func compileRegex(fnName, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, diag.Wrap(diag.ValidationError, err, "%s: invalid pattern %q: %v", fnName, pattern, err)
	}
	return re, nil
}

func fnRegexMatch() *object.Foreign {
	return &object.Foreign{Params: []string{"pattern", "s"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("re.match", args, 2, 2); err != nil {
			return nil, err
		}
		pattern, err := unpackString(args[0], "re.match")
		if err != nil {
			return nil, err
		}
		s, err := unpackString(args[1], "re.match")
		if err != nil {
			return nil, err
		}
		re, err := compileRegex("re.match", pattern)
		if err != nil {
			return nil, err
		}
		return object.NativeBool(re.MatchString(s)), nil
	}}
}

func fnRegexFindAll() *object.Foreign {
	return &object.Foreign{Params: []string{"pattern", "s"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("re.find_all", args, 2, 2); err != nil {
			return nil, err
		}
		pattern, err := unpackString(args[0], "re.find_all")
		if err != nil {
			return nil, err
		}
		s, err := unpackString(args[1], "re.find_all")
		if err != nil {
			return nil, err
		}
		re, err := compileRegex("re.find_all", pattern)
		if err != nil {
			return nil, err
		}
		return stringList(re.FindAllString(s, -1)), nil
	}}
}

func fnRegexReplace() *object.Foreign {
	return &object.Foreign{Params: []string{"pattern", "s", "repl"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("re.replace", args, 3, 3); err != nil {
			return nil, err
		}
		var strs [3]string
		for i := range strs {
			s, err := unpackString(args[i], "re.replace")
			if err != nil {
				return nil, err
			}
			strs[i] = s
		}
		re, err := compileRegex("re.replace", strs[0])
		if err != nil {
			return nil, err
		}
		return &object.String{Value: re.ReplaceAllString(strs[1], strs[2])}, nil
	}}
}
