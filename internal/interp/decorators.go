package interp

import (
	"context"
	"time"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/poet"
	"weave/internal/util"
)

// decorate applies decorators innermost first. @poet is built in; any other
// decorator names a callable that receives the function plus the decorator
// arguments and returns the replacement.
func (e *Engine) decorate(ctx context.Context, def *ast.FunctionDef, fn object.Callable, env *object.Context) (object.Callable, error) {
	out := fn
	for i := len(def.Decorators) - 1; i >= 0; i-- {
		d := def.Decorators[i]
		var err error
		if d.Name == poet.DECORATED_OBJ {
			out, err = e.poetDecorator(ctx, d, out, env)
		} else {
			out, err = e.userDecorator(ctx, d, out, env)
		}
		if err != nil {
			return nil, locate(err, d)
		}
	}
	return out, nil
}

func (e *Engine) userDecorator(ctx context.Context, d *ast.Decorator, fn object.Callable, env *object.Context) (object.Callable, error) {
	dec, err := e.registry.Resolve(env, "", d.Name)
	if err != nil {
		return nil, err
	}
	args, err := e.evalExpressions(ctx, d.Args, env)
	if err != nil {
		return nil, err
	}
	kwargs := make(map[string]object.Object, len(d.Kwargs))
	for _, kw := range d.Kwargs {
		if kwargs[kw.Name], err = e.Execute(ctx, kw.Value, env); err != nil {
			return nil, err
		}
	}
	out, err := dec.Call(ctx, env, append([]object.Object{fn}, args...), kwargs)
	if err != nil {
		return nil, err
	}
	wrapped, ok := out.(object.Callable)
	if !ok {
		return nil, diag.New(diag.TypeError, "decorator @%s returned %s, not a callable", d.Name, out.Type())
	}
	return wrapped, nil
}

func (e *Engine) poetDecorator(ctx context.Context, d *ast.Decorator, fn object.Callable, env *object.Context) (object.Callable, error) {
	ov, err := e.poetOverrides(ctx, d, env)
	if err != nil {
		return nil, err
	}
	cfg, err := e.catalog.Resolve(ov)
	if err != nil {
		return nil, err
	}
	opts := []poet.Option{poet.WithObserver(e.recordCall)}
	if e.opts.Trainer != nil {
		opts = append(opts, poet.WithTrainer(e.opts.Trainer))
	}
	return poet.Decorate(fn, cfg, opts...)
}

// poetOverrides reads @poet arguments. Positional strings and the domain,
// domains, behaviors and presets options name presets in the order written.
func (e *Engine) poetOverrides(ctx context.Context, d *ast.Decorator, env *object.Context) (poet.Overrides, error) {
	var ov poet.Overrides
	for _, arg := range d.Args {
		v, err := e.Execute(ctx, arg, env)
		if err != nil {
			return ov, err
		}
		names, err := stringList("preset", v)
		if err != nil {
			return ov, err
		}
		ov.Presets = append(ov.Presets, names...)
	}
	for _, kw := range d.Kwargs {
		v, err := e.Execute(ctx, kw.Value, env)
		if err != nil {
			return ov, err
		}
		if err := applyPoetOption(&ov, kw.Name, v); err != nil {
			return ov, locate(err, kw)
		}
	}
	return ov, nil
}

func applyPoetOption(ov *poet.Overrides, name string, v object.Object) error {
	var err error
	switch name {
	case "domain", "domains", "behavior", "behaviors", "presets":
		var names []string
		if names, err = stringList(name, v); err == nil {
			ov.Presets = append(ov.Presets, names...)
		}
	case "retries":
		n, ok := v.(*object.Integer)
		if !ok {
			return diag.New(diag.ConfigError, "retries must be an int, got %s", v.Type())
		}
		r := int(n.Value)
		ov.Retries = &r
	case "timeout":
		ov.Timeout, err = durationOption(name, v)
	case "backoff":
		ov.BackoffBase, err = durationOption(name, v)
	case "backoff_max":
		ov.BackoffMax, err = durationOption(name, v)
	case "perceive":
		ov.Perceive, err = stringList(name, v)
	case "enforce":
		ov.Enforce, err = stringList(name, v)
	case "output_type":
		s, ok := v.(*object.String)
		if !ok {
			return diag.New(diag.ConfigError, "output_type must be a str, got %s", v.Type())
		}
		ov.OutputType = &s.Value
	case "train":
		ov.Train, err = boolOption(name, v)
	case "debug":
		ov.Debug, err = boolOption(name, v)
	case "trace":
		ov.Trace, err = boolOption(name, v)
	default:
		return diag.New(diag.ConfigError, "unknown poet option %q", name)
	}
	return err
}

func stringList(option string, v object.Object) ([]string, error) {
	if s, ok := v.(*object.String); ok {
		return []string{s.Value}, nil
	}
	elems, ok := object.Elements(v)
	if !ok {
		return nil, diag.New(diag.ConfigError, "%s must be a str or a list of str, got %s", option, v.Type())
	}
	out := make([]string, 0, len(elems))
	for _, el := range elems {
		s, ok := el.(*object.String)
		if !ok {
			return nil, diag.New(diag.ConfigError, "%s entries must be str, got %s", option, el.Type())
		}
		out = append(out, s.Value)
	}
	return out, nil
}

// durationOption takes seconds as a number or a duration string like "250ms".
func durationOption(option string, v object.Object) (*time.Duration, error) {
	var d time.Duration
	switch v := v.(type) {
	case *object.Integer, *object.Float:
		secs, _ := object.ToFloat(v)
		d = time.Duration(secs * float64(time.Second))
	case *object.String:
		var err error
		if d, err = util.ParseDuration(v.Value); err != nil {
			return nil, diag.Wrap(diag.ConfigError, err, "%s: %v", option, err)
		}
	default:
		return nil, diag.New(diag.ConfigError, "%s must be seconds or a duration string, got %s", option, v.Type())
	}
	return &d, nil
}

func boolOption(option string, v object.Object) (*bool, error) {
	b, ok := v.(*object.Boolean)
	if !ok {
		return nil, diag.New(diag.ConfigError, "%s must be a bool, got %s", option, v.Type())
	}
	val := b.Value
	return &val, nil
}
