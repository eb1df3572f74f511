// Package interp executes normalized weave programs.
package interp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"weave/internal/ast"
	"weave/internal/builtins"
	"weave/internal/compose"
	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/poet"
	"weave/internal/registry"
	"weave/internal/telemetry"
)

const DefaultMaxCallDepth = 256

// Options configure one engine. The zero value is usable.
type Options struct {
	// Registry is the sealed base registry; builtins.Base() when nil.
	Registry *registry.Registry

	// Root is the directory imports resolve against; LibPath is the
	// fallback directory.
	Root    string
	LibPath string

	MaxCallDepth    int
	MaxParallel     int
	FailurePolicy   compose.FailurePolicy
	NoOrchestration bool

	Catalog *poet.Catalog
	Trainer poet.Trainer

	Stdout  io.Writer
	Metrics *telemetry.Metrics
	Version string
}

// Engine runs one program session. Its registry overlay, module cache and
// collected diagnostics belong to that session.
type Engine struct {
	opts     Options
	registry *registry.Registry
	catalog  *poet.Catalog
	pipeOpts []compose.Option

	mu      sync.Mutex
	modules map[string]*object.Module
	loading map[string]bool
	diags   []diag.Diagnostic
	calls   []*poet.Meta
}

func New(opts Options) (*Engine, error) {
	base := opts.Registry
	if base == nil {
		var err error
		if base, err = builtins.Base(); err != nil {
			return nil, err
		}
	}
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = poet.DefaultCatalog()
	}
	return &Engine{
		opts:     opts,
		registry: base.Session(),
		catalog:  catalog,
		pipeOpts: []compose.Option{
			compose.WithMaxParallel(opts.MaxParallel),
			compose.WithFailurePolicy(opts.FailurePolicy),
			compose.WithOrchestration(!opts.NoOrchestration),
		},
		modules: make(map[string]*object.Module),
		loading: make(map[string]bool),
	}, nil
}

// Registry is the session registry user functions are registered into.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Diagnostics returns the warnings collected so far.
func (e *Engine) Diagnostics() []diag.Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]diag.Diagnostic(nil), e.diags...)
}

// Calls returns the metadata of every decorated call made so far.
func (e *Engine) Calls() []*poet.Meta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*poet.Meta(nil), e.calls...)
}

func (e *Engine) warn(node ast.Node, format string, args ...any) {
	d := diag.Warning(format, args...)
	span := node.Pos()
	d.Span = &span
	e.mu.Lock()
	e.diags = append(e.diags, d)
	e.mu.Unlock()
	slog.Warn(d.Message, slog.Int("line", span.Line), slog.Int("col", span.Col))
}

func (e *Engine) recordCall(meta *poet.Meta) {
	e.mu.Lock()
	e.calls = append(e.calls, meta)
	e.mu.Unlock()
}

// Execute evaluates any statement or expression in env. Control flow
// signals come back as values; failures are *diag.Error values carrying the
// span of the innermost node that failed.
func (e *Engine) Execute(ctx context.Context, node ast.Node, env *object.Context) (object.Object, error) {
	out, err := e.eval(ctx, node, env)
	if err != nil {
		return nil, locate(err, node)
	}
	return out, nil
}

func locate(err error, node ast.Node) error {
	if de, ok := diag.As(err); ok {
		de.WithSpan(node.Pos())
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return diag.Wrap(diag.TimeoutError, err, "execution cancelled").WithSpan(node.Pos())
	}
	return diag.Wrap(diag.RuntimeError, err, "").WithSpan(node.Pos())
}

func (e *Engine) eval(ctx context.Context, node ast.Node, env *object.Context) (object.Object, error) {
	switch node := node.(type) {

	// Statements
	case *ast.Program:
		return e.evalProgram(ctx, node, env, "")

	case *ast.Block:
		return e.evalBlock(ctx, node, env)

	case *ast.ExpressionStatement:
		return e.Execute(ctx, node.Expr, env)

	case *ast.Assignment:
		return e.evalAssignment(ctx, node, env)

	case *ast.Conditional:
		return e.evalConditional(ctx, node, env)

	case *ast.Loop:
		if node.Kind == ast.ForLoop {
			return e.evalForLoop(ctx, node, env)
		}
		return e.evalWhileLoop(ctx, node, env)

	case *ast.FunctionDef:
		return e.evalFunctionDef(ctx, node, env, "", false)

	case *ast.AgentDecl:
		return e.evalAgentDecl(ctx, node, env)

	case *ast.Import:
		return e.evalImport(ctx, node, env)

	case *ast.TryRecover:
		return e.evalTryRecover(ctx, node, env)

	case *ast.Return:
		if node.Value == nil {
			return &object.ReturnValue{Value: object.NONE}, nil
		}
		val, err := e.Execute(ctx, node.Value, env)
		if err != nil {
			return nil, err
		}
		return &object.ReturnValue{Value: val}, nil

	case *ast.Break:
		return object.BREAK, nil

	case *ast.Continue:
		return object.CONTINUE, nil

	case *ast.Raise:
		return e.evalRaise(ctx, node, env)

	// Expressions
	case *ast.Literal:
		return literal(node)

	case *ast.Identifier:
		return e.evalIdentifier(ctx, node, env)

	case *ast.BinaryOp:
		return e.evalBinaryOp(ctx, node, env)

	case *ast.UnaryOp:
		operand, err := e.Execute(ctx, node.Operand, env)
		if err != nil {
			return nil, err
		}
		return evalUnary(node.Op, operand)

	case *ast.Call:
		return e.evalCall(ctx, node, env)

	case *ast.Attribute:
		return e.evalAttribute(ctx, node, env)

	case *ast.Index:
		return e.evalIndex(ctx, node, env)

	case *ast.Pipe:
		return e.evalPipe(ctx, node, env)

	case *ast.ParallelBlock:
		stage, err := e.parallelStage(ctx, node, env)
		if err != nil {
			return nil, err
		}
		return compose.Build([]compose.Stage{stage}, e.pipeOpts...)

	case *ast.InterpolatedString:
		return e.evalInterpolated(ctx, node, env)

	case *ast.Collection:
		return e.evalCollection(ctx, node, env)

	case *ast.Lambda:
		return &object.Function{Parameters: node.Params, Body: node.Body, Env: env, Engine: e}, nil
	}
	return nil, diag.New(diag.RuntimeError, "cannot execute %T", node)
}

// evalProgram runs top-level statements. Top-level defs are registered
// under namespace; the value of the last statement is the program value.
func (e *Engine) evalProgram(ctx context.Context, program *ast.Program, env *object.Context, namespace string) (object.Object, error) {
	var result object.Object = object.NONE
	for _, stmt := range program.Statements {
		if err := ctx.Err(); err != nil {
			return nil, locate(err, stmt)
		}
		var out object.Object
		var err error
		if def, ok := stmt.(*ast.FunctionDef); ok {
			out, err = e.evalFunctionDef(ctx, def, env, namespace, true)
			if err != nil {
				err = locate(err, def)
			}
		} else {
			out, err = e.Execute(ctx, stmt, env)
		}
		if err != nil {
			return nil, err
		}
		switch out := out.(type) {
		case *object.ReturnValue:
			return out.Value, nil
		case *object.Signal:
			return nil, locate(diag.New(diag.RuntimeError, "%s outside loop", out.Name), stmt)
		}
		result = out
	}
	return result, nil
}

func (e *Engine) evalBlock(ctx context.Context, block *ast.Block, env *object.Context) (object.Object, error) {
	var result object.Object = object.NONE
	for _, stmt := range block.Statements {
		out, err := e.Execute(ctx, stmt, env)
		if err != nil {
			return nil, err
		}
		switch out.(type) {
		case *object.ReturnValue, *object.Signal:
			return out, nil
		}
		result = out
	}
	return result, nil
}

func literal(node *ast.Literal) (object.Object, error) {
	switch v := node.Value.(type) {
	case nil:
		return object.NONE, nil
	case bool:
		return object.NativeBool(v), nil
	case int64:
		return &object.Integer{Value: v}, nil
	case float64:
		return &object.Float{Value: v}, nil
	case string:
		return &object.String{Value: v}, nil
	}
	return nil, diag.New(diag.RuntimeError, "unsupported literal %T", node.Value)
}

type depthKey struct{}

type moduleKey struct{}

// moduleOf names the imported module whose code is running; "" for the main
// program.
func moduleOf(ctx context.Context) string {
	ns, _ := ctx.Value(moduleKey{}).(string)
	return ns
}

func (e *Engine) isModule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, loaded := e.modules[name]
	return loaded || e.loading[name]
}

func callDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// ApplyFunction runs a def or lambda body in a child of its defining
// context. The child is released on every exit path.
func (e *Engine) ApplyFunction(ctx context.Context, fn *object.Function, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
	depth := callDepth(ctx) + 1
	if depth > e.opts.MaxCallDepth {
		return nil, diag.New(diag.RuntimeError, "maximum call depth of %d exceeded", e.opts.MaxCallDepth).
			WithFunction(fn.Name())
	}
	ctx = context.WithValue(ctx, depthKey{}, depth)
	if fn.Namespace != "" && e.isModule(fn.Namespace) {
		ctx = context.WithValue(ctx, moduleKey{}, fn.Namespace)
	}

	env := fn.Env.DeriveChild()
	defer func() {
		if err := env.Release(); err != nil {
			slog.Warn("failed to release call context",
				slog.String("function", fn.Name()),
				slog.Any("error", err))
		}
	}()

	if err := e.bindParams(ctx, fn, env, args, kwargs); err != nil {
		return nil, diag.Ensure(err).WithFunction(fn.Name())
	}
	out, err := e.Execute(ctx, fn.Body, env)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case *object.ReturnValue:
		out = v.Value
	case *object.Signal:
		return nil, diag.New(diag.RuntimeError, "%s outside loop", v.Name).WithFunction(fn.Name())
	}
	if !typeMatches(fn.ReturnType, out) {
		return nil, diag.New(diag.TypeError, "%s must return %s, got %s", fn.Name(), fn.ReturnType, out.Type()).
			WithFunction(fn.Name())
	}
	return out, nil
}

func (e *Engine) bindParams(ctx context.Context, fn *object.Function, env *object.Context, args []object.Object, kwargs map[string]object.Object) error {
	params := fn.Parameters
	if len(args) > len(params) {
		return diag.New(diag.TypeError, "%s takes %d argument(s) but %d were given", fn.Name(), len(params), len(args))
	}
	bound := make(map[string]bool, len(params))
	for i, arg := range args {
		env.Set(object.Local, params[i].Name, arg)
		bound[params[i].Name] = true
	}
	for name, v := range kwargs {
		known := false
		for _, p := range params {
			if p.Name == name {
				known = true
				break
			}
		}
		if !known {
			return diag.New(diag.TypeError, "%s got an unexpected keyword argument %q", fn.Name(), name)
		}
		if bound[name] {
			return diag.New(diag.TypeError, "%s got multiple values for argument %q", fn.Name(), name)
		}
		env.Set(object.Local, name, v)
		bound[name] = true
	}
	for _, p := range params {
		if !bound[p.Name] {
			if p.Default == nil {
				return diag.New(diag.TypeError, "%s missing required argument %q", fn.Name(), p.Name)
			}
			v, err := e.Execute(ctx, p.Default, env)
			if err != nil {
				return err
			}
			env.Set(object.Local, p.Name, v)
		}
		v, _ := env.Lookup(object.Local, p.Name)
		if !typeMatches(p.Type, v) {
			return diag.New(diag.TypeError, "argument %q of %s must be %s, got %s", p.Name, fn.Name(), p.Type, v.Type())
		}
	}
	return nil
}
