package interp

import (
	"context"
	"strings"

	"weave/internal/ast"
	"weave/internal/compose"
	"weave/internal/diag"
	"weave/internal/object"
)

// evalIdentifier reads a scoped name from its scope only. Plain names search
// the context and then the registry, so functions are first-class values.
func (e *Engine) evalIdentifier(ctx context.Context, node *ast.Identifier, env *object.Context) (object.Object, error) {
	if node.Scope != "" {
		scope, err := object.ParseScope(node.Scope)
		if err != nil {
			return nil, err
		}
		return env.GetScoped(scope, node.Name)
	}
	v, err := env.Get(node.Name)
	if err == nil {
		return v, nil
	}
	if entry, ok := e.registry.Lookup("", node.Name); ok {
		return entry.Callable, nil
	}
	if ns := moduleOf(ctx); ns != "" {
		if entry, ok := e.registry.Lookup(ns, node.Name); ok {
			return entry.Callable, nil
		}
	}
	return nil, err
}

func (e *Engine) evalBinaryOp(ctx context.Context, node *ast.BinaryOp, env *object.Context) (object.Object, error) {
	left, err := e.Execute(ctx, node.Left, env)
	if err != nil {
		return nil, err
	}
	switch node.Op {
	case "and":
		if !object.Truthy(left) {
			return left, nil
		}
		return e.Execute(ctx, node.Right, env)
	case "or":
		if object.Truthy(left) {
			return left, nil
		}
		return e.Execute(ctx, node.Right, env)
	}
	right, err := e.Execute(ctx, node.Right, env)
	if err != nil {
		return nil, err
	}
	return evalBinary(node.Op, left, right)
}

func (e *Engine) evalCall(ctx context.Context, node *ast.Call, env *object.Context) (object.Object, error) {
	fn, err := e.callee(ctx, node.Callee, env)
	if err != nil {
		return nil, err
	}
	args, err := e.evalExpressions(ctx, node.Args, env)
	if err != nil {
		return nil, err
	}
	var kwargs map[string]object.Object
	if len(node.Kwargs) > 0 {
		kwargs = make(map[string]object.Object, len(node.Kwargs))
		for _, kw := range node.Kwargs {
			if _, dup := kwargs[kw.Name]; dup {
				return nil, diag.New(diag.TypeError, "keyword argument %q repeated", kw.Name)
			}
			v, err := e.Execute(ctx, kw.Value, env)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}
	out, err := fn.Call(ctx, env, args, kwargs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, diag.Ensure(err).WithFunction(fn.Name())
	}
	return out, nil
}

// callee resolves what a call expression invokes. Plain and dotted names go
// through the dispatcher; anything else must evaluate to a callable.
func (e *Engine) callee(ctx context.Context, expr ast.Expression, env *object.Context) (object.Callable, error) {
	switch c := expr.(type) {
	case *ast.Identifier:
		if c.Scope == "" {
			fn, err := e.registry.Resolve(env, "", c.Name)
			if err != nil && diag.KindOf(err) == diag.DispatchError {
				// siblings inside an imported module call each other unqualified
				if ns := moduleOf(ctx); ns != "" {
					return e.registry.Resolve(nil, ns, c.Name)
				}
			}
			return fn, err
		}
	case *ast.Attribute:
		if ns, ok := dotted(c.Object); ok {
			root, _, nested := strings.Cut(ns, ".")
			holder, err := env.Get(root)
			_, attributed := holder.(object.Attributed)
			if err != nil || (!nested && attributed) {
				return e.registry.Resolve(env, ns, c.Name)
			}
		}
	}
	v, err := e.Execute(ctx, expr, env)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(object.Callable)
	if !ok {
		return nil, diag.New(diag.TypeError, "%s is not callable (%s)", expr, v.Type())
	}
	return fn, nil
}

// dotted renders a chain of plain identifiers joined by attributes.
func dotted(expr ast.Expression) (string, bool) {
	switch x := expr.(type) {
	case *ast.Identifier:
		return x.Name, x.Scope == ""
	case *ast.Attribute:
		head, ok := dotted(x.Object)
		return head + "." + x.Name, ok
	}
	return "", false
}

func (e *Engine) evalExpressions(ctx context.Context, exprs []ast.Expression, env *object.Context) ([]object.Object, error) {
	out := make([]object.Object, 0, len(exprs))
	for _, expr := range exprs {
		v, err := e.Execute(ctx, expr, env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) evalAttribute(ctx context.Context, node *ast.Attribute, env *object.Context) (object.Object, error) {
	holder, err := e.Execute(ctx, node.Object, env)
	if err != nil {
		// An unbound namespace may still name registry entries.
		if ns, ok := dotted(node.Object); ok && diag.KindOf(err) == diag.NameError {
			if entry, found := e.registry.Lookup(ns, node.Name); found {
				return entry.Callable, nil
			}
		}
		return nil, err
	}
	switch h := holder.(type) {
	case object.Attributed:
		if v, ok := h.Attr(node.Name); ok {
			return v, nil
		}
	case *object.Dict:
		if v, ok := h.GetString(node.Name); ok {
			return v, nil
		}
	}
	return nil, diag.New(diag.NameError, "%s has no attribute %q", holder.Type(), node.Name)
}

func (e *Engine) evalIndex(ctx context.Context, node *ast.Index, env *object.Context) (object.Object, error) {
	holder, err := e.Execute(ctx, node.Object, env)
	if err != nil {
		return nil, err
	}
	idx, err := e.Execute(ctx, node.Index, env)
	if err != nil {
		return nil, err
	}
	switch h := holder.(type) {
	case *object.List:
		i, err := listIndex(idx, len(h.Elements))
		if err != nil {
			return nil, err
		}
		return h.Elements[i], nil
	case *object.Tuple:
		i, err := listIndex(idx, len(h.Elements))
		if err != nil {
			return nil, err
		}
		return h.Elements[i], nil
	case *object.String:
		runes := []rune(h.Value)
		i, err := listIndex(idx, len(runes))
		if err != nil {
			return nil, err
		}
		return &object.String{Value: string(runes[i])}, nil
	case *object.Dict:
		key, ok := idx.(object.Hashable)
		if !ok {
			return nil, diag.New(diag.TypeError, "unhashable type: %s", idx.Type())
		}
		if v, ok := h.Get(key); ok {
			return v, nil
		}
		return nil, diag.New(diag.RuntimeError, "key %s not found", idx.Inspect())
	}
	return nil, diag.New(diag.TypeError, "%s is not subscriptable", holder.Type())
}

// listIndex accepts negative indexes counting from the end.
func listIndex(idx object.Object, length int) (int, error) {
	n, ok := idx.(*object.Integer)
	if !ok {
		return 0, diag.New(diag.TypeError, "indices must be integers, not %s", idx.Type())
	}
	i := int(n.Value)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, diag.New(diag.RuntimeError, "index %d out of range for length %d", n.Value, length)
	}
	return i, nil
}

// evalPipe composes the stages. A callable head makes the pipe a function
// value; any other head is data flowing through the remaining stages.
func (e *Engine) evalPipe(ctx context.Context, node *ast.Pipe, env *object.Context) (object.Object, error) {
	head, err := e.Execute(ctx, node.Stages[0], env)
	if err != nil {
		return nil, err
	}
	rest := node.Stages[1:]
	var stages []compose.Stage
	headFn, headCallable := head.(object.Callable)
	if headCallable {
		stages = append(stages, compose.Single(headFn))
	}
	for i, expr := range rest {
		stage, err := e.stage(ctx, i+1, expr, env)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	pipeline, err := compose.Build(stages, e.pipeOpts...)
	if err != nil {
		return nil, err
	}
	if headCallable {
		return pipeline, nil
	}
	return pipeline.Invoke(ctx, env, head)
}

func (e *Engine) stage(ctx context.Context, index int, expr ast.Expression, env *object.Context) (compose.Stage, error) {
	if block, ok := expr.(*ast.ParallelBlock); ok {
		return e.parallelStage(ctx, block, env)
	}
	fn, err := e.stageCallable(ctx, index, expr, env)
	if err != nil {
		return compose.Stage{}, err
	}
	return compose.Single(fn), nil
}

func (e *Engine) parallelStage(ctx context.Context, node *ast.ParallelBlock, env *object.Context) (compose.Stage, error) {
	fns := make([]object.Callable, 0, len(node.Branches))
	for i, branch := range node.Branches {
		fn, err := e.stageCallable(ctx, i, branch, env)
		if err != nil {
			return compose.Stage{}, err
		}
		fns = append(fns, fn)
	}
	return compose.Parallel(fns...), nil
}

func (e *Engine) stageCallable(ctx context.Context, index int, expr ast.Expression, env *object.Context) (object.Callable, error) {
	v, err := e.Execute(ctx, expr, env)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(object.Callable)
	if !ok {
		return nil, diag.New(diag.TypeError, "pipe stage %d (%s) is not callable: %s", index, expr, v.Type())
	}
	return fn, nil
}

func (e *Engine) evalInterpolated(ctx context.Context, node *ast.InterpolatedString, env *object.Context) (object.Object, error) {
	var out strings.Builder
	for _, part := range node.Parts {
		if lit, ok := part.(*ast.Literal); ok {
			if s, ok := lit.Value.(string); ok {
				out.WriteString(s)
				continue
			}
		}
		v, err := e.Execute(ctx, part, env)
		if err != nil {
			return nil, err
		}
		out.WriteString(v.Inspect())
	}
	return &object.String{Value: out.String()}, nil
}

func (e *Engine) evalCollection(ctx context.Context, node *ast.Collection, env *object.Context) (object.Object, error) {
	if node.Kind == ast.DictCollection {
		d := object.NewDict()
		for i, keyExpr := range node.Keys {
			k, err := e.Execute(ctx, keyExpr, env)
			if err != nil {
				return nil, err
			}
			key, ok := k.(object.Hashable)
			if !ok {
				return nil, locate(diag.New(diag.TypeError, "unhashable type: %s", k.Type()), keyExpr)
			}
			v, err := e.Execute(ctx, node.Elements[i], env)
			if err != nil {
				return nil, err
			}
			d.Put(key, v)
		}
		return d, nil
	}
	values, err := e.evalExpressions(ctx, node.Elements, env)
	if err != nil {
		return nil, err
	}
	if node.Kind == ast.TupleCollection {
		return &object.Tuple{Elements: values}, nil
	}
	return &object.List{Elements: values}, nil
}
