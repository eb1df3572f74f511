package interp

import (
	"context"
	"unicode/utf8"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/registry"
)

func (e *Engine) evalAssignment(ctx context.Context, node *ast.Assignment, env *object.Context) (object.Object, error) {
	val, err := e.Execute(ctx, node.Value, env)
	if err != nil {
		return nil, err
	}
	switch target := node.Target.(type) {
	case *ast.Identifier:
		scope := object.Local
		if target.Scope != "" {
			if scope, err = object.ParseScope(target.Scope); err != nil {
				return nil, err
			}
		}
		if scope == object.System {
			return nil, diag.New(diag.RuntimeError, "cannot assign to %s: the system scope is read-only", target)
		}
		env.Set(scope, target.Name, val)

	case *ast.Attribute:
		holder, err := e.Execute(ctx, target.Object, env)
		if err != nil {
			return nil, err
		}
		switch h := holder.(type) {
		case *object.Agent:
			h.Fields.PutString(target.Name, val)
		case *object.Dict:
			h.PutString(target.Name, val)
		default:
			return nil, diag.New(diag.TypeError, "cannot set attribute %q on %s", target.Name, holder.Type())
		}

	case *ast.Index:
		holder, err := e.Execute(ctx, target.Object, env)
		if err != nil {
			return nil, err
		}
		idx, err := e.Execute(ctx, target.Index, env)
		if err != nil {
			return nil, err
		}
		switch h := holder.(type) {
		case *object.List:
			i, err := listIndex(idx, len(h.Elements))
			if err != nil {
				return nil, err
			}
			h.Elements[i] = val
		case *object.Dict:
			key, ok := idx.(object.Hashable)
			if !ok {
				return nil, diag.New(diag.TypeError, "unhashable type: %s", idx.Type())
			}
			h.Put(key, val)
		default:
			return nil, diag.New(diag.TypeError, "%s does not support item assignment", holder.Type())
		}

	default:
		return nil, diag.New(diag.SyntaxError, "cannot assign to %s", node.Target)
	}
	return object.NONE, nil
}

func (e *Engine) evalConditional(ctx context.Context, node *ast.Conditional, env *object.Context) (object.Object, error) {
	cond, err := e.Execute(ctx, node.Condition, env)
	if err != nil {
		return nil, err
	}
	if object.Truthy(cond) {
		return e.Execute(ctx, node.Then, env)
	}
	if node.Else != nil {
		return e.Execute(ctx, node.Else, env)
	}
	return object.NONE, nil
}

func (e *Engine) evalWhileLoop(ctx context.Context, node *ast.Loop, env *object.Context) (object.Object, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cond, err := e.Execute(ctx, node.Condition, env)
		if err != nil {
			return nil, err
		}
		if !object.Truthy(cond) {
			return object.NONE, nil
		}
		out, err := e.Execute(ctx, node.Body, env)
		if err != nil {
			return nil, err
		}
		if stop, ret := loopControl(out); stop {
			return ret, nil
		}
	}
}

func (e *Engine) evalForLoop(ctx context.Context, node *ast.Loop, env *object.Context) (object.Object, error) {
	iterable, err := e.Execute(ctx, node.Iterable, env)
	if err != nil {
		return nil, err
	}
	items, err := iterate(iterable)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env.Set(object.Local, node.Var, item)
		out, err := e.Execute(ctx, node.Body, env)
		if err != nil {
			return nil, err
		}
		if stop, ret := loopControl(out); stop {
			return ret, nil
		}
	}
	return object.NONE, nil
}

// loopControl consumes break and continue. A return value ends the loop and
// keeps travelling.
func loopControl(out object.Object) (bool, object.Object) {
	switch out {
	case object.BREAK:
		return true, object.NONE
	case object.CONTINUE:
		return false, nil
	}
	if rv, ok := out.(*object.ReturnValue); ok {
		return true, rv
	}
	return false, nil
}

// iterate snapshots what a for loop walks: list and tuple elements, dict
// keys in insertion order, or the characters of a string.
func iterate(v object.Object) ([]object.Object, error) {
	switch v := v.(type) {
	case *object.List:
		return append([]object.Object(nil), v.Elements...), nil
	case *object.Tuple:
		return v.Elements, nil
	case *object.Dict:
		items := v.Items()
		keys := make([]object.Object, len(items))
		for i, pair := range items {
			keys[i] = pair.Key
		}
		return keys, nil
	case *object.String:
		out := make([]object.Object, 0, utf8.RuneCountInString(v.Value))
		for _, r := range v.Value {
			out = append(out, &object.String{Value: string(r)})
		}
		return out, nil
	}
	return nil, diag.New(diag.TypeError, "%s is not iterable", v.Type())
}

// evalFunctionDef builds the function value and applies its decorators.
// Top-level defs are registered at User priority under namespace; nested
// defs are bound in local scope like any other value.
func (e *Engine) evalFunctionDef(ctx context.Context, node *ast.FunctionDef, env *object.Context, namespace string, topLevel bool) (object.Object, error) {
	if node.Receiver != "" {
		return e.evalMethodDef(ctx, node, env)
	}
	fn := &object.Function{
		FnName:     node.Name,
		Namespace:  namespace,
		Parameters: node.Params,
		ReturnType: node.ReturnType,
		Body:       node.Body,
		Env:        env,
		Engine:     e,
	}
	callable, err := e.decorate(ctx, node, fn, env)
	if err != nil {
		return nil, err
	}
	if !topLevel {
		env.Set(object.Local, node.Name, callable)
		return object.NONE, nil
	}
	if err := e.registry.RegisterFunc(namespace, node.Name, callable, registry.User, map[string]any{"line": node.Pos().Line}); err != nil {
		return nil, err
	}
	if winner, ok := e.registry.Lookup(namespace, node.Name); ok && winner.Priority > registry.User {
		e.warn(node, "%s is shadowed by the %s function of the same name", fn.Name(), winner.Priority)
	}
	return object.NONE, nil
}

// evalMethodDef attaches `def Agent.name(...)` to an agent declared earlier.
func (e *Engine) evalMethodDef(ctx context.Context, node *ast.FunctionDef, env *object.Context) (object.Object, error) {
	holder, err := env.Get(node.Receiver)
	if err != nil {
		return nil, err
	}
	agent, ok := holder.(*object.Agent)
	if !ok {
		return nil, diag.New(diag.TypeError, "cannot define method %s on %s", node.QualifiedName(), holder.Type())
	}
	return object.NONE, e.addMethod(ctx, agent, node, env)
}

func (e *Engine) addMethod(ctx context.Context, agent *object.Agent, node *ast.FunctionDef, env *object.Context) error {
	params := node.Params
	if len(params) == 0 || params[0].Name != "self" {
		params = append([]*ast.Param{{Loc: node.Loc, Name: "self"}}, params...)
	}
	fn := &object.Function{
		FnName:     node.Name,
		Namespace:  agent.AgentName,
		Parameters: params,
		ReturnType: node.ReturnType,
		Body:       node.Body,
		Env:        env,
		Engine:     e,
	}
	callable, err := e.decorate(ctx, node, fn, env)
	if err != nil {
		return err
	}
	agent.Methods[node.Name] = callable
	return e.registry.RegisterFunc(agent.AgentName, node.Name, callable, registry.User,
		map[string]any{"agent": agent.AgentName, "line": node.Pos().Line})
}

func (e *Engine) evalAgentDecl(ctx context.Context, node *ast.AgentDecl, env *object.Context) (object.Object, error) {
	agent := &object.Agent{
		AgentName: node.Name,
		Fields:    object.NewDict(),
		Methods:   make(map[string]object.Callable, len(node.Methods)),
	}
	for _, field := range node.Fields {
		id, ok := field.Target.(*ast.Identifier)
		if !ok || id.Scope != "" {
			return nil, locate(diag.New(diag.SyntaxError, "agent field must be a plain name, got %s", field.Target), field)
		}
		v, err := e.Execute(ctx, field.Value, env)
		if err != nil {
			return nil, err
		}
		agent.Fields.PutString(id.Name, v)
	}
	for _, m := range node.Methods {
		if err := e.addMethod(ctx, agent, m, env); err != nil {
			return nil, locate(err, m)
		}
	}
	env.Set(object.Private, node.Name, agent)
	return object.NONE, nil
}

// evalTryRecover runs the recover block for any classified failure of the
// body. Cancellation of the run itself is not recoverable.
func (e *Engine) evalTryRecover(ctx context.Context, node *ast.TryRecover, env *object.Context) (object.Object, error) {
	out, err := e.Execute(ctx, node.Body, env)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if node.ErrName != "" {
		env.Set(object.Local, node.ErrName, object.ErrorFrom(err))
	}
	return e.Execute(ctx, node.Recover, env)
}

func (e *Engine) evalRaise(ctx context.Context, node *ast.Raise, env *object.Context) (object.Object, error) {
	v, err := e.Execute(ctx, node.Value, env)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *object.Error:
		return nil, v.AsError()
	case *object.String:
		return nil, diag.New(diag.RuntimeError, "%s", v.Value)
	}
	return nil, diag.New(diag.TypeError, "can only raise error values or strings, not %s", v.Type())
}
