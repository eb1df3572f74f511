package normalize

import (
	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/token"
)

// Validate fails closed if the tree holds anything outside the AST variant
// set, or a variant in a malformed shape.
func Validate(prog *ast.Program) error {
	if prog == nil {
		return diag.New(diag.SyntaxError, "no program")
	}
	v := &validator{}
	v.node(prog)
	return v.err
}

type validator struct {
	err       error
	loopDepth int
}

func (v *validator) fail(n ast.Node, format string, args ...any) {
	if v.err != nil {
		return
	}
	e := diag.New(diag.SyntaxError, format, args...)
	if n != nil {
		e.WithSpan(n.Pos())
	}
	v.err = e
}

func (v *validator) children(n ast.Node) {
	for _, c := range ast.Children(n) {
		v.node(c)
	}
}

func (v *validator) node(n ast.Node) {
	if v.err != nil {
		return
	}
	switch n := n.(type) {
	case *ast.Program, *ast.Block, *ast.ExpressionStatement, *ast.Raise,
		*ast.BinaryOp, *ast.UnaryOp, *ast.Call, *ast.Index,
		*ast.InterpolatedString, *ast.Keyword:
		v.children(n)
	case *ast.Assignment:
		switch n.Target.(type) {
		case *ast.Identifier, *ast.Attribute, *ast.Index:
		default:
			v.fail(n, "invalid assignment target %T", n.Target)
			return
		}
		v.children(n)
	case *ast.Conditional:
		if n.Condition == nil || n.Then == nil {
			v.fail(n, "incomplete conditional")
			return
		}
		v.children(n)
	case *ast.Loop:
		switch {
		case n.Kind == ast.ForLoop && (n.Var == "" || n.Iterable == nil):
			v.fail(n, "for loop without variable or iterable")
			return
		case n.Kind == ast.WhileLoop && n.Condition == nil:
			v.fail(n, "while loop without condition")
			return
		case n.Body == nil:
			v.fail(n, "loop without body")
			return
		}
		v.loopDepth++
		v.children(n)
		v.loopDepth--
	case *ast.FunctionDef:
		if n.Name == "" || n.Body == nil {
			v.fail(n, "incomplete function definition")
			return
		}
		v.function(n, n.Params, n.Body, n.Decorators)
	case *ast.Lambda:
		if n.Body == nil {
			v.fail(n, "lambda without body")
			return
		}
		v.function(n, n.Params, n.Body, nil)
	case *ast.Import:
		if len(n.Path) == 0 {
			v.fail(n, "empty import path")
		}
	case *ast.AgentDecl:
		if n.Name == "" {
			v.fail(n, "agent without name")
			return
		}
		v.children(n)
	case *ast.TryRecover:
		if n.Body == nil || n.Recover == nil {
			v.fail(n, "try without recover block")
			return
		}
		v.children(n)
	case *ast.Return:
		v.children(n)
	case *ast.Break, *ast.Continue:
		if v.loopDepth == 0 {
			v.fail(n, "%s outside loop", n)
		}
	case *ast.Literal:
		switch n.Value.(type) {
		case nil, int64, float64, string, bool:
		default:
			v.fail(n, "literal of unsupported type %T", n.Value)
		}
	case *ast.Identifier:
		if n.Name == "" {
			v.fail(n, "empty identifier")
			return
		}
		if n.Scope != "" && !token.Scopes[n.Scope] {
			v.fail(n, "unknown scope %q", n.Scope)
		}
	case *ast.Attribute:
		if n.Name == "" {
			v.fail(n, "empty attribute name")
			return
		}
		v.children(n)
	case *ast.Pipe:
		if len(n.Stages) < 2 {
			v.fail(n, "pipe needs at least two stages")
			return
		}
		for _, s := range n.Stages[1:] {
			if c, ok := s.(*ast.Collection); ok && c.Kind == ast.ListCollection {
				v.fail(s, "list display left in pipe stage position")
				return
			}
		}
		v.children(n)
	case *ast.ParallelBlock:
		// block size is checked when the pipeline is built
		v.children(n)
	case *ast.Collection:
		if n.Kind == ast.DictCollection && len(n.Keys) != len(n.Elements) {
			v.fail(n, "dict display with %d keys and %d values", len(n.Keys), len(n.Elements))
			return
		}
		if n.Kind != ast.DictCollection && len(n.Keys) != 0 {
			v.fail(n, "keys on a non-dict collection")
			return
		}
		v.children(n)
	case *ast.Param:
		if n.Name == "" {
			v.fail(n, "empty parameter name")
			return
		}
		v.children(n)
	case *ast.Decorator:
		if n.Name == "" {
			v.fail(n, "empty decorator name")
			return
		}
		v.children(n)
	default:
		v.fail(n, "non-AST node %T after normalization", n)
	}
}

// function validates a body with a fresh loop context.
func (v *validator) function(n ast.Node, params []*ast.Param, body *ast.Block, decorators []*ast.Decorator) {
	for _, d := range decorators {
		v.node(d)
	}
	for _, p := range params {
		v.node(p)
	}
	saved := v.loopDepth
	v.loopDepth = 0
	v.node(body)
	v.loopDepth = saved
}
