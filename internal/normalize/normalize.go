// Package normalize turns the raw parse tree into a validated AST. It runs
// three passes: fold grammar rules into AST variants, desugar (flatten pipes,
// mark parallel stages), and validate that only AST variants remain.
package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/parser"
	pt "weave/internal/parsetree"
	"weave/internal/token"
)

// Source parses and normalizes src in one step.
func Source(src string) (*ast.Program, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return Program(tree, src)
}

// Program normalizes a parse tree. It never mutates tree.
func Program(tree *pt.Node, src string) (*ast.Program, error) {
	f := newFolder(src)
	prog, err := f.file(tree)
	if err != nil {
		return nil, err
	}
	desugarProgram(prog)
	if err := Validate(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

type folder struct {
	src        string
	lineStarts []int
}

func newFolder(src string) *folder {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &folder{src: src, lineStarts: starts}
}

func (f *folder) span(tok token.Token) token.Span {
	pos := tok.Position
	line := sort.Search(len(f.lineStarts), func(i int) bool { return f.lineStarts[i] > pos })
	start := f.lineStarts[line-1]
	col := 1
	if pos > start && pos <= len(f.src) {
		col += len([]rune(f.src[start:pos]))
	}
	return token.Span{Offset: pos, Line: line, Col: col}
}

func (f *folder) loc(n *pt.Node) ast.Loc {
	return ast.Loc{Span: f.span(n.Token)}
}

func (f *folder) errorf(n *pt.Node, format string, args ...any) error {
	return diag.New(diag.SyntaxError, format, args...).WithSpan(f.span(n.Token))
}

func (f *folder) file(n *pt.Node) (*ast.Program, error) {
	if n == nil || n.Rule != pt.File {
		return nil, diag.New(diag.SyntaxError, "expected a file parse tree")
	}
	prog := &ast.Program{Loc: f.loc(n)}
	if list := n.Child(pt.StmtList); list != nil {
		stmts, err := f.statements(list)
		if err != nil {
			return nil, err
		}
		prog.Statements = stmts
	}
	return prog, nil
}

func (f *folder) statements(list *pt.Node) ([]ast.Statement, error) {
	out := make([]ast.Statement, 0, len(list.Children))
	for _, c := range list.Children {
		s, err := f.statement(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *folder) block(n *pt.Node) (*ast.Block, error) {
	if n == nil || n.Rule != pt.Block {
		return nil, diag.New(diag.SyntaxError, "expected a block")
	}
	b := &ast.Block{Loc: f.loc(n)}
	if list := n.Child(pt.StmtList); list != nil {
		stmts, err := f.statements(list)
		if err != nil {
			return nil, err
		}
		b.Statements = stmts
	}
	return b, nil
}

func (f *folder) statement(n *pt.Node) (ast.Statement, error) {
	switch n.Rule {
	case pt.Assign:
		return f.assign(n)
	case pt.ExprStmt:
		e, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		return &ast.ExpressionStatement{Loc: f.loc(n), Expr: e}, nil
	case pt.IfStmt:
		return f.ifStmt(n)
	case pt.WhileStmt:
		cond, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		body, err := f.block(n.Children[1])
		if err != nil {
			return nil, err
		}
		return &ast.Loop{Loc: f.loc(n), Kind: ast.WhileLoop, Condition: cond, Body: body}, nil
	case pt.ForStmt:
		iter, err := f.expr(n.Children[1])
		if err != nil {
			return nil, err
		}
		body, err := f.block(n.Children[2])
		if err != nil {
			return nil, err
		}
		return &ast.Loop{Loc: f.loc(n), Kind: ast.ForLoop, Var: n.Children[0].Token.Literal, Iterable: iter, Body: body}, nil
	case pt.DefStmt:
		return f.def(n)
	case pt.AgentStmt:
		return f.agent(n)
	case pt.ImportStmt:
		imp := &ast.Import{Loc: f.loc(n)}
		for _, part := range n.Children[0].Children {
			imp.Path = append(imp.Path, part.Token.Literal)
		}
		if alias := n.Child(pt.ImportAlias); alias != nil {
			imp.Alias = alias.Children[0].Token.Literal
		}
		return imp, nil
	case pt.TryStmt:
		return f.try(n)
	case pt.ReturnStmt:
		ret := &ast.Return{Loc: f.loc(n)}
		if len(n.Children) > 0 {
			v, err := f.expr(n.Children[0])
			if err != nil {
				return nil, err
			}
			ret.Value = v
		}
		return ret, nil
	case pt.BreakStmt:
		return &ast.Break{Loc: f.loc(n)}, nil
	case pt.ContinueStmt:
		return &ast.Continue{Loc: f.loc(n)}, nil
	case pt.RaiseStmt:
		v, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		return &ast.Raise{Loc: f.loc(n), Value: v}, nil
	}
	return nil, f.errorf(n, "unexpected %s in statement position", n.Rule)
}

func (f *folder) assign(n *pt.Node) (ast.Statement, error) {
	target, err := f.expr(n.Children[0])
	if err != nil {
		return nil, err
	}
	switch target.(type) {
	case *ast.Identifier, *ast.Attribute, *ast.Index:
	default:
		return nil, f.errorf(n.Children[0], "cannot assign to %s", target)
	}
	value, err := f.expr(n.Children[1])
	if err != nil {
		return nil, err
	}
	return &ast.Assignment{Loc: f.loc(n), Target: target, Value: value}, nil
}

// ifStmt folds elif clauses into nested Conditionals in the else branch.
func (f *folder) ifStmt(n *pt.Node) (ast.Statement, error) {
	type arm struct {
		node *pt.Node
		cond ast.Expression
		body *ast.Block
	}
	var arms []arm
	var elseBlock *ast.Block

	parseArm := func(node, condNode, blockNode *pt.Node) error {
		cond, err := f.expr(condNode)
		if err != nil {
			return err
		}
		body, err := f.block(blockNode)
		if err != nil {
			return err
		}
		arms = append(arms, arm{node: node, cond: cond, body: body})
		return nil
	}

	if err := parseArm(n, n.Children[0], n.Children[1]); err != nil {
		return nil, err
	}
	for _, c := range n.Children[2:] {
		switch c.Rule {
		case pt.ElifClause:
			if err := parseArm(c, c.Children[0], c.Children[1]); err != nil {
				return nil, err
			}
		case pt.ElseClause:
			b, err := f.block(c.Children[0])
			if err != nil {
				return nil, err
			}
			elseBlock = b
		default:
			return nil, f.errorf(c, "unexpected %s in if statement", c.Rule)
		}
	}

	var result *ast.Conditional
	for i := len(arms) - 1; i >= 0; i-- {
		cond := &ast.Conditional{Loc: f.loc(arms[i].node), Condition: arms[i].cond, Then: arms[i].body, Else: elseBlock}
		result = cond
		elseBlock = &ast.Block{Loc: cond.Loc, Statements: []ast.Statement{cond}}
	}
	return result, nil
}

func (f *folder) try(n *pt.Node) (ast.Statement, error) {
	body, err := f.block(n.Children[0])
	if err != nil {
		return nil, err
	}
	clause := n.Children[1]
	t := &ast.TryRecover{Loc: f.loc(n), Body: body}
	if name := clause.Child(pt.Name); name != nil {
		t.ErrName = name.Token.Literal
	}
	if t.Recover, err = f.block(clause.Child(pt.Block)); err != nil {
		return nil, err
	}
	return t, nil
}

func (f *folder) def(n *pt.Node) (*ast.FunctionDef, error) {
	fd := &ast.FunctionDef{Loc: f.loc(n)}
	for _, c := range n.Children {
		switch c.Rule {
		case pt.DecoratorList:
			for _, d := range c.Children {
				dec, err := f.decorator(d)
				if err != nil {
					return nil, err
				}
				fd.Decorators = append(fd.Decorators, dec)
			}
		case pt.DottedName:
			switch len(c.Children) {
			case 1:
				fd.Name = c.Children[0].Token.Literal
			case 2:
				fd.Receiver = c.Children[0].Token.Literal
				fd.Name = c.Children[1].Token.Literal
			default:
				return nil, f.errorf(c, "function name %q has more than one receiver", dotted(c))
			}
		case pt.ParamList:
			params, err := f.params(c)
			if err != nil {
				return nil, err
			}
			fd.Params = params
		case pt.ReturnType:
			fd.ReturnType = c.Children[0].Token.Literal
		case pt.Block:
			body, err := f.block(c)
			if err != nil {
				return nil, err
			}
			fd.Body = body
		default:
			return nil, f.errorf(c, "unexpected %s in function definition", c.Rule)
		}
	}
	return fd, nil
}

func dotted(n *pt.Node) string {
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = c.Token.Literal
	}
	return strings.Join(parts, ".")
}

func (f *folder) decorator(n *pt.Node) (*ast.Decorator, error) {
	dec := &ast.Decorator{Loc: f.loc(n), Name: n.Children[0].Token.Literal}
	if args := n.Child(pt.Arguments); args != nil {
		var err error
		if dec.Args, dec.Kwargs, err = f.arguments(args); err != nil {
			return nil, err
		}
	}
	return dec, nil
}

func (f *folder) params(n *pt.Node) ([]*ast.Param, error) {
	seen := map[string]bool{}
	sawDefault := false
	out := make([]*ast.Param, 0, len(n.Children))
	for _, c := range n.Children {
		p := &ast.Param{Loc: f.loc(c), Name: c.Children[0].Token.Literal}
		if seen[p.Name] {
			return nil, f.errorf(c, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if annot := c.Child(pt.TypeAnnot); annot != nil {
			p.Type = annot.Children[0].Token.Literal
		}
		if def := c.Child(pt.ParamDefault); def != nil {
			v, err := f.expr(def.Children[0])
			if err != nil {
				return nil, err
			}
			p.Default = v
			sawDefault = true
		} else if sawDefault {
			return nil, f.errorf(c, "parameter %q without default follows a parameter with default", p.Name)
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *folder) agent(n *pt.Node) (ast.Statement, error) {
	decl := &ast.AgentDecl{Loc: f.loc(n), Name: n.Children[0].Token.Literal}
	body, err := f.block(n.Children[1])
	if err != nil {
		return nil, err
	}
	for _, s := range body.Statements {
		switch s := s.(type) {
		case *ast.Assignment:
			id, ok := s.Target.(*ast.Identifier)
			if !ok || id.Scope != "" {
				return nil, diag.New(diag.SyntaxError, "agent field must be a plain name, got %s", s.Target).WithSpan(s.Pos())
			}
			decl.Fields = append(decl.Fields, s)
		case *ast.FunctionDef:
			if s.Receiver != "" {
				return nil, diag.New(diag.SyntaxError, "method %s inside agent %s cannot name a receiver", s.QualifiedName(), decl.Name).WithSpan(s.Pos())
			}
			s.Receiver = decl.Name
			decl.Methods = append(decl.Methods, s)
		default:
			return nil, diag.New(diag.SyntaxError, "agent body may only contain fields and methods").WithSpan(s.Pos())
		}
	}
	return decl, nil
}

func (f *folder) arguments(n *pt.Node) ([]ast.Expression, []*ast.Keyword, error) {
	var args []ast.Expression
	var kwargs []*ast.Keyword
	seen := map[string]bool{}
	for _, c := range n.Children {
		switch c.Rule {
		case pt.Argument:
			if len(kwargs) > 0 {
				return nil, nil, f.errorf(c, "positional argument follows keyword argument")
			}
			e, err := f.expr(c.Children[0])
			if err != nil {
				return nil, nil, err
			}
			args = append(args, e)
		case pt.Kwarg:
			name := c.Children[0].Token.Literal
			if seen[name] {
				return nil, nil, f.errorf(c, "keyword argument %q repeated", name)
			}
			seen[name] = true
			e, err := f.expr(c.Children[1])
			if err != nil {
				return nil, nil, err
			}
			kwargs = append(kwargs, &ast.Keyword{Loc: f.loc(c), Name: name, Value: e})
		default:
			return nil, nil, f.errorf(c, "unexpected %s in arguments", c.Rule)
		}
	}
	return args, kwargs, nil
}

func (f *folder) exprs(nodes []*pt.Node) ([]ast.Expression, error) {
	out := make([]ast.Expression, 0, len(nodes))
	for _, c := range nodes {
		e, err := f.expr(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *folder) expr(n *pt.Node) (ast.Expression, error) {
	if n == nil {
		return nil, diag.New(diag.SyntaxError, "missing expression")
	}
	loc := f.loc(n)
	switch n.Rule {
	case pt.Name:
		return &ast.Identifier{Loc: loc, Name: n.Token.Literal}, nil
	case pt.ScopedName:
		scope, name, _ := strings.Cut(n.Token.Literal, ":")
		return &ast.Identifier{Loc: loc, Scope: scope, Name: name}, nil
	case pt.Number:
		return f.number(n)
	case pt.String:
		return &ast.Literal{Loc: loc, Value: n.Token.Literal}, nil
	case pt.Const:
		switch n.Token.Type {
		case token.TRUE:
			return &ast.Literal{Loc: loc, Value: true}, nil
		case token.FALSE:
			return &ast.Literal{Loc: loc, Value: false}, nil
		default:
			return &ast.Literal{Loc: loc, Value: nil}, nil
		}
	case pt.FString:
		s := &ast.InterpolatedString{Loc: loc}
		for _, c := range n.Children {
			switch c.Rule {
			case pt.FStringText:
				s.Parts = append(s.Parts, &ast.Literal{Loc: f.loc(c), Value: c.Token.Literal})
			case pt.FStringExpr:
				e, err := f.expr(c.Children[0])
				if err != nil {
					return nil, err
				}
				s.Parts = append(s.Parts, e)
			default:
				return nil, f.errorf(c, "unexpected %s in f-string", c.Rule)
			}
		}
		return s, nil
	case pt.ParenExpr:
		return f.expr(n.Children[0])
	case pt.TupleDisplay, pt.ListDisplay:
		elems, err := f.exprs(n.Children)
		if err != nil {
			return nil, err
		}
		kind := ast.ListCollection
		if n.Rule == pt.TupleDisplay {
			kind = ast.TupleCollection
		}
		return &ast.Collection{Loc: loc, Kind: kind, Elements: elems}, nil
	case pt.DictDisplay:
		c := &ast.Collection{Loc: loc, Kind: ast.DictCollection}
		for _, item := range n.Children {
			k, err := f.expr(item.Children[0])
			if err != nil {
				return nil, err
			}
			v, err := f.expr(item.Children[1])
			if err != nil {
				return nil, err
			}
			c.Keys = append(c.Keys, k)
			c.Elements = append(c.Elements, v)
		}
		return c, nil
	case pt.Binary:
		l, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := f.expr(n.Children[1])
		if err != nil {
			return nil, err
		}
		return &ast.BinaryOp{Loc: loc, Op: n.Token.Literal, Left: l, Right: r}, nil
	case pt.Unary:
		if n.Token.Literal == "-" && minIntMagnitude(n.Children[0]) {
			return &ast.Literal{Loc: loc, Value: int64(math.MinInt64)}, nil
		}
		operand, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*ast.Literal); ok && n.Token.Literal == "-" {
			switch v := lit.Value.(type) {
			case int64:
				return &ast.Literal{Loc: loc, Value: -v}, nil
			case float64:
				return &ast.Literal{Loc: loc, Value: -v}, nil
			}
		}
		return &ast.UnaryOp{Loc: loc, Op: n.Token.Literal, Operand: operand}, nil
	case pt.PipeExpr:
		l, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		r, err := f.expr(n.Children[1])
		if err != nil {
			return nil, err
		}
		return &ast.Pipe{Loc: loc, Stages: []ast.Expression{l, r}}, nil
	case pt.Call:
		callee, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		args, kwargs, err := f.arguments(n.Children[1])
		if err != nil {
			return nil, err
		}
		return &ast.Call{Loc: loc, Callee: callee, Args: args, Kwargs: kwargs}, nil
	case pt.Index:
		obj, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		idx, err := f.expr(n.Children[1])
		if err != nil {
			return nil, err
		}
		return &ast.Index{Loc: loc, Object: obj, Index: idx}, nil
	case pt.Attr:
		obj, err := f.expr(n.Children[0])
		if err != nil {
			return nil, err
		}
		return &ast.Attribute{Loc: loc, Object: obj, Name: n.Children[1].Token.Literal}, nil
	case pt.Lambda:
		params, err := f.params(n.Children[0])
		if err != nil {
			return nil, err
		}
		lambda := &ast.Lambda{Loc: loc, Params: params}
		body := n.Children[1]
		if body.Rule == pt.LambdaExpr {
			e, err := f.expr(body.Children[0])
			if err != nil {
				return nil, err
			}
			bl := f.loc(body)
			lambda.Body = &ast.Block{Loc: bl, Statements: []ast.Statement{&ast.Return{Loc: bl, Value: e}}}
		} else if lambda.Body, err = f.block(body); err != nil {
			return nil, err
		}
		return lambda, nil
	}
	return nil, f.errorf(n, "unexpected %s in expression position", n.Rule)
}

// minIntMagnitude reports whether n is the integer literal 9223372036854775808,
// which only fits in an int64 once negated.
func minIntMagnitude(n *pt.Node) bool {
	if n.Rule != pt.Number || n.Token.Type != token.INT {
		return false
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(n.Token.Literal, "_", ""), 10, 64)
	return err == nil && v == 1<<63
}

func (f *folder) number(n *pt.Node) (ast.Expression, error) {
	lit := strings.ReplaceAll(n.Token.Literal, "_", "")
	if n.Token.Type == token.INT {
		v, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, f.errorf(n, "integer literal %s out of range", n.Token.Literal)
		}
		return &ast.Literal{Loc: f.loc(n), Value: v}, nil
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, f.errorf(n, "invalid float literal %s", n.Token.Literal)
	}
	return &ast.Literal{Loc: f.loc(n), Value: v}, nil
}
