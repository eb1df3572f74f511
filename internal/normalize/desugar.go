package normalize

import "weave/internal/ast"

// desugarProgram rewrites expressions in place:
//   - left-nested pipes (a | b) | c become one Pipe{a, b, c};
//   - a list display in stage position (index >= 1) becomes a ParallelBlock.
func desugarProgram(p *ast.Program) {
	for _, s := range p.Statements {
		desugarStmt(s)
	}
}

func desugarBlock(b *ast.Block) {
	if b == nil {
		return
	}
	for _, s := range b.Statements {
		desugarStmt(s)
	}
}

func desugarStmt(s ast.Statement) {
	switch s := s.(type) {
	case *ast.Assignment:
		s.Target = desugarExpr(s.Target)
		s.Value = desugarExpr(s.Value)
	case *ast.ExpressionStatement:
		s.Expr = desugarExpr(s.Expr)
	case *ast.Conditional:
		s.Condition = desugarExpr(s.Condition)
		desugarBlock(s.Then)
		desugarBlock(s.Else)
	case *ast.Loop:
		if s.Iterable != nil {
			s.Iterable = desugarExpr(s.Iterable)
		}
		if s.Condition != nil {
			s.Condition = desugarExpr(s.Condition)
		}
		desugarBlock(s.Body)
	case *ast.FunctionDef:
		desugarDef(s)
	case *ast.AgentDecl:
		for _, f := range s.Fields {
			desugarStmt(f)
		}
		for _, m := range s.Methods {
			desugarDef(m)
		}
	case *ast.TryRecover:
		desugarBlock(s.Body)
		desugarBlock(s.Recover)
	case *ast.Return:
		if s.Value != nil {
			s.Value = desugarExpr(s.Value)
		}
	case *ast.Raise:
		s.Value = desugarExpr(s.Value)
	}
}

func desugarDef(f *ast.FunctionDef) {
	for _, d := range f.Decorators {
		desugarList(d.Args)
		desugarKeywords(d.Kwargs)
	}
	desugarParams(f.Params)
	desugarBlock(f.Body)
}

func desugarParams(params []*ast.Param) {
	for _, p := range params {
		if p.Default != nil {
			p.Default = desugarExpr(p.Default)
		}
	}
}

func desugarList(exprs []ast.Expression) {
	for i, e := range exprs {
		exprs[i] = desugarExpr(e)
	}
}

func desugarKeywords(kws []*ast.Keyword) {
	for _, k := range kws {
		k.Value = desugarExpr(k.Value)
	}
}

func desugarExpr(e ast.Expression) ast.Expression {
	switch e := e.(type) {
	case *ast.Pipe:
		return desugarPipe(e)
	case *ast.BinaryOp:
		e.Left = desugarExpr(e.Left)
		e.Right = desugarExpr(e.Right)
	case *ast.UnaryOp:
		e.Operand = desugarExpr(e.Operand)
	case *ast.Call:
		e.Callee = desugarExpr(e.Callee)
		desugarList(e.Args)
		desugarKeywords(e.Kwargs)
	case *ast.Attribute:
		e.Object = desugarExpr(e.Object)
	case *ast.Index:
		e.Object = desugarExpr(e.Object)
		e.Index = desugarExpr(e.Index)
	case *ast.InterpolatedString:
		desugarList(e.Parts)
	case *ast.Collection:
		desugarList(e.Keys)
		desugarList(e.Elements)
	case *ast.ParallelBlock:
		desugarList(e.Branches)
	case *ast.Lambda:
		desugarParams(e.Params)
		desugarBlock(e.Body)
	}
	return e
}

func desugarPipe(p *ast.Pipe) ast.Expression {
	var stages []ast.Expression
	// only the head can be a left-nested pipe after folding
	if head, ok := p.Stages[0].(*ast.Pipe); ok {
		flat := desugarPipe(head).(*ast.Pipe)
		stages = append(stages, flat.Stages...)
		p.Loc = flat.Loc
	} else {
		stages = append(stages, desugarExpr(p.Stages[0]))
	}
	for _, s := range p.Stages[1:] {
		stages = append(stages, stageExpr(desugarExpr(s)))
	}
	p.Stages = stages
	return p
}

// stageExpr turns a list display in stage position into a parallel block.
func stageExpr(e ast.Expression) ast.Expression {
	if c, ok := e.(*ast.Collection); ok && c.Kind == ast.ListCollection {
		return &ast.ParallelBlock{Loc: c.Loc, Branches: c.Elements}
	}
	return e
}
