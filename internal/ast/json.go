package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WalkAST serializes an AST into a map structure for tooling. Spans are
// included as [line, col].
func WalkAST(node Node) any {
	if node == nil || isNilNode(node) {
		return nil
	}
	m := map[string]any{"pos": []int{node.Pos().Line, node.Pos().Col}}
	set := func(typ string, kv ...any) map[string]any {
		m["type"] = typ
		for i := 0; i+1 < len(kv); i += 2 {
			m[kv[i].(string)] = kv[i+1]
		}
		return m
	}

	switch n := node.(type) {
	case *Program:
		return set("Program", "statements", walkStatements(n.Statements))
	case *Block:
		return set("Block", "statements", walkStatements(n.Statements))
	case *Assignment:
		return set("Assignment", "target", WalkAST(n.Target), "value", WalkAST(n.Value))
	case *Conditional:
		return set("Conditional", "condition", WalkAST(n.Condition), "then", WalkAST(n.Then), "else", WalkAST(n.Else))
	case *Loop:
		if n.Kind == ForLoop {
			return set("Loop", "kind", "for", "var", n.Var, "iterable", WalkAST(n.Iterable), "body", WalkAST(n.Body))
		}
		return set("Loop", "kind", "while", "condition", WalkAST(n.Condition), "body", WalkAST(n.Body))
	case *FunctionDef:
		decorators := make([]any, len(n.Decorators))
		for i, d := range n.Decorators {
			decorators[i] = WalkAST(d)
		}
		return set("FunctionDef", "name", n.Name, "receiver", n.Receiver, "params", walkParams(n.Params),
			"returnType", n.ReturnType, "decorators", decorators, "body", WalkAST(n.Body))
	case *Import:
		return set("Import", "path", n.Path, "alias", n.Alias)
	case *AgentDecl:
		fields := make([]any, len(n.Fields))
		for i, f := range n.Fields {
			fields[i] = WalkAST(f)
		}
		methods := make([]any, len(n.Methods))
		for i, f := range n.Methods {
			methods[i] = WalkAST(f)
		}
		return set("AgentDecl", "name", n.Name, "fields", fields, "methods", methods)
	case *TryRecover:
		return set("TryRecover", "body", WalkAST(n.Body), "errName", n.ErrName, "recover", WalkAST(n.Recover))
	case *Return:
		return set("Return", "value", WalkAST(n.Value))
	case *Break:
		return set("Break")
	case *Continue:
		return set("Continue")
	case *Raise:
		return set("Raise", "value", WalkAST(n.Value))
	case *ExpressionStatement:
		return set("ExpressionStatement", "expression", WalkAST(n.Expr))
	case *Literal:
		return set("Literal", "value", n.Value)
	case *Identifier:
		return set("Identifier", "scope", n.Scope, "name", n.Name)
	case *BinaryOp:
		return set("BinaryOp", "op", n.Op, "left", WalkAST(n.Left), "right", WalkAST(n.Right))
	case *UnaryOp:
		return set("UnaryOp", "op", n.Op, "operand", WalkAST(n.Operand))
	case *Call:
		return set("Call", "callee", WalkAST(n.Callee), "args", walkExprs(n.Args), "kwargs", walkKeywords(n.Kwargs))
	case *Attribute:
		return set("Attribute", "object", WalkAST(n.Object), "name", n.Name)
	case *Index:
		return set("Index", "object", WalkAST(n.Object), "index", WalkAST(n.Index))
	case *Pipe:
		return set("Pipe", "stages", walkExprs(n.Stages))
	case *ParallelBlock:
		return set("ParallelBlock", "branches", walkExprs(n.Branches))
	case *InterpolatedString:
		return set("InterpolatedString", "parts", walkExprs(n.Parts))
	case *Collection:
		kind := map[CollectionKind]string{ListCollection: "list", TupleCollection: "tuple", DictCollection: "dict"}[n.Kind]
		if n.Kind == DictCollection {
			return set("Collection", "kind", kind, "keys", walkExprs(n.Keys), "values", walkExprs(n.Elements))
		}
		return set("Collection", "kind", kind, "elements", walkExprs(n.Elements))
	case *Lambda:
		return set("Lambda", "params", walkParams(n.Params), "body", WalkAST(n.Body))
	case *Param:
		return set("Param", "name", n.Name, "annotation", n.Type, "default", WalkAST(n.Default))
	case *Keyword:
		return set("Keyword", "name", n.Name, "value", WalkAST(n.Value))
	case *Decorator:
		return set("Decorator", "name", n.Name, "args", walkExprs(n.Args), "kwargs", walkKeywords(n.Kwargs))
	default:
		return set("Unknown", "node", fmt.Sprintf("%T", n))
	}
}

func walkStatements(stmts []Statement) []any {
	out := make([]any, len(stmts))
	for i, s := range stmts {
		out[i] = WalkAST(s)
	}
	return out
}

func walkExprs(exprs []Expression) []any {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		out[i] = WalkAST(e)
	}
	return out
}

func walkParams(params []*Param) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = WalkAST(p)
	}
	return out
}

func walkKeywords(kws []*Keyword) []any {
	out := make([]any, len(kws))
	for i, k := range kws {
		out[i] = WalkAST(k)
	}
	return out
}

func RenderASTAsJSON(node Node) (string, error) {
	astMap := WalkAST(node)
	buf := new(bytes.Buffer)
	encoder := json.NewEncoder(buf)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(astMap); err != nil {
		return "", fmt.Errorf("failed to encode JSON: %v", err)
	}
	return buf.String(), nil
}
