package ast

import "reflect"

// Children returns the direct child nodes of n in source order.
func Children(n Node) []Node {
	var out []Node
	add := func(nodes ...Node) {
		for _, c := range nodes {
			if c != nil && !isNilNode(c) {
				out = append(out, c)
			}
		}
	}
	switch n := n.(type) {
	case *Program:
		for _, s := range n.Statements {
			add(s)
		}
	case *Block:
		for _, s := range n.Statements {
			add(s)
		}
	case *Assignment:
		add(n.Target, n.Value)
	case *Conditional:
		add(n.Condition, n.Then, n.Else)
	case *Loop:
		add(n.Iterable, n.Condition, n.Body)
	case *FunctionDef:
		for _, d := range n.Decorators {
			add(d)
		}
		for _, p := range n.Params {
			add(p)
		}
		add(n.Body)
	case *AgentDecl:
		for _, f := range n.Fields {
			add(f)
		}
		for _, m := range n.Methods {
			add(m)
		}
	case *TryRecover:
		add(n.Body, n.Recover)
	case *Return:
		add(n.Value)
	case *Raise:
		add(n.Value)
	case *ExpressionStatement:
		add(n.Expr)
	case *BinaryOp:
		add(n.Left, n.Right)
	case *UnaryOp:
		add(n.Operand)
	case *Call:
		add(n.Callee)
		for _, a := range n.Args {
			add(a)
		}
		for _, k := range n.Kwargs {
			add(k)
		}
	case *Attribute:
		add(n.Object)
	case *Index:
		add(n.Object, n.Index)
	case *Pipe:
		for _, s := range n.Stages {
			add(s)
		}
	case *ParallelBlock:
		for _, b := range n.Branches {
			add(b)
		}
	case *InterpolatedString:
		for _, p := range n.Parts {
			add(p)
		}
	case *Collection:
		for i := range n.Elements {
			if n.Kind == DictCollection && i < len(n.Keys) {
				add(n.Keys[i])
			}
			add(n.Elements[i])
		}
	case *Lambda:
		for _, p := range n.Params {
			add(p)
		}
		add(n.Body)
	case *Param:
		add(n.Default)
	case *Keyword:
		add(n.Value)
	case *Decorator:
		for _, a := range n.Args {
			add(a)
		}
		for _, k := range n.Kwargs {
			add(k)
		}
	}
	return out
}

// Inspect walks the tree depth first, stopping descent where fn returns false.
func Inspect(n Node, fn func(Node) bool) {
	if n == nil || isNilNode(n) || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, fn)
	}
}

// isNilNode catches typed nil pointers stored in interfaces.
func isNilNode(n Node) bool {
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
