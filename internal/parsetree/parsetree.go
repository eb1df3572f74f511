// Package parsetree holds the raw parse tree produced by the parser. Nodes are
// named after grammar rules and still contain grammar artifacts (wrappers,
// lists, optional markers) that the normalizer folds away.
package parsetree

import (
	"strings"

	"weave/internal/token"
)

// Rule names a grammar production.
type Rule string

const (
	File          Rule = "file"
	StmtList      Rule = "stmt_list"
	Block         Rule = "block"
	Assign        Rule = "assign"
	ExprStmt      Rule = "expr_stmt"
	IfStmt        Rule = "if_stmt"
	ElifClause    Rule = "elif_clause"
	ElseClause    Rule = "else_clause"
	WhileStmt     Rule = "while_stmt"
	ForStmt       Rule = "for_stmt"
	DefStmt       Rule = "def_stmt"
	DecoratorList Rule = "decorator_list"
	Decorator     Rule = "decorator"
	DottedName    Rule = "dotted_name"
	ParamList     Rule = "param_list"
	Param         Rule = "param"
	TypeAnnot     Rule = "type_annotation"
	ParamDefault  Rule = "param_default"
	ReturnType    Rule = "return_type"
	AgentStmt     Rule = "agent_stmt"
	ImportStmt    Rule = "import_stmt"
	ImportAlias   Rule = "import_alias"
	TryStmt       Rule = "try_stmt"
	RecoverClause Rule = "recover_clause"
	ReturnStmt    Rule = "return_stmt"
	BreakStmt     Rule = "break_stmt"
	ContinueStmt  Rule = "continue_stmt"
	RaiseStmt     Rule = "raise_stmt"

	PipeExpr     Rule = "pipe_expr"
	Binary       Rule = "binary"
	Unary        Rule = "unary"
	Call         Rule = "call"
	Arguments    Rule = "arguments"
	Argument     Rule = "argument"
	Kwarg        Rule = "kwarg"
	Index        Rule = "index"
	Attr         Rule = "attr"
	ParenExpr    Rule = "paren_expr"
	TupleDisplay Rule = "tuple_display"
	ListDisplay  Rule = "list_display"
	DictDisplay  Rule = "dict_display"
	DictItem     Rule = "dict_item"
	FString      Rule = "fstring"
	FStringText  Rule = "fstring_text"
	FStringExpr  Rule = "fstring_expr"
	Lambda       Rule = "lambda"
	LambdaExpr   Rule = "lambda_expr"
	Name         Rule = "name"
	ScopedName   Rule = "scoped_name"
	Number       Rule = "number"
	String       Rule = "string"
	Const        Rule = "const"
)

// Node is one parse tree node. Token is the leading token of the production,
// or the operator for binary and unary nodes.
type Node struct {
	Rule     Rule
	Token    token.Token
	Children []*Node
}

func New(rule Rule, tok token.Token, children ...*Node) *Node {
	return &Node{Rule: rule, Token: tok, Children: children}
}

// Add appends non-nil children.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// Child returns the first child with the given rule, or nil.
func (n *Node) Child(rule Rule) *Node {
	for _, c := range n.Children {
		if c.Rule == rule {
			return c
		}
	}
	return nil
}

// Walk visits n and its descendants depth first until fn returns false.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// String renders the tree as an s-expression.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	b.WriteString("(")
	b.WriteString(string(n.Rule))
	switch n.Rule {
	case Name, ScopedName, Number, String, Const, FStringText, Binary, Unary:
		b.WriteString(" ")
		b.WriteString(quoteIfNeeded(n.Token.Literal))
	}
	for _, c := range n.Children {
		b.WriteString(" ")
		c.write(b)
	}
	b.WriteString(")")
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " ()\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
