package ast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"weave/internal/token"
)

// The base Node interface
type Node interface {
	Pos() token.Span
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Loc is embedded in every node.
type Loc struct {
	Span token.Span
}

func (l Loc) Pos() token.Span { return l.Span }

type Program struct {
	Loc
	Statements []Statement
}

func (p *Program) String() string {
	var out bytes.Buffer
	for i, s := range p.Statements {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(s.String())
	}
	return out.String()
}

type Block struct {
	Loc
	Statements []Statement
}

func (b *Block) String() string {
	parts := make([]string, len(b.Statements))
	for i, s := range b.Statements {
		parts[i] = s.String()
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

// Statements

type Assignment struct {
	Loc
	Target Expression // *Identifier, *Attribute or *Index
	Value  Expression
}

func (a *Assignment) statementNode() {}
func (a *Assignment) String() string {
	return a.Target.String() + " = " + a.Value.String()
}

// Conditional is an if statement; elif chains nest in Else.
type Conditional struct {
	Loc
	Condition Expression
	Then      *Block
	Else      *Block
}

func (c *Conditional) statementNode() {}
func (c *Conditional) String() string {
	out := "if " + c.Condition.String() + " " + c.Then.String()
	if c.Else != nil {
		out += " else " + c.Else.String()
	}
	return out
}

type LoopKind int

const (
	WhileLoop LoopKind = iota
	ForLoop
)

type Loop struct {
	Loc
	Kind      LoopKind
	Var       string     // for loops
	Iterable  Expression // for loops
	Condition Expression // while loops
	Body      *Block
}

func (l *Loop) statementNode() {}
func (l *Loop) String() string {
	if l.Kind == ForLoop {
		return "for " + l.Var + " in " + l.Iterable.String() + " " + l.Body.String()
	}
	return "while " + l.Condition.String() + " " + l.Body.String()
}

type FunctionDef struct {
	Loc
	Name       string
	Receiver   string // agent name for def Agent.method
	Params     []*Param
	ReturnType string
	Body       *Block
	Decorators []*Decorator
}

func (f *FunctionDef) statementNode() {}
func (f *FunctionDef) String() string {
	var out bytes.Buffer
	for _, d := range f.Decorators {
		out.WriteString(d.String())
		out.WriteString(" ")
	}
	out.WriteString("def ")
	if f.Receiver != "" {
		out.WriteString(f.Receiver + ".")
	}
	out.WriteString(f.Name)
	out.WriteString("(" + joinParams(f.Params) + ")")
	if f.ReturnType != "" {
		out.WriteString(" -> " + f.ReturnType)
	}
	out.WriteString(" " + f.Body.String())
	return out.String()
}

// QualifiedName is Receiver.Name or Name.
func (f *FunctionDef) QualifiedName() string {
	if f.Receiver != "" {
		return f.Receiver + "." + f.Name
	}
	return f.Name
}

type Import struct {
	Loc
	Path  []string
	Alias string
}

func (i *Import) statementNode() {}
func (i *Import) String() string {
	out := "import " + strings.Join(i.Path, ".")
	if i.Alias != "" {
		out += " as " + i.Alias
	}
	return out
}

// Binding is the name an import is bound to.
func (i *Import) Binding() string {
	if i.Alias != "" {
		return i.Alias
	}
	return i.Path[len(i.Path)-1]
}

type AgentDecl struct {
	Loc
	Name    string
	Fields  []*Assignment
	Methods []*FunctionDef
}

func (a *AgentDecl) statementNode() {}
func (a *AgentDecl) String() string {
	var parts []string
	for _, f := range a.Fields {
		parts = append(parts, f.String())
	}
	for _, m := range a.Methods {
		parts = append(parts, m.String())
	}
	return "agent " + a.Name + " { " + strings.Join(parts, "; ") + " }"
}

type TryRecover struct {
	Loc
	Body    *Block
	ErrName string // optional
	Recover *Block
}

func (t *TryRecover) statementNode() {}
func (t *TryRecover) String() string {
	out := "try " + t.Body.String() + " recover "
	if t.ErrName != "" {
		out += "(" + t.ErrName + ") "
	}
	return out + t.Recover.String()
}

type Return struct {
	Loc
	Value Expression // nil for a bare return
}

func (r *Return) statementNode() {}
func (r *Return) String() string {
	if r.Value == nil {
		return "return"
	}
	return "return " + r.Value.String()
}

type Break struct{ Loc }

func (b *Break) statementNode()  {}
func (b *Break) String() string { return "break" }

type Continue struct{ Loc }

func (c *Continue) statementNode()  {}
func (c *Continue) String() string { return "continue" }

type Raise struct {
	Loc
	Value Expression
}

func (r *Raise) statementNode()  {}
func (r *Raise) String() string { return "raise " + r.Value.String() }

type ExpressionStatement struct {
	Loc
	Expr Expression
}

func (e *ExpressionStatement) statementNode()  {}
func (e *ExpressionStatement) String() string { return e.Expr.String() }

// Expressions

// Literal holds int64, float64, string, bool or nil.
type Literal struct {
	Loc
	Value any
}

func (l *Literal) expressionNode() {}
func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "none"
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type Identifier struct {
	Loc
	Scope string // empty unless written as scope:name
	Name  string
}

func (i *Identifier) expressionNode() {}
func (i *Identifier) String() string {
	if i.Scope != "" {
		return i.Scope + ":" + i.Name
	}
	return i.Name
}

type BinaryOp struct {
	Loc
	Op    string
	Left  Expression
	Right Expression
}

func (b *BinaryOp) expressionNode() {}
func (b *BinaryOp) String() string {
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}

type UnaryOp struct {
	Loc
	Op      string
	Operand Expression
}

func (u *UnaryOp) expressionNode() {}
func (u *UnaryOp) String() string {
	if u.Op == "not" {
		return "(not " + u.Operand.String() + ")"
	}
	return "(" + u.Op + u.Operand.String() + ")"
}

type Call struct {
	Loc
	Callee Expression
	Args   []Expression
	Kwargs []*Keyword
}

func (c *Call) expressionNode() {}
func (c *Call) String() string {
	return c.Callee.String() + "(" + joinArgs(c.Args, c.Kwargs) + ")"
}

// Attribute is obj.name.
type Attribute struct {
	Loc
	Object Expression
	Name   string
}

func (a *Attribute) expressionNode() {}
func (a *Attribute) String() string  { return a.Object.String() + "." + a.Name }

type Index struct {
	Loc
	Object Expression
	Index  Expression
}

func (i *Index) expressionNode() {}
func (i *Index) String() string  { return i.Object.String() + "[" + i.Index.String() + "]" }

// Pipe is a flattened left-associative chain a | b | c.
type Pipe struct {
	Loc
	Stages []Expression
}

func (p *Pipe) expressionNode() {}
func (p *Pipe) String() string {
	parts := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

// ParallelBlock is a [f, g] stage of a pipe.
type ParallelBlock struct {
	Loc
	Branches []Expression
}

func (p *ParallelBlock) expressionNode() {}
func (p *ParallelBlock) String() string {
	return "parallel[" + joinExprs(p.Branches) + "]"
}

// InterpolatedString parts are string Literals and embedded expressions.
type InterpolatedString struct {
	Loc
	Parts []Expression
}

func (s *InterpolatedString) expressionNode() {}
func (s *InterpolatedString) String() string {
	var out bytes.Buffer
	out.WriteString(`f"`)
	for _, p := range s.Parts {
		if lit, ok := p.(*Literal); ok {
			if str, ok := lit.Value.(string); ok {
				out.WriteString(strings.NewReplacer("{", "{{", "}", "}}", `"`, `\"`).Replace(str))
				continue
			}
		}
		out.WriteString("{" + p.String() + "}")
	}
	out.WriteString(`"`)
	return out.String()
}

type CollectionKind int

const (
	ListCollection CollectionKind = iota
	TupleCollection
	DictCollection
)

type Collection struct {
	Loc
	Kind     CollectionKind
	Elements []Expression // values, in order
	Keys     []Expression // dict keys, parallel to Elements
}

func (c *Collection) expressionNode() {}
func (c *Collection) String() string {
	switch c.Kind {
	case TupleCollection:
		if len(c.Elements) == 1 {
			return "(" + c.Elements[0].String() + ",)"
		}
		return "(" + joinExprs(c.Elements) + ")"
	case DictCollection:
		parts := make([]string, len(c.Elements))
		for i := range c.Elements {
			parts[i] = c.Keys[i].String() + ": " + c.Elements[i].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "[" + joinExprs(c.Elements) + "]"
	}
}

// Lambda is fn(params) { body }; expression bodies are a single return.
type Lambda struct {
	Loc
	Params []*Param
	Body   *Block
}

func (l *Lambda) expressionNode() {}
func (l *Lambda) String() string {
	return "fn(" + joinParams(l.Params) + ") " + l.Body.String()
}

// Structural helpers

type Param struct {
	Loc
	Name    string
	Type    string
	Default Expression
}

func (p *Param) String() string {
	out := p.Name
	if p.Type != "" {
		out += ": " + p.Type
	}
	if p.Default != nil {
		out += " = " + p.Default.String()
	}
	return out
}

type Keyword struct {
	Loc
	Name  string
	Value Expression
}

func (k *Keyword) String() string { return k.Name + "=" + k.Value.String() }

type Decorator struct {
	Loc
	Name   string
	Args   []Expression
	Kwargs []*Keyword
}

func (d *Decorator) String() string {
	if len(d.Args) == 0 && len(d.Kwargs) == 0 {
		return "@" + d.Name
	}
	return "@" + d.Name + "(" + joinArgs(d.Args, d.Kwargs) + ")"
}

func joinExprs(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func joinArgs(args []Expression, kwargs []*Keyword) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, a := range args {
		parts = append(parts, a.String())
	}
	for _, k := range kwargs {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ", ")
}

func joinParams(params []*Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
