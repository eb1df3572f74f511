package object

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/resource"
)

const (
	NONE_OBJ    = "none"
	BOOLEAN_OBJ = "bool"
	INTEGER_OBJ = "int"
	FLOAT_OBJ   = "float"
	STRING_OBJ  = "str"

	LIST_OBJ  = "list"
	TUPLE_OBJ = "tuple"
	DICT_OBJ  = "dict"

	MODULE_OBJ   = "module"
	AGENT_OBJ    = "agent"
	FUNCTION_OBJ = "function"
	FOREIGN_OBJ  = "builtin"
	METHOD_OBJ   = "method"
	ERROR_OBJ    = "error"
	RESOURCE_OBJ = "resource"

	RETURN_VALUE_OBJ = "RETURN_VALUE"
	SIGNAL_OBJ       = "SIGNAL"
)

var (
	NONE  = &None{}
	TRUE  = &Boolean{Value: true}
	FALSE = &Boolean{Value: false}

	BREAK    = &Signal{Name: "break"}
	CONTINUE = &Signal{Name: "continue"}
)

type ObjectType string

type Object interface {
	Type() ObjectType
	Inspect() string
}

type Hashable interface {
	Object
	MapKey() MapKey
}

// Callable is anything a call expression or a pipe stage can invoke.
type Callable interface {
	Object
	Name() string
	// ParamNames lists declared parameters in order; nil means the callable
	// takes any positional arguments.
	ParamNames() []string
	Call(ctx context.Context, env *Context, args []Object, kwargs map[string]Object) (Object, error)
}

func NativeBool(b bool) *Boolean {
	if b {
		return TRUE
	}
	return FALSE
}

type None struct{}

func (n *None) Type() ObjectType { return NONE_OBJ }
func (n *None) Inspect() string  { return "none" }
func (n *None) MapKey() MapKey   { return MapKey{Type: NONE_OBJ} }

type Boolean struct {
	Value bool
}

func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string  { return strconv.FormatBool(b.Value) }
func (b *Boolean) MapKey() MapKey {
	var value uint64
	if b.Value {
		value = 1
	}
	return MapKey{Type: b.Type(), Value: value}
}

type Integer struct {
	Value int64
}

func (i *Integer) Type() ObjectType { return INTEGER_OBJ }
func (i *Integer) Inspect() string  { return strconv.FormatInt(i.Value, 10) }
func (i *Integer) MapKey() MapKey {
	return MapKey{Type: i.Type(), Value: uint64(i.Value)}
}

type Float struct {
	Value float64
}

func (f *Float) Type() ObjectType { return FLOAT_OBJ }
func (f *Float) Inspect() string {
	if f.Value == math.Trunc(f.Value) && !math.IsInf(f.Value, 0) && math.Abs(f.Value) < 1e16 {
		return strconv.FormatFloat(f.Value, 'f', 1, 64)
	}
	return strconv.FormatFloat(f.Value, 'g', -1, 64)
}

// MapKey hashes integral floats like the equal integer so 1 and 1.0 address
// the same dict slot.
func (f *Float) MapKey() MapKey {
	if f.Value == math.Trunc(f.Value) && math.Abs(f.Value) < math.MaxInt64 {
		return MapKey{Type: INTEGER_OBJ, Value: uint64(int64(f.Value))}
	}
	return MapKey{Type: f.Type(), Value: math.Float64bits(f.Value)}
}

type String struct {
	Value string
}

func (s *String) Type() ObjectType { return STRING_OBJ }
func (s *String) Inspect() string  { return s.Value }
func (s *String) MapKey() MapKey {
	h := fnv.New64a()
	h.Write([]byte(s.Value))
	return MapKey{Type: s.Type(), Value: h.Sum64()}
}

type List struct {
	Elements []Object
}

func (l *List) Type() ObjectType { return LIST_OBJ }
func (l *List) Inspect() string  { return "[" + inspectAll(l.Elements) + "]" }

type Tuple struct {
	Elements []Object
}

func (t *Tuple) Type() ObjectType { return TUPLE_OBJ }
func (t *Tuple) Inspect() string {
	if len(t.Elements) == 1 {
		return "(" + repr(t.Elements[0]) + ",)"
	}
	return "(" + inspectAll(t.Elements) + ")"
}
func (t *Tuple) MapKey() MapKey {
	h := fnv.New64a()
	for _, e := range t.Elements {
		k, ok := e.(Hashable)
		if !ok {
			fmt.Fprintf(h, "%p", e)
			continue
		}
		mk := k.MapKey()
		fmt.Fprintf(h, "%s:%d;", mk.Type, mk.Value)
	}
	return MapKey{Type: t.Type(), Value: h.Sum64()}
}

func inspectAll(elems []Object) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = repr(e)
	}
	return strings.Join(parts, ", ")
}

// repr quotes strings nested inside containers.
func repr(o Object) string {
	if s, ok := o.(*String); ok {
		return strconv.Quote(s.Value)
	}
	return o.Inspect()
}

type MapKey struct {
	Type  ObjectType
	Value uint64
}

type DictPair struct {
	Key   Object
	Value Object
}

// Dict keeps insertion order.
type Dict struct {
	Pairs map[MapKey]DictPair
	Order []MapKey
}

func NewDict() *Dict {
	return &Dict{Pairs: map[MapKey]DictPair{}}
}

func (d *Dict) Type() ObjectType { return DICT_OBJ }
func (d *Dict) Inspect() string {
	parts := make([]string, 0, len(d.Order))
	for _, k := range d.Order {
		pair := d.Pairs[k]
		parts = append(parts, repr(pair.Key)+": "+repr(pair.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Put simplify adding objects to a dict
func (d *Dict) Put(k Hashable, v Object) *Dict {
	if d.Pairs == nil {
		d.Pairs = map[MapKey]DictPair{}
	}
	key := k.MapKey()
	if _, exists := d.Pairs[key]; !exists {
		d.Order = append(d.Order, key)
	}
	d.Pairs[key] = DictPair{Key: k, Value: v}
	return d
}

// PutString is Put with a string key.
func (d *Dict) PutString(k string, v Object) *Dict {
	return d.Put(&String{Value: k}, v)
}

func (d *Dict) Get(k Hashable) (Object, bool) {
	pair, ok := d.Pairs[k.MapKey()]
	return pair.Value, ok
}

func (d *Dict) GetString(k string) (Object, bool) {
	return d.Get(&String{Value: k})
}

func (d *Dict) Len() int { return len(d.Order) }

// Items returns pairs in insertion order.
func (d *Dict) Items() []DictPair {
	out := make([]DictPair, len(d.Order))
	for i, k := range d.Order {
		out[i] = d.Pairs[k]
	}
	return out
}

// StringKeys reports whether every key is a string.
func (d *Dict) StringKeys() bool {
	for _, k := range d.Order {
		if k.Type != STRING_OBJ {
			return false
		}
	}
	return true
}

type ReturnValue struct {
	Value Object
}

func (rv *ReturnValue) Type() ObjectType { return RETURN_VALUE_OBJ }
func (rv *ReturnValue) Inspect() string  { return rv.Value.Inspect() }

// Signal is break or continue travelling up to the nearest loop.
type Signal struct {
	Name string
}

func (s *Signal) Type() ObjectType { return SIGNAL_OBJ }
func (s *Signal) Inspect() string  { return s.Name }

// Error is a first-class error value, raised with `raise` or bound by
// `recover (e)`.
type Error struct {
	Kind    diag.Kind
	Message string
	Phase   diag.Phase
	Cause   error
}

func (e *Error) Type() ObjectType { return ERROR_OBJ }
func (e *Error) Inspect() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s(phase=%s): %s", e.Kind, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Attr exposes kind, message and phase to scripts.
func (e *Error) Attr(name string) (Object, bool) {
	switch name {
	case "kind":
		return &String{Value: string(e.Kind)}, true
	case "message":
		return &String{Value: e.Message}, true
	case "phase":
		if e.Phase == "" {
			return NONE, true
		}
		return &String{Value: string(e.Phase)}, true
	}
	return nil, false
}

// AsError converts the value back into a raisable diag.Error. Each call
// returns a fresh copy, since raising annotates the error with its location.
func (e *Error) AsError() *diag.Error {
	if de, ok := e.Cause.(*diag.Error); ok {
		cp := *de
		return &cp
	}
	kind := e.Kind
	if kind == "" {
		kind = diag.RuntimeError
	}
	return &diag.Error{Kind: kind, Message: e.Message, Phase: e.Phase, Err: e.Cause}
}

// ErrorFrom builds an error value from any Go error.
func ErrorFrom(err error) *Error {
	if de, ok := diag.As(err); ok {
		return &Error{Kind: de.Kind, Message: de.Message, Phase: de.Phase, Cause: de}
	}
	return &Error{Kind: diag.RuntimeError, Message: err.Error(), Cause: err}
}

type Module struct {
	Name    string
	Path    string
	Src     string
	Program *ast.Program
	Members map[string]Object
}

func (m *Module) Type() ObjectType { return MODULE_OBJ }

func (m *Module) Inspect() string {
	var out bytes.Buffer
	out.WriteString("module ")
	out.WriteString(m.Name)
	out.WriteString(" {")
	names := make([]string, 0, len(m.Members))
	for name := range m.Members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.WriteString(fmt.Sprintf("\n  %s: %s,", name, m.Members[name].Inspect()))
	}
	out.WriteString("\n}")
	return out.String()
}

func (m *Module) Attr(name string) (Object, bool) {
	v, ok := m.Members[name]
	return v, ok
}

// Agent is the value an agent declaration binds.
type Agent struct {
	AgentName string
	Fields    *Dict
	Methods   map[string]Callable
}

func (a *Agent) Type() ObjectType { return AGENT_OBJ }
func (a *Agent) Inspect() string  { return "agent " + a.AgentName + " " + a.Fields.Inspect() }

// Attr returns a field, or a method bound to this agent.
func (a *Agent) Attr(name string) (Object, bool) {
	if v, ok := a.Fields.GetString(name); ok {
		return v, true
	}
	if m, ok := a.Methods[name]; ok {
		return &BoundMethod{Self: a, Fn: m}, true
	}
	return nil, false
}

// BoundMethod prepends Self to the arguments of Fn.
type BoundMethod struct {
	Self Object
	Fn   Callable
}

func (b *BoundMethod) Type() ObjectType { return METHOD_OBJ }
func (b *BoundMethod) Inspect() string  { return "<method " + b.Fn.Name() + ">" }
func (b *BoundMethod) Name() string     { return b.Fn.Name() }
func (b *BoundMethod) ParamNames() []string {
	names := b.Fn.ParamNames()
	if len(names) > 0 {
		return names[1:]
	}
	return names
}
func (b *BoundMethod) Call(ctx context.Context, env *Context, args []Object, kwargs map[string]Object) (Object, error) {
	return b.Fn.Call(ctx, env, append([]Object{b.Self}, args...), kwargs)
}

// Applier runs user-defined function bodies; the execution engine
// implements it.
type Applier interface {
	ApplyFunction(ctx context.Context, fn *Function, args []Object, kwargs map[string]Object) (Object, error)
}

// Function is a def or lambda closed over its defining context.
type Function struct {
	FnName     string
	Namespace  string
	Parameters []*ast.Param
	ReturnType string
	Body       *ast.Block
	Env        *Context
	Engine     Applier
}

func (f *Function) Type() ObjectType { return FUNCTION_OBJ }
func (f *Function) Inspect() string {
	params := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		params[i] = p.String()
	}
	return "fn " + f.Name() + "(" + strings.Join(params, ", ") + ")"
}
func (f *Function) Name() string {
	if f.FnName == "" {
		return "<lambda>"
	}
	if f.Namespace != "" {
		return f.Namespace + "." + f.FnName
	}
	return f.FnName
}
func (f *Function) ParamNames() []string {
	names := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		names[i] = p.Name
	}
	return names
}
func (f *Function) Call(ctx context.Context, _ *Context, args []Object, kwargs map[string]Object) (Object, error) {
	return f.Engine.ApplyFunction(ctx, f, args, kwargs)
}

type ForeignFunction func(ctx context.Context, env *Context, args []Object, kwargs map[string]Object) (Object, error)

// Foreign is a callable implemented in Go.
type Foreign struct {
	FnName    string
	Namespace string
	Params    []string
	Fn        ForeignFunction
}

func (f *Foreign) Type() ObjectType { return FOREIGN_OBJ }
func (f *Foreign) Inspect() string  { return "builtin " + f.Name() + " { <native fn> }" }
func (f *Foreign) Name() string {
	if f.Namespace != "" {
		return f.Namespace + "." + f.FnName
	}
	return f.FnName
}
func (f *Foreign) ParamNames() []string { return f.Params }
func (f *Foreign) Call(ctx context.Context, env *Context, args []Object, kwargs map[string]Object) (Object, error) {
	return f.Fn(ctx, env, args, kwargs)
}

// Resource exposes a bound resource handle to scripts.
type Resource struct {
	Handle *resource.Handle
}

func (r *Resource) Type() ObjectType { return RESOURCE_OBJ }
func (r *Resource) Inspect() string  { return r.Handle.String() }

// Attributed values answer obj.name.
type Attributed interface {
	Attr(name string) (Object, bool)
}
