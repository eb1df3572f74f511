// Package registry holds every callable a program can dispatch to, keyed by
// (namespace, name) within four priority classes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"weave/internal/diag"
	"weave/internal/object"
)

// Priority orders the registration classes; higher values win.
type Priority int

const (
	Dynamic Priority = iota
	User
	Core
	Builtin
)

// Classes lists priorities from highest to lowest.
var Classes = []Priority{Builtin, Core, User, Dynamic}

func (p Priority) String() string {
	switch p {
	case Builtin:
		return "builtin"
	case Core:
		return "core"
	case User:
		return "user"
	case Dynamic:
		return "dynamic"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

var (
	// ErrDuplicate is returned when a (namespace, name) pair is registered
	// twice in the same priority class.
	ErrDuplicate = errors.New("function already registered")

	// ErrSealed is returned when registering into a sealed registry.
	ErrSealed = errors.New("registry is sealed")

	ErrInvalidEntry = errors.New("invalid registry entry")
)

type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "." + k.Name
}

type Entry struct {
	Name      string
	Namespace string
	Signature []string
	Callable  object.Callable
	Priority  Priority
	Metadata  map[string]any
}

func (e *Entry) Key() Key { return Key{Namespace: e.Namespace, Name: e.Name} }

// Source tells how a name was resolved.
type Source string

const (
	SourceContext  Source = "context"
	SourceRegistry Source = "registry"
)

// ResolveHook observes every successful resolution.
type ResolveHook func(key Key, source Source, p Priority)

// Registry is safe for concurrent use. A session registry overlays its
// parent: lookups fall through, registrations stay local.
type Registry struct {
	mu      sync.RWMutex
	parent  *Registry
	classes map[Priority]map[Key]*Entry
	sealed  bool
	hook    ResolveHook
}

func New() *Registry {
	r := &Registry{classes: make(map[Priority]map[Key]*Entry, len(Classes))}
	for _, p := range Classes {
		r.classes[p] = make(map[Key]*Entry)
	}
	return r
}

// OnResolve installs a hook; sessions inherit it.
func (r *Registry) OnResolve(h ResolveHook) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

// Seal stops further registration on r. Sessions derived from r stay open.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Session returns an empty overlay for one program run.
func (r *Registry) Session() *Registry {
	s := New()
	s.parent = r
	r.mu.RLock()
	s.hook = r.hook
	r.mu.RUnlock()
	return s
}

func (r *Registry) Register(e Entry) error {
	if e.Name == "" || e.Callable == nil {
		return fmt.Errorf("%w: name and callable are required", ErrInvalidEntry)
	}
	if e.Priority < Dynamic || e.Priority > Builtin {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidEntry, int(e.Priority))
	}
	if e.Signature == nil {
		e.Signature = e.Callable.ParamNames()
	}
	key := e.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", key, ErrSealed)
	}
	for reg := r; reg != nil; reg = reg.parent {
		if reg != r {
			reg.mu.RLock()
		}
		_, exists := reg.classes[e.Priority][key]
		if reg != r {
			reg.mu.RUnlock()
		}
		if exists {
			return diag.Wrap(diag.DispatchError, fmt.Errorf("%s (%s): %w", key, e.Priority, ErrDuplicate),
				"duplicate %s function: %s", e.Priority, key)
		}
	}
	r.classes[e.Priority][key] = &e
	slog.Debug("registered function",
		slog.String("key", key.String()),
		slog.String("priority", e.Priority.String()))
	return nil
}

// RegisterFunc is Register for the common case.
func (r *Registry) RegisterFunc(namespace, name string, fn object.Callable, p Priority, meta map[string]any) error {
	return r.Register(Entry{Namespace: namespace, Name: name, Callable: fn, Priority: p, Metadata: meta})
}

// Lookup finds key in the highest class that holds it, searching the
// overlay before its parent within each class.
func (r *Registry) Lookup(namespace, name string) (*Entry, bool) {
	key := Key{Namespace: namespace, Name: name}
	for _, p := range Classes {
		for reg := r; reg != nil; reg = reg.parent {
			reg.mu.RLock()
			e, ok := reg.classes[p][key]
			reg.mu.RUnlock()
			if ok {
				return e, true
			}
		}
	}
	return nil, false
}

// HasNamespace reports whether any entry lives under namespace.
func (r *Registry) HasNamespace(namespace string) bool {
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		for _, class := range reg.classes {
			for k := range class {
				if k.Namespace == namespace {
					reg.mu.RUnlock()
					return true
				}
			}
		}
		reg.mu.RUnlock()
	}
	return false
}

// Resolve finds the callable for namespace.name:
//  1. a callable bound in env (for a namespace, a member of the bound value);
//  2. the registry, highest priority class first;
//  3. otherwise a DispatchError.
func (r *Registry) Resolve(env *object.Context, namespace, name string) (object.Callable, error) {
	key := Key{Namespace: namespace, Name: name}
	var notCallable object.Object
	if env != nil {
		if bound, ok := boundCallable(env, namespace, name); ok {
			if fn, ok := bound.(object.Callable); ok {
				r.observe(key, SourceContext, User)
				return fn, nil
			}
			notCallable = bound
		}
	}
	if e, ok := r.Lookup(namespace, name); ok {
		r.observe(key, SourceRegistry, e.Priority)
		return e.Callable, nil
	}
	if notCallable != nil {
		return nil, diag.New(diag.TypeError, "%s is not callable (%s)", key, notCallable.Type())
	}
	return nil, diag.New(diag.DispatchError, "unresolved function: %s", key)
}

func boundCallable(env *object.Context, namespace, name string) (object.Object, bool) {
	if namespace == "" {
		v, err := env.Get(name)
		return v, err == nil
	}
	holder, err := env.Get(namespace)
	if err != nil {
		return nil, false
	}
	attrs, ok := holder.(object.Attributed)
	if !ok {
		return nil, false
	}
	return attrs.Attr(name)
}

func (r *Registry) observe(key Key, src Source, p Priority) {
	r.mu.RLock()
	h := r.hook
	r.mu.RUnlock()
	if h != nil {
		h(key, src, p)
	}
}

// Entries lists every entry visible from r, sorted by namespace, name and
// descending priority.
func (r *Registry) Entries() []Entry {
	var out []Entry
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		for _, class := range reg.classes {
			for _, e := range class {
				out = append(out, *e)
			}
		}
		reg.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Priority > b.Priority
	})
	return out
}

// Own lists the entries registered on r itself, without its parents.
func (r *Registry) Own() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, class := range r.classes {
		for _, e := range class {
			out = append(out, *e)
		}
	}
	return out
}

// Unregister removes key from class p on r. Parents are never touched.
func (r *Registry) Unregister(key Key, p Priority) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[p][key]; !ok {
		return false
	}
	delete(r.classes[p], key)
	return true
}

// Namespace collects the winning callables under namespace into a module
// value, for `import math` style bindings.
func (r *Registry) Namespace(namespace string) *object.Module {
	mod := &object.Module{Name: namespace, Members: map[string]object.Object{}}
	for _, e := range r.Entries() {
		if e.Namespace != namespace {
			continue
		}
		if _, seen := mod.Members[e.Name]; !seen {
			mod.Members[e.Name] = e.Callable
		}
	}
	return mod
}

type registryKey struct{}

// WithRegistry attaches r to ctx for built-ins that introspect or extend
// the running session.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext returns the registry attached to ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}
