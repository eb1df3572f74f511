package object

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"weave/internal/diag"
	"weave/internal/resource"
)

type Scope string

const (
	Local   Scope = "local"
	Private Scope = "private"
	Public  Scope = "public"
	System  Scope = "system"
)

// SearchOrder is the fixed resolution order for unscoped names.
var SearchOrder = []Scope{Local, Private, Public, System}

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case Local, Private, Public, System:
		return Scope(s), nil
	case "":
		return Local, nil
	}
	return "", diag.New(diag.NameError, "unknown scope %q", s)
}

var nextID atomic.Uint64

type bindings struct {
	mu   sync.RWMutex
	vars map[string]Object
}

func newBindings() *bindings {
	return &bindings{vars: make(map[string]Object)}
}

func (b *bindings) get(name string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vars[name]
	return v, ok
}

func (b *bindings) set(name string, v Object) {
	b.mu.Lock()
	b.vars[name] = v
	b.mu.Unlock()
}

func (b *bindings) snapshot() map[string]Object {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Object, len(b.vars))
	for k, v := range b.vars {
		out[k] = v
	}
	return out
}

// Context holds the four variable scopes and the bound resources of one
// activation. A child shares private, public and system with its parent and
// owns its local scope; local reads fall through to the parent's local.
type Context struct {
	ID uint64

	parent  *Context
	local   *bindings
	private *bindings
	public  *bindings
	system  *bindings

	mu        sync.Mutex
	resources map[string]*resource.Handle
	released  bool
}

func NewContext() *Context {
	c := &Context{
		ID:        nextID.Add(1),
		local:     newBindings(),
		private:   newBindings(),
		public:    newBindings(),
		system:    newBindings(),
		resources: make(map[string]*resource.Handle),
	}
	slog.Debug("new root context", slog.Uint64("id", c.ID))
	return c
}

// DeriveChild returns a context with a fresh local scope. The child holds its
// own reference to every resource visible in c.
func (c *Context) DeriveChild() *Context {
	child := &Context{
		ID:        nextID.Add(1),
		parent:    c,
		local:     newBindings(),
		private:   c.private,
		public:    c.public,
		system:    c.system,
		resources: make(map[string]*resource.Handle),
	}
	c.mu.Lock()
	for name, h := range c.resources {
		if err := h.Retain(); err != nil {
			slog.Warn("resource not inherited", slog.String("name", name), slog.Any("error", err))
			continue
		}
		child.resources[name] = h
	}
	c.mu.Unlock()
	return child
}

func (c *Context) Parent() *Context { return c.parent }

func (c *Context) scope(s Scope) *bindings {
	switch s {
	case Private:
		return c.private
	case Public:
		return c.public
	case System:
		return c.system
	}
	return c.local
}

func (c *Context) lookupLocal(name string) (Object, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.local.get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup reads name from one scope without falling back to the others.
func (c *Context) Lookup(s Scope, name string) (Object, bool) {
	if s == Local {
		return c.lookupLocal(name)
	}
	return c.scope(s).get(name)
}

// Get resolves name, which may carry an explicit "scope:" prefix. Unscoped
// names search local, private, public, system and then bound resources.
func (c *Context) Get(name string) (Object, error) {
	if scope, bare, ok := strings.Cut(name, ":"); ok {
		s, err := ParseScope(scope)
		if err != nil {
			return nil, err
		}
		return c.GetScoped(s, bare)
	}
	for _, s := range SearchOrder {
		if v, ok := c.Lookup(s, name); ok {
			return v, nil
		}
	}
	if h, ok := c.Resource(name); ok {
		return &Resource{Handle: h}, nil
	}
	return nil, diag.New(diag.NameError, "name %q is not defined", name)
}

// GetScoped is Get for an explicit scope.
func (c *Context) GetScoped(s Scope, name string) (Object, error) {
	if v, ok := c.Lookup(s, name); ok {
		return v, nil
	}
	return nil, diag.New(diag.NameError, "%s:%s is not defined", s, name)
}

// Set binds name in scope s of this context. Local writes never reach the
// parent.
func (c *Context) Set(s Scope, name string, v Object) {
	c.scope(s).set(name, v)
}

// Has reports whether name resolves without error.
func (c *Context) Has(name string) bool {
	_, err := c.Get(name)
	return err == nil
}

// Snapshot copies one scope. For local it merges the parent chain, nearest
// binding winning.
func (c *Context) Snapshot(s Scope) map[string]Object {
	if s != Local {
		return c.scope(s).snapshot()
	}
	out := map[string]Object{}
	for ctx := c; ctx != nil; ctx = ctx.parent {
		for k, v := range ctx.local.snapshot() {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out
}

// BindResource retains h under name. A handle already bound under that
// name is released.
func (c *Context) BindResource(name string, h *resource.Handle) error {
	if err := h.Retain(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		h.Release()
		return fmt.Errorf("bind %s: context %d already released", name, c.ID)
	}
	old := c.resources[name]
	c.resources[name] = h
	c.mu.Unlock()
	if old != nil {
		return old.Release()
	}
	return nil
}

// UnbindResource drops this context's reference to name. The resource
// itself closes once no context holds it.
func (c *Context) UnbindResource(name string) error {
	c.mu.Lock()
	h, ok := c.resources[name]
	delete(c.resources, name)
	c.mu.Unlock()
	if !ok {
		return diag.New(diag.NameError, "resource %q is not bound", name)
	}
	return h.Release()
}

func (c *Context) Resource(name string) (*resource.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.resources[name]
	return h, ok
}

// ResourceNames lists bound resources, sorted.
func (c *Context) ResourceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.resources))
	for name := range c.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release drops this context's resource references. Calling it again is a
// no-op.
func (c *Context) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	held := c.resources
	c.resources = map[string]*resource.Handle{}
	c.mu.Unlock()

	var errs []error
	for name, h := range held {
		if err := h.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
