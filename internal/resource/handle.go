// Package resource holds external resources (database connections, files)
// that scripts bind into a context. Handles are reference counted; the last
// Release runs the teardown exactly once.
package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrReleased = errors.New("resource already released")

var nextHandleID atomic.Int64

type Handle struct {
	ID   int64
	Name string
	Kind string

	value    any
	teardown func() error

	refs atomic.Int64
	once sync.Once
	err  error
}

// New returns a handle holding one reference, owned by the caller.
func New(name, kind string, value any, teardown func() error) *Handle {
	h := &Handle{
		ID:       nextHandleID.Add(1),
		Name:     name,
		Kind:     kind,
		value:    value,
		teardown: teardown,
	}
	h.refs.Store(1)
	return h
}

// Value is the wrapped resource, e.g. *SQL.
func (h *Handle) Value() any { return h.value }

func (h *Handle) Refs() int64 { return h.refs.Load() }

func (h *Handle) Closed() bool { return h.refs.Load() <= 0 }

// Retain adds a reference. It fails once the handle has been torn down.
func (h *Handle) Retain() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%s %q: %w", h.Kind, h.Name, ErrReleased)
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference; dropping the last one tears the resource down.
func (h *Handle) Release() error {
	n := h.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		h.refs.Store(0)
		return fmt.Errorf("%s %q: %w", h.Kind, h.Name, ErrReleased)
	}
	h.once.Do(func() {
		slog.Debug("releasing resource",
			slog.String("name", h.Name),
			slog.String("kind", h.Kind),
			slog.Int64("id", h.ID))
		if h.teardown != nil {
			h.err = h.teardown()
		}
	})
	return h.err
}

func (h *Handle) String() string {
	return fmt.Sprintf("<%s %s #%d>", h.Kind, h.Name, h.ID)
}
