package future

import (
	"context"
	"sync"
)

type result[T any] struct {
	v   T
	err error
}

// Future is a single-shot result that completes exactly once. The work runs
// under a child of the creating context; Cancel does not wait for it.
type Future[T any] struct {
	doneChannel chan struct{}
	res         result[T]
	once        sync.Once
	cancel      context.CancelFunc
}

// New runs fn in a goroutine under a child of ctx and completes the Future
// when fn returns.
func New[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	cctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{doneChannel: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		v, err := fn(cctx)
		f.complete(v, err)
	}()
	return f
}

// Await blocks until completion or until ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.doneChannel:
		return f.res.v, f.res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the work to stop.
func (f *Future[T]) Cancel() { f.cancel() }

// Done returns a channel closed when the Future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.doneChannel }

// complete sets the result exactly once and closes doneChannel.
func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.res = result[T]{v: v, err: err}
		close(f.doneChannel)
	})
}
