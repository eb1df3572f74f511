package compose

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"weave/internal/diag"
	"weave/internal/object"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func intFn(name string, f func(int64) int64) *object.Foreign {
	return &object.Foreign{
		FnName: name,
		Params: []string{"x"},
		Fn: func(_ context.Context, _ *object.Context, args []object.Object, _ map[string]object.Object) (object.Object, error) {
			return &object.Integer{Value: f(args[0].(*object.Integer).Value)}, nil
		},
	}
}

var (
	double = intFn("double", func(x int64) int64 { return x * 2 })
	addTen = intFn("add_ten", func(x int64) int64 { return x + 10 })
	triple = intFn("triple", func(x int64) int64 { return x * 3 })

	sumList = &object.Foreign{
		FnName: "sum_list",
		Params: []string{"xs"},
		Fn: func(_ context.Context, _ *object.Context, args []object.Object, _ map[string]object.Object) (object.Object, error) {
			var total int64
			for _, e := range args[0].(*object.List).Elements {
				total += e.(*object.Integer).Value
			}
			return &object.Integer{Value: total}, nil
		},
	}
)

func failing(name string, err error) *object.Foreign {
	return &object.Foreign{
		FnName: name,
		Fn: func(context.Context, *object.Context, []object.Object, map[string]object.Object) (object.Object, error) {
			return nil, err
		},
	}
}

func sleepy(name string, d time.Duration, out int64, started *atomic.Int32) *object.Foreign {
	return &object.Foreign{
		FnName: name,
		Fn: func(ctx context.Context, _ *object.Context, _ []object.Object, _ map[string]object.Object) (object.Object, error) {
			if started != nil {
				started.Add(1)
			}
			select {
			case <-time.After(d):
				return &object.Integer{Value: out}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func invoke(t *testing.T, c *Composed, in int64) object.Object {
	t.Helper()
	out, err := c.Invoke(context.Background(), object.NewContext(), &object.Integer{Value: in})
	require.NoError(t, err)
	return out
}

func TestDoubleFanOutSum(t *testing.T) {
	c, err := Build([]Stage{Single(double), Parallel(addTen, triple), Single(sumList)})
	require.NoError(t, err)
	assert.Equal(t, "50", invoke(t, c, 5).Inspect())
	assert.Equal(t, "double | [add_ten, triple] | sum_list", c.Name())

	// reusable across invocations
	assert.Equal(t, "50", invoke(t, c, 5).Inspect())
	assert.Equal(t, "10", invoke(t, c, 0).Inspect())
}

func TestAssociativity(t *testing.T) {
	ab, _ := Build([]Stage{Single(double), Single(addTen)})
	c, _ := Build([]Stage{Single(triple)})
	bc, _ := Build([]Stage{Single(addTen), Single(triple)})
	a, _ := Build([]Stage{Single(double)})

	left := ab.Then(c)
	right := a.Then(bc)
	for _, in := range []int64{-3, 0, 1, 7} {
		assert.Equal(t, invoke(t, left, in).Inspect(), invoke(t, right, in).Inspect())
	}
	assert.Equal(t, left.Name(), right.Name())
}

func TestParallelOrderIsDeclarationOrder(t *testing.T) {
	c, err := Build([]Stage{Parallel(
		sleepy("slow", 40*time.Millisecond, 1, nil),
		sleepy("medium", 20*time.Millisecond, 2, nil),
		sleepy("fast", 0, 3, nil),
	)})
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3]", invoke(t, c, 0).Inspect())
}

func TestParallelBlockNeedsTwoBranches(t *testing.T) {
	for _, branches := range [][]object.Callable{nil, {double}} {
		_, err := Build([]Stage{Single(double), Parallel(branches...)})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyParallel)
		assert.True(t, errors.Is(err, diag.Kinded(diag.CompositionError)))
		de, _ := diag.As(err)
		assert.Equal(t, "1", de.Stage)
	}
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestFailFastCancelsSiblings(t *testing.T) {
	boom := diag.New(diag.TypeError, "bad input")
	c, err := Build([]Stage{Single(double), Parallel(
		sleepy("slow", 5*time.Second, 1, nil),
		failing("bad", boom),
	)})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Invoke(context.Background(), object.NewContext(), &object.Integer{Value: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(err, diag.Kinded(diag.TypeError)))
	de, _ := diag.As(err)
	assert.Equal(t, "1", de.Stage)
	assert.Equal(t, "bad", de.Function)
}

func TestCollectPartial(t *testing.T) {
	c, err := Build([]Stage{Parallel(
		addTen,
		failing("bad", diag.New(diag.TransientError, "flaky")),
		triple,
	)}, WithFailurePolicy(CollectPartial))
	require.NoError(t, err)

	out := invoke(t, c, 1).(*object.List)
	require.Len(t, out.Elements, 3)
	assert.Equal(t, "11", out.Elements[0].Inspect())
	ev, ok := out.Elements[1].(*object.Error)
	require.True(t, ok)
	assert.Equal(t, diag.TransientError, ev.Kind)
	assert.Equal(t, "3", out.Elements[2].Inspect())
}

func TestBoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	track := &object.Foreign{
		FnName: "track",
		Fn: func(context.Context, *object.Context, []object.Object, map[string]object.Object) (object.Object, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return object.NONE, nil
		},
	}
	branches := make([]object.Callable, 12)
	for i := range branches {
		branches[i] = track
	}
	c, err := Build([]Stage{Parallel(branches...)}, WithMaxParallel(3))
	require.NoError(t, err)
	out := invoke(t, c, 0).(*object.List)
	assert.Len(t, out.Elements, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBranchesGetIsolatedLocalScope(t *testing.T) {
	writer := func(v int64) *object.Foreign {
		return &object.Foreign{
			FnName: "writer",
			Fn: func(_ context.Context, env *object.Context, _ []object.Object, _ map[string]object.Object) (object.Object, error) {
				env.Set(object.Local, "slot", &object.Integer{Value: v})
				time.Sleep(5 * time.Millisecond)
				return env.Get("slot")
			},
		}
	}
	c, err := Build([]Stage{Parallel(writer(1), writer(2), writer(3))})
	require.NoError(t, err)
	env := object.NewContext()
	out, err := c.Invoke(context.Background(), env, object.NONE)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3]", out.Inspect())
	_, err = env.Get("slot")
	assert.Error(t, err)
}

func TestOrchestrationSpreadsTuplesAndDicts(t *testing.T) {
	add := &object.Foreign{
		FnName: "add",
		Params: []string{"a", "b"},
		Fn: func(_ context.Context, _ *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
			if kwargs != nil {
				return &object.String{Value: kwargs["a"].Inspect() + "+" + kwargs["b"].Inspect()}, nil
			}
			return &object.String{Value: args[0].Inspect() + "+" + args[1].Inspect()}, nil
		},
	}
	c, err := Build([]Stage{Single(add)})
	require.NoError(t, err)
	env := object.NewContext()

	out, err := c.Invoke(context.Background(), env, &object.Tuple{Elements: []object.Object{&object.Integer{Value: 1}, &object.Integer{Value: 2}}})
	require.NoError(t, err)
	assert.Equal(t, "1+2", out.Inspect())

	d := object.NewDict().PutString("b", &object.Integer{Value: 4}).PutString("a", &object.Integer{Value: 3})
	out, err = c.Invoke(context.Background(), env, d)
	require.NoError(t, err)
	assert.Equal(t, "3+4", out.Inspect())

	_, _, ok := Spread([]string{"a", "b"}, object.NewDict().PutString("z", object.NONE))
	assert.False(t, ok)

	off, _ := Build([]Stage{Single(double)}, WithOrchestration(false))
	_, _, ok = Spread(off.ParamNames(), d)
	assert.False(t, ok)
}

func TestStageErrorCarriesIndexAndFunction(t *testing.T) {
	c, err := Build([]Stage{Single(double), Single(failing("explode", errors.New("raw failure")))})
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), object.NewContext(), &object.Integer{Value: 1})
	require.Error(t, err)
	de, ok := diag.As(err)
	require.True(t, ok)
	assert.Equal(t, diag.RuntimeError, de.Kind)
	assert.Equal(t, "1", de.Stage)
	assert.Equal(t, "explode", de.Function)
}

func TestCancelledContext(t *testing.T) {
	c, _ := Build([]Stage{Single(double)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, object.NewContext(), &object.Integer{Value: 1})
	assert.True(t, errors.Is(err, diag.Kinded(diag.TimeoutError)))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("partial")
	require.NoError(t, err)
	assert.Equal(t, CollectPartial, p)
	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
