// Package compose builds reusable pipelines out of callables: sequential
// stages pass their output on, parallel blocks fan the same input out to
// every branch and collect results in declaration order.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/telemetry"
)

const COMPOSED_OBJ = "pipeline"

// DefaultMaxParallel bounds concurrent branches of one block.
const DefaultMaxParallel = 8

var (
	ErrNoStages      = errors.New("pipeline has no stages")
	ErrEmptyParallel = errors.New("parallel block needs at least two branches")
)

type FailurePolicy int

const (
	// FailFast cancels the block on the first branch error.
	FailFast FailurePolicy = iota
	// CollectPartial runs every branch and puts error values in failed slots.
	CollectPartial
)

func ParsePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(s) {
	case "", "fail_fast", "fail-fast":
		return FailFast, nil
	case "partial", "collect_partial":
		return CollectPartial, nil
	}
	return FailFast, fmt.Errorf("unknown failure policy %q", s)
}

func (p FailurePolicy) String() string {
	if p == CollectPartial {
		return "partial"
	}
	return "fail_fast"
}

// Stage is one callable, or a parallel block of two or more.
type Stage struct {
	Callables []object.Callable
	parallel  bool
}

func Single(fn object.Callable) Stage {
	return Stage{Callables: []object.Callable{fn}}
}

func Parallel(fns ...object.Callable) Stage {
	return Stage{Callables: fns, parallel: true}
}

func (s Stage) IsParallel() bool { return s.parallel }

func (s Stage) String() string {
	names := make([]string, len(s.Callables))
	for i, c := range s.Callables {
		names[i] = c.Name()
	}
	if s.parallel {
		return "[" + strings.Join(names, ", ") + "]"
	}
	return strings.Join(names, "")
}

type Option func(*Composed)

func WithMaxParallel(n int) Option {
	return func(c *Composed) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Composed) { c.policy = p }
}

// WithOrchestration toggles spreading tuple and dict inputs into parameters.
func WithOrchestration(on bool) Option {
	return func(c *Composed) { c.orchestrate = on }
}

// Composed is an immutable pipeline; one value may be invoked concurrently
// and repeatedly.
type Composed struct {
	stages      []Stage
	maxParallel int
	policy      FailurePolicy
	orchestrate bool
}

// Build validates the stages. Failures are CompositionErrors.
func Build(stages []Stage, opts ...Option) (*Composed, error) {
	if len(stages) == 0 {
		return nil, diag.Wrap(diag.CompositionError, ErrNoStages, "")
	}
	c := &Composed{
		stages:      make([]Stage, 0, len(stages)),
		maxParallel: DefaultMaxParallel,
		orchestrate: true,
	}
	for i, s := range stages {
		if s.parallel && len(s.Callables) < 2 {
			return nil, diag.Wrap(diag.CompositionError, ErrEmptyParallel,
				"parallel block at stage %d has %d branch(es), needs at least two", i, len(s.Callables)).
				WithStage(strconv.Itoa(i))
		}
		if len(s.Callables) == 0 {
			return nil, diag.New(diag.CompositionError, "stage %d is empty", i).WithStage(strconv.Itoa(i))
		}
		for _, fn := range s.Callables {
			if fn == nil {
				return nil, diag.New(diag.CompositionError, "stage %d has a nil callable", i).WithStage(strconv.Itoa(i))
			}
		}
		c.stages = append(c.stages, s)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Then appends other's stages; (a|b)|c and a|(b|c) produce the same stages.
func (c *Composed) Then(other *Composed) *Composed {
	stages := make([]Stage, 0, len(c.stages)+len(other.stages))
	stages = append(stages, c.stages...)
	stages = append(stages, other.stages...)
	return &Composed{stages: stages, maxParallel: c.maxParallel, policy: c.policy, orchestrate: c.orchestrate}
}

func (c *Composed) Stages() []Stage { return c.stages }

func (c *Composed) Type() object.ObjectType { return COMPOSED_OBJ }
func (c *Composed) Inspect() string         { return "<pipeline " + c.Name() + ">" }

func (c *Composed) Name() string {
	parts := make([]string, len(c.stages))
	for i, s := range c.stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}

func (c *Composed) ParamNames() []string {
	if first := c.stages[0]; !first.parallel {
		return first.Callables[0].ParamNames()
	}
	return nil
}

// Call feeds a single argument through as the input; several arguments
// arrive as a tuple.
func (c *Composed) Call(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
	var input object.Object
	switch {
	case len(kwargs) > 0:
		d := object.NewDict()
		for k, v := range kwargs {
			d.PutString(k, v)
		}
		input = d
	case len(args) == 1:
		input = args[0]
	case len(args) == 0:
		input = object.NONE
	default:
		input = &object.Tuple{Elements: args}
	}
	return c.Invoke(ctx, env, input)
}

// Invoke runs the pipeline on input.
func (c *Composed) Invoke(ctx context.Context, env *object.Context, input object.Object) (object.Object, error) {
	metrics := telemetry.MetricsFrom(ctx)
	value := input
	for i, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return nil, stageError(i, stage, diag.Wrap(diag.TimeoutError, err, "pipeline cancelled"))
		}
		kind := "sequential"
		if stage.parallel {
			kind = "parallel"
		}
		sctx, span := telemetry.StartSpan(ctx, "pipeline.stage",
			attribute.Int("stage", i),
			attribute.String("kind", kind),
			attribute.String("callables", stage.String()))
		start := time.Now()

		var out object.Object
		var err error
		if stage.parallel {
			out, err = c.runParallel(sctx, env, stage, value)
		} else {
			out, err = c.apply(sctx, env, stage.Callables[0], value)
		}
		metrics.RecordStage(kind, time.Since(start), err)
		telemetry.EndSpan(span, err)
		if err != nil {
			return nil, stageError(i, stage, err)
		}
		slog.Debug("pipeline stage done",
			slog.Int("stage", i),
			slog.String("kind", kind),
			slog.Duration("elapsed", time.Since(start)))
		value = out
	}
	return value, nil
}

func stageError(i int, stage Stage, err error) error {
	de := diag.Ensure(err).WithStage(strconv.Itoa(i))
	if !stage.parallel {
		de.WithFunction(stage.Callables[0].Name())
	}
	return de
}

// apply calls fn with input, spreading tuples and dicts into parameters when
// orchestration is on and their shape matches fn's signature.
func (c *Composed) apply(ctx context.Context, env *object.Context, fn object.Callable, input object.Object) (object.Object, error) {
	if c.orchestrate {
		if args, kwargs, ok := Spread(fn.ParamNames(), input); ok {
			return fn.Call(ctx, env, args, kwargs)
		}
	}
	return fn.Call(ctx, env, []object.Object{input}, nil)
}

// Spread maps input onto params: a tuple whose length equals the number of
// parameters becomes positional arguments, a dict whose string keys all name
// parameters becomes keyword arguments. Both need at least two parameters.
func Spread(params []string, input object.Object) ([]object.Object, map[string]object.Object, bool) {
	if len(params) < 2 {
		return nil, nil, false
	}
	switch v := input.(type) {
	case *object.Tuple:
		if len(v.Elements) == len(params) {
			return v.Elements, nil, true
		}
	case *object.Dict:
		if v.Len() == 0 || !v.StringKeys() {
			return nil, nil, false
		}
		known := make(map[string]bool, len(params))
		for _, p := range params {
			known[p] = true
		}
		kwargs := make(map[string]object.Object, v.Len())
		for _, pair := range v.Items() {
			name := pair.Key.(*object.String).Value
			if !known[name] {
				return nil, nil, false
			}
			kwargs[name] = pair.Value
		}
		return nil, kwargs, true
	}
	return nil, nil, false
}

func (c *Composed) runParallel(ctx context.Context, env *object.Context, stage Stage, input object.Object) (object.Object, error) {
	results := make([]object.Object, len(stage.Callables))
	sem := semaphore.NewWeighted(int64(c.maxParallel))
	g, gctx := errgroup.WithContext(ctx)

	var acquireErr error
	for i, fn := range stage.Callables {
		i, fn := i, fn
		if err := sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			child := env.DeriveChild()
			defer child.Release()

			out, err := c.apply(gctx, child, fn, input)
			if err != nil {
				err = diag.Ensure(err).WithFunction(fn.Name())
				if c.policy == CollectPartial {
					results[i] = object.ErrorFrom(err)
					return nil
				}
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if acquireErr != nil {
		return nil, diag.Wrap(diag.TimeoutError, acquireErr, "parallel block cancelled")
	}
	return &object.List{Elements: results}, nil
}
