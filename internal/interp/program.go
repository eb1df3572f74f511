package interp

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"weave/internal/builtins"
	"weave/internal/diag"
	"weave/internal/normalize"
	"weave/internal/object"
	"weave/internal/poet"
	"weave/internal/registry"
	"weave/internal/telemetry"
)

// ExecutionResult is what one program run leaves behind.
type ExecutionResult struct {
	ID          uuid.UUID
	Value       object.Object
	Context     *object.Context
	Diagnostics []diag.Diagnostic
	Calls       []*poet.Meta
}

// ExecuteProgram parses, normalizes and runs src. When initial is nil a
// fresh root context is created and its resources are released before
// returning; a caller-supplied context stays owned by the caller. The result
// is always returned, also alongside an error, so diagnostics and the final
// context can be inspected.
func ExecuteProgram(ctx context.Context, src string, initial *object.Context, opts Options) (*ExecutionResult, error) {
	res := &ExecutionResult{ID: uuid.New(), Value: object.NONE, Context: initial}
	if res.Context == nil {
		res.Context = object.NewContext()
		defer func() {
			if err := res.Context.Release(); err != nil {
				slog.Warn("failed to release program context", slog.Any("error", err))
			}
		}()
	}

	if opts.Metrics == nil {
		opts.Metrics = telemetry.MetricsFrom(ctx)
	}
	metrics := opts.Metrics
	ctx = telemetry.WithMetrics(ctx, metrics)
	ctx, span := telemetry.StartSpan(ctx, "weave.program", attribute.String("execution_id", res.ID.String()))
	start := time.Now()

	value, err := run(ctx, src, res, opts)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, diag.FromError(err))
		metrics.RecordError(string(diag.KindOf(err)))
	} else {
		res.Value = value
	}
	metrics.RecordProgram(time.Since(start), err)
	telemetry.EndSpan(span, err)
	slog.Debug("program finished",
		slog.String("execution_id", res.ID.String()),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("diagnostics", len(res.Diagnostics)),
		slog.Any("error", err))
	return res, err
}

func run(ctx context.Context, src string, res *ExecutionResult, opts Options) (object.Object, error) {
	program, err := normalize.Source(src)
	if err != nil {
		return nil, err
	}
	engine, err := New(opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		res.Diagnostics = engine.Diagnostics()
		res.Calls = engine.Calls()
	}()

	metrics := opts.Metrics
	engine.Registry().OnResolve(func(_ registry.Key, source registry.Source, p registry.Priority) {
		metrics.RecordDispatch(string(source), p.String())
	})

	env := res.Context
	env.Set(object.System, "execution_id", &object.String{Value: res.ID.String()})
	env.Set(object.System, "started_at", &object.String{Value: time.Now().UTC().Format(time.RFC3339)})
	if opts.Version != "" {
		env.Set(object.System, "version", &object.String{Value: opts.Version})
	}
	return engine.Execute(engine.bind(ctx), program, env)
}

// Eval normalizes src and runs it in env. Definitions land in the engine's
// session registry, so successive calls see each other's functions.
func (e *Engine) Eval(ctx context.Context, src string, env *object.Context) (object.Object, error) {
	program, err := normalize.Source(src)
	if err != nil {
		return nil, err
	}
	return e.Execute(e.bind(ctx), program, env)
}

func (e *Engine) bind(ctx context.Context) context.Context {
	ctx = registry.WithRegistry(ctx, e.registry)
	if e.opts.Metrics != nil && telemetry.MetricsFrom(ctx) == nil {
		ctx = telemetry.WithMetrics(ctx, e.opts.Metrics)
	}
	if e.opts.Stdout != nil {
		ctx = builtins.WithOutput(ctx, e.opts.Stdout)
	}
	return ctx
}
