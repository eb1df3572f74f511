package commands

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"weave/internal/config"
	"weave/internal/interp"
	"weave/internal/poet"
	"weave/internal/telemetry"
)

// runtime holds the process-wide services one command shares across every
// program it executes.
type runtime struct {
	cfg     config.Configuration
	opts    interp.Options
	tracer  *telemetry.Tracer
	learner *poet.Learner
	store   *poet.Store
	stop    context.CancelFunc
	serving errgroup.Group
}

func newRuntime(ctx context.Context, cfg config.Configuration, stdout io.Writer) (*runtime, error) {
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	tracer, err := telemetry.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, tracer: tracer}

	catalog := poet.DefaultCatalog()
	if cfg.Poet.Presets != "" {
		if err := catalog.LoadCatalogFile(cfg.Poet.Presets); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}

	var trainers poet.Trainers
	if cfg.Poet.Learn {
		rt.learner = poet.NewLearner()
		trainers = append(trainers, rt.learner)
	}
	if cfg.Store.Path != "" {
		store, err := poet.OpenStore(ctx, cfg.Store.Path)
		if err != nil {
			rt.close(ctx)
			return nil, err
		}
		rt.store = store
		trainers = append(trainers, store)
	}

	rt.opts = interp.Options{
		Root:            cfg.Runtime.RootPath,
		LibPath:         cfg.LibPath(),
		MaxCallDepth:    cfg.Runtime.MaxCallDepth,
		MaxParallel:     cfg.Runtime.MaxParallel,
		FailurePolicy:   cfg.FailurePolicy(),
		NoOrchestration: cfg.Runtime.NoOrchestration,
		Catalog:         catalog,
		Stdout:          stdout,
		Metrics:         metrics,
		Version:         cfg.Version,
	}
	if len(trainers) > 0 {
		rt.opts.Trainer = trainers
	}

	serveCtx, stop := context.WithCancel(ctx)
	rt.stop = stop
	rt.serving.Go(func() error { return metrics.Serve(serveCtx) })
	return rt, nil
}

// withTimeout applies runtime.timeout to one program run.
func (rt *runtime) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := rt.cfg.Runtime.Timeout.Std(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (rt *runtime) close(ctx context.Context) {
	if rt.stop != nil {
		rt.stop()
		if err := rt.serving.Wait(); err != nil {
			slog.Warn("metrics server failed", slog.Any("error", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("failed to close feedback store", slog.Any("error", err))
		}
	}
	if err := rt.tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to flush traces", slog.Any("error", err))
	}
}
