// Package poet wraps a callable in four ordered phases: Perceive validates
// the inputs, Operate calls it under a timeout with bounded retries, Enforce
// validates and formats the output and the optional Train phase learns from
// the call.
package poet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/telemetry"
	"weave/internal/util/future"
)

const DECORATED_OBJ = "poet"

const (
	PhasePerceive = diag.PhasePerceive
	PhaseOperate  = diag.PhaseOperate
	PhaseEnforce  = diag.PhaseEnforce
	PhaseTrain    = diag.PhaseTrain
)

type PhaseTiming struct {
	Phase   diag.Phase    `json:"phase"`
	Elapsed time.Duration `json:"elapsed"`
	Err     string        `json:"error,omitempty"`
}

// Meta describes one decorated call. Phases are in execution order.
type Meta struct {
	Function string
	Presets  []string
	Attempts int
	Retries  int
	Phases   []PhaseTiming
}

func (m *Meta) record(p diag.Phase, start time.Time, err error) {
	t := PhaseTiming{Phase: p, Elapsed: time.Since(start)}
	if err != nil {
		t.Err = err.Error()
	}
	m.Phases = append(m.Phases, t)
}

// Elapsed sums the phase timings.
func (m *Meta) Elapsed() time.Duration {
	var total time.Duration
	for _, p := range m.Phases {
		total += p.Elapsed
	}
	return total
}

// PhaseNames lists the phases that ran, in order.
func (m *Meta) PhaseNames() []string {
	names := make([]string, len(m.Phases))
	for i, p := range m.Phases {
		names[i] = string(p.Phase)
	}
	return names
}

// ToObject renders the metadata as a script value.
func (m *Meta) ToObject() *object.Dict {
	timings := object.NewDict()
	for _, p := range m.Phases {
		timings.PutString(string(p.Phase), &object.Float{Value: p.Elapsed.Seconds()})
	}
	presets := make([]object.Object, len(m.Presets))
	for i, p := range m.Presets {
		presets[i] = &object.String{Value: p}
	}
	return object.NewDict().
		PutString("function", &object.String{Value: m.Function}).
		PutString("presets", &object.List{Elements: presets}).
		PutString("attempts", &object.Integer{Value: int64(m.Attempts)}).
		PutString("retries", &object.Integer{Value: int64(m.Retries)}).
		PutString("phases", timings)
}

// Result carries the value of a successful call with its metadata.
type Result struct {
	Value object.Object
	Meta  *Meta
}

// PhaseError is a failed decorated call with the metadata gathered so far.
type PhaseError struct {
	Err  *diag.Error
	Meta *Meta
}

func (e *PhaseError) Error() string { return e.Err.Error() }
func (e *PhaseError) Unwrap() error { return e.Err }

type Option func(*Decorated)

// WithTrainer replaces the default in-memory learner.
func WithTrainer(t Trainer) Option {
	return func(d *Decorated) { d.trainer = t }
}

// WithObserver is called with the metadata of every call, failed or not.
func WithObserver(fn func(*Meta)) Option {
	return func(d *Decorated) { d.observe = fn }
}

// Decorated is a callable wrapped in the four phases. It is safe for
// concurrent use.
type Decorated struct {
	fn       object.Callable
	cfg      Config
	perceive []Rule
	enforce  []Rule
	format   func(object.Object) (object.Object, error)
	trainer  Trainer
	observe  func(*Meta)
}

// Decorate wraps fn. cfg must already be resolved; invalid configurations
// are ConfigErrors.
func Decorate(fn object.Callable, cfg Config, opts ...Option) (*Decorated, error) {
	if fn == nil {
		return nil, diag.New(diag.ConfigError, "poet: nothing to decorate")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decorated{fn: fn, cfg: cfg}
	d.perceive, _ = ParseRules(cfg.Perceive)
	d.enforce, _ = ParseRules(cfg.Enforce)
	if cfg.OutputType != "" {
		d.format = formatters[cfg.OutputType]
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Train && d.trainer == nil {
		d.trainer = NewLearner()
	}
	return d, nil
}

func (d *Decorated) Config() Config          { return d.cfg }
func (d *Decorated) Unwrap() object.Callable { return d.fn }

func (d *Decorated) Type() object.ObjectType { return DECORATED_OBJ }
func (d *Decorated) Inspect() string {
	if len(d.cfg.Presets) == 0 {
		return "<poet " + d.fn.Name() + ">"
	}
	return "<poet " + d.fn.Name() + " [" + strings.Join(d.cfg.Presets, ", ") + "]>"
}
func (d *Decorated) Name() string         { return d.fn.Name() }
func (d *Decorated) ParamNames() []string { return d.fn.ParamNames() }

func (d *Decorated) Call(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
	res, err := d.Invoke(ctx, env, args, kwargs)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Invoke runs Perceive, Operate, Enforce and, when enabled, Train. The error,
// if any, is a *PhaseError whose diag.Error names the failing phase.
func (d *Decorated) Invoke(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (*Result, error) {
	name := d.fn.Name()
	meta := &Meta{Function: name, Presets: d.cfg.Presets}
	ctx, span := telemetry.StartSpan(ctx, "poet.call",
		attribute.String("function", name),
		attribute.StringSlice("presets", d.cfg.Presets),
		attribute.Int("retries", d.cfg.Retries),
		attribute.String("timeout", d.cfg.Timeout.String()))

	res, err := d.run(ctx, env, args, kwargs, meta)
	if d.observe != nil {
		d.observe(meta)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Decorated) run(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object, meta *Meta) (*Result, error) {
	var out object.Object
	steps := []struct {
		phase diag.Phase
		run   func(context.Context) error
	}{
		{PhasePerceive, func(context.Context) error { return d.runPerceive(args, kwargs) }},
		{PhaseOperate, func(ctx context.Context) (err error) {
			out, err = d.runOperate(ctx, env, args, kwargs, meta)
			return err
		}},
		{PhaseEnforce, func(context.Context) (err error) {
			out, err = d.runEnforce(out)
			return err
		}},
	}
	for _, step := range steps {
		if err := d.phase(ctx, step.phase, meta, step.run); err != nil {
			de := diag.Ensure(err).WithFunction(meta.Function)
			if de.Phase == "" {
				de.WithPhase(step.phase)
			}
			return nil, &PhaseError{Err: de, Meta: meta}
		}
	}
	if d.cfg.Train {
		// best effort: the outcome never depends on training
		_ = d.phase(ctx, PhaseTrain, meta, func(ctx context.Context) error {
			err := d.trainer.Train(ctx, newFeedback(meta, args, kwargs, out))
			if err != nil {
				slog.Warn("poet train phase failed",
					slog.String("function", meta.Function),
					slog.String("error", err.Error()))
			}
			return err
		})
	}
	return &Result{Value: out, Meta: meta}, nil
}

func (d *Decorated) phase(ctx context.Context, p diag.Phase, meta *Meta, fn func(context.Context) error) error {
	pctx := ctx
	var span trace.Span
	if d.cfg.Trace {
		pctx, span = telemetry.StartSpan(ctx, "poet."+string(p))
	}
	start := time.Now()
	err := fn(pctx)
	d.finishPhase(ctx, p, meta, start, err)
	if span != nil {
		telemetry.EndSpan(span, err)
	}
	return err
}

func (d *Decorated) finishPhase(ctx context.Context, p diag.Phase, meta *Meta, start time.Time, err error) {
	meta.record(p, start, err)
	elapsed := meta.Phases[len(meta.Phases)-1].Elapsed
	telemetry.MetricsFrom(ctx).RecordPhase(meta.Function, string(p), elapsed, err)
	level := slog.LevelDebug
	if d.cfg.Debug {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "poet phase",
		slog.String("function", meta.Function),
		slog.String("phase", string(p)),
		slog.Duration("elapsed", elapsed),
		slog.Bool("ok", err == nil))
}

func (d *Decorated) runPerceive(args []object.Object, kwargs map[string]object.Object) error {
	for _, r := range d.perceive {
		for i, a := range args {
			if err := r.Check(a); err != nil {
				return diag.New(diag.ValidationError, "perceive rule %s failed for argument %d: %v", r.Name, i+1, err)
			}
		}
		for k, a := range kwargs {
			if err := r.Check(a); err != nil {
				return diag.New(diag.ValidationError, "perceive rule %s failed for argument %s: %v", r.Name, k, err)
			}
		}
	}
	return nil
}

func (d *Decorated) runOperate(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object, meta *Meta) (object.Object, error) {
	metrics := telemetry.MetricsFrom(ctx)
	for attempt := 0; ; attempt++ {
		meta.Attempts++
		out, err := d.attempt(ctx, env, args, kwargs)
		if err == nil {
			return out, nil
		}
		if !diag.IsRetryable(err) || attempt >= d.cfg.Retries {
			return nil, err
		}
		meta.Retries++
		metrics.RecordRetry(meta.Function)
		delay := d.cfg.Backoff.Delay(attempt + 1)
		slog.Debug("poet retrying operate",
			slog.String("function", meta.Function),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if err := sleep(ctx, delay); err != nil {
			return nil, diag.Wrap(diag.TimeoutError, err, "retry of %s cancelled", meta.Function)
		}
	}
}

// attempt makes one call bounded by the configured timeout. A callee that
// ignores cancellation keeps running; its result is dropped.
func (d *Decorated) attempt(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	f := future.New(actx, func(c context.Context) (object.Object, error) {
		return d.fn.Call(c, env, args, kwargs)
	})
	out, err := f.Await(actx)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, diag.Wrap(diag.TimeoutError, err, "%s timed out after %s", d.fn.Name(), d.cfg.Timeout)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, diag.Wrap(diag.TimeoutError, err, "%s cancelled", d.fn.Name())
	}
	return nil, err
}

func (d *Decorated) runEnforce(out object.Object) (object.Object, error) {
	if out == nil {
		out = object.NONE
	}
	for _, r := range d.enforce {
		if err := r.Check(out); err != nil {
			return nil, diag.New(diag.ValidationError, "enforce rule %s failed: %v", r.Name, err)
		}
	}
	if d.format != nil {
		formatted, err := d.format(out)
		if err != nil {
			return nil, diag.New(diag.ValidationError, "output_type %s: %v", d.cfg.OutputType, err)
		}
		out = formatted
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Meta) String() string {
	return fmt.Sprintf("%s attempts=%d retries=%d phases=%s", m.Function, m.Attempts, m.Retries, strings.Join(m.PhaseNames(), ","))
}
