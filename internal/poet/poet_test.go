package poet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
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

func fn(name string, body func(ctx context.Context, args []object.Object) (object.Object, error)) *object.Foreign {
	return &object.Foreign{
		FnName: name,
		Params: []string{"x"},
		Fn: func(ctx context.Context, _ *object.Context, args []object.Object, _ map[string]object.Object) (object.Object, error) {
			return body(ctx, args)
		},
	}
}

func counting(calls *atomic.Int32, body func(ctx context.Context, args []object.Object) (object.Object, error)) *object.Foreign {
	return fn("target", func(ctx context.Context, args []object.Object) (object.Object, error) {
		calls.Add(1)
		return body(ctx, args)
	})
}

func quick(retries int) Config {
	return Config{
		Retries: retries,
		Timeout: time.Second,
		Backoff: Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
	}
}

func one(v int64) []object.Object { return []object.Object{&object.Integer{Value: v}} }

func invoke(t *testing.T, d *Decorated, args []object.Object) (*Result, error) {
	t.Helper()
	return d.Invoke(context.Background(), object.NewContext(), args, nil)
}

func TestPhaseOrdering(t *testing.T) {
	double := fn("double", func(_ context.Context, args []object.Object) (object.Object, error) {
		return &object.Integer{Value: args[0].(*object.Integer).Value * 2}, nil
	})

	d, err := Decorate(double, quick(1))
	require.NoError(t, err)
	res, err := invoke(t, d, one(4))
	require.NoError(t, err)
	assert.Equal(t, "8", res.Value.Inspect())
	assert.Equal(t, []string{"perceive", "operate", "enforce"}, res.Meta.PhaseNames())
	assert.Equal(t, 1, res.Meta.Attempts)

	cfg := quick(1)
	cfg.Train = true
	d, err = Decorate(double, cfg)
	require.NoError(t, err)
	res, err = invoke(t, d, one(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"perceive", "operate", "enforce", "train"}, res.Meta.PhaseNames())
}

func TestRetryBound(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		var calls atomic.Int32
		flaky := counting(&calls, func(context.Context, []object.Object) (object.Object, error) {
			return nil, diag.New(diag.TransientError, "upstream busy")
		})
		d, err := Decorate(flaky, quick(retries))
		require.NoError(t, err)

		_, err = invoke(t, d, one(1))
		require.Error(t, err)
		assert.Equal(t, int32(retries+1), calls.Load())
		assert.True(t, errors.Is(err, &diag.Error{Kind: diag.TransientError, Phase: PhaseOperate}))

		var pe *PhaseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, retries+1, pe.Meta.Attempts)
		assert.Equal(t, retries, pe.Meta.Retries)
		assert.Equal(t, []string{"perceive", "operate"}, pe.Meta.PhaseNames())
	}
}

func TestRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	flaky := counting(&calls, func(context.Context, []object.Object) (object.Object, error) {
		if calls.Load() < 3 {
			return nil, diag.New(diag.TransientError, "not yet")
		}
		return &object.String{Value: "done"}, nil
	})
	d, err := Decorate(flaky, quick(5))
	require.NoError(t, err)
	res, err := invoke(t, d, one(1))
	require.NoError(t, err)
	assert.Equal(t, "done", res.Value.Inspect())
	assert.Equal(t, 3, res.Meta.Attempts)
	assert.Equal(t, 2, res.Meta.Retries)
}

func TestNonRetryableFailsAtOnce(t *testing.T) {
	var calls atomic.Int32
	bad := counting(&calls, func(context.Context, []object.Object) (object.Object, error) {
		return nil, diag.New(diag.TypeError, "cannot add str and int")
	})
	d, err := Decorate(bad, quick(4))
	require.NoError(t, err)
	_, err = invoke(t, d, one(1))
	assert.True(t, errors.Is(err, diag.Kinded(diag.TypeError)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPerceiveIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	target := counting(&calls, func(context.Context, []object.Object) (object.Object, error) {
		return object.NONE, nil
	})
	cfg := quick(3)
	cfg.Perceive = []string{"not_null", "numeric"}
	d, err := Decorate(target, cfg)
	require.NoError(t, err)

	_, err = invoke(t, d, []object.Object{object.NONE})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &diag.Error{Kind: diag.ValidationError, Phase: PhasePerceive}))
	assert.Zero(t, calls.Load())
	assert.Contains(t, err.Error(), "perceive rule not_null failed for argument 1")
}

func TestEnforceRejectsNone(t *testing.T) {
	nothing := fn("lookup", func(context.Context, []object.Object) (object.Object, error) {
		return object.NONE, nil
	})
	cfg := quick(2)
	cfg.Enforce = []string{"not_null"}
	d, err := Decorate(nothing, cfg)
	require.NoError(t, err)

	_, err = invoke(t, d, one(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &diag.Error{Kind: diag.ValidationError, Phase: PhaseEnforce}))
	assert.False(t, errors.Is(err, &diag.Error{Kind: diag.ValidationError, Phase: PhaseOperate}))

	de, ok := diag.As(err)
	require.True(t, ok)
	assert.Equal(t, "lookup", de.Function)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"perceive", "operate", "enforce"}, pe.Meta.PhaseNames())
	assert.Equal(t, 1, pe.Meta.Attempts)
}

func TestOperateTimeout(t *testing.T) {
	var calls atomic.Int32
	stuck := counting(&calls, func(ctx context.Context, _ []object.Object) (object.Object, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := quick(2)
	cfg.Timeout = 15 * time.Millisecond
	d, err := Decorate(stuck, cfg)
	require.NoError(t, err)

	_, err = invoke(t, d, one(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &diag.Error{Kind: diag.TimeoutError, Phase: PhaseOperate}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTrainFailureIsSwallowed(t *testing.T) {
	id := fn("id", func(_ context.Context, args []object.Object) (object.Object, error) { return args[0], nil })
	cfg := quick(0)
	cfg.Train = true
	learner := NewLearner()
	d, err := Decorate(id, cfg, WithTrainer(Trainers{learner, failingTrainer{}}))
	require.NoError(t, err)

	res, err := invoke(t, d, one(7))
	require.NoError(t, err)
	assert.Equal(t, "7", res.Value.Inspect())
	train := res.Meta.Phases[3]
	assert.Equal(t, PhaseTrain, train.Phase)
	assert.Contains(t, train.Err, "disk full")

	stats, ok := learner.Stats("id")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Calls)
	assert.Equal(t, 3*stats.MeanLatency, stats.SuggestedTimeout())
}

type failingTrainer struct{}

func (failingTrainer) Train(context.Context, Feedback) error { return errors.New("disk full") }

func TestOutputTypeAndValidateRule(t *testing.T) {
	price := fn("price", func(_ context.Context, args []object.Object) (object.Object, error) { return args[0], nil })
	cfg := quick(0)
	cfg.Enforce = []string{"numeric", "validate:gte=0,lte=100"}
	cfg.OutputType = "float"
	d, err := Decorate(price, cfg)
	require.NoError(t, err)

	res, err := invoke(t, d, one(42))
	require.NoError(t, err)
	assert.Equal(t, "42.0", res.Value.Inspect())

	_, err = invoke(t, d, one(420))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &diag.Error{Kind: diag.ValidationError, Phase: PhaseEnforce}))
	assert.Contains(t, err.Error(), `"lte"`)
}

func TestObserverSeesFailures(t *testing.T) {
	var seen []*Meta
	bad := fn("bad", func(context.Context, []object.Object) (object.Object, error) {
		return nil, errors.New("boom")
	})
	d, err := Decorate(bad, quick(0), WithObserver(func(m *Meta) { seen = append(seen, m) }))
	require.NoError(t, err)
	_, err = invoke(t, d, one(1))
	require.Error(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "bad", seen[0].Function)
	attempts, ok := seen[0].ToObject().GetString("attempts")
	require.True(t, ok)
	assert.Equal(t, "1", attempts.Inspect())
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.Delay(1))
	assert.Equal(t, 20*time.Millisecond, b.Delay(2))
	assert.Equal(t, 40*time.Millisecond, b.Delay(3))
	assert.Equal(t, 50*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))

	tripled := Backoff{Base: time.Millisecond, Multiplier: 3}
	assert.Equal(t, 9*time.Millisecond, tripled.Delay(3))
}

func ptr[T any](v T) *T { return &v }

func TestResolvePresets(t *testing.T) {
	cat := DefaultCatalog()

	cfg, err := cat.Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Retries)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Base)

	cfg, err = cat.Resolve(Overrides{Presets: []string{"financial_services"}})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, "float", cfg.OutputType)
	assert.Equal(t, []string{"financial_services"}, cfg.Presets)

	// later presets win
	cfg, err = cat.Resolve(Overrides{Presets: []string{"financial_services", "fast"}})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retries)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "float", cfg.OutputType)

	// explicit settings win over every preset
	cfg, err = cat.Resolve(Overrides{
		Presets: []string{"resilient", "healthcare"},
		Retries: ptr(7),
		Timeout: ptr(2500 * time.Millisecond),
		Enforce: []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retries)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Empty(t, cfg.Enforce)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Base)
}

func TestResolveRejectsInvalid(t *testing.T) {
	cat := DefaultCatalog()
	tests := []struct {
		name string
		ov   Overrides
		msg  string
	}{
		{"negative retries", Overrides{Retries: ptr(-1)}, "retries must be >= 0"},
		{"zero timeout", Overrides{Timeout: ptr(time.Duration(0))}, "timeout must be > 0"},
		{"unknown preset", Overrides{Presets: []string{"astrology"}}, `unknown poet preset "astrology"`},
		{"unknown rule", Overrides{Perceive: []string{"shiny"}}, `unknown poet rule "shiny"`},
		{"unknown output type", Overrides{OutputType: ptr("xml")}, `unknown output_type "xml"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cat.Resolve(tc.ov)
			require.Error(t, err)
			assert.True(t, errors.Is(err, diag.Kinded(diag.ConfigError)))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	_, err := Decorate(fn("f", nil), Config{Timeout: -time.Second})
	assert.True(t, errors.Is(err, diag.Kinded(diag.ConfigError)))
}

func TestCatalogFileExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domains:\n  retail:\n    retries: 4\n    timeout: 3s\n"), 0o644))

	cat := DefaultCatalog()
	require.NoError(t, cat.LoadCatalogFile(path))
	cfg, err := cat.Resolve(Overrides{Presets: []string{"retail"}})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retries)
	assert.Contains(t, cat.Names(), "retail")

	_, err = ParseCatalog([]byte("behaviors:\n  x: {}\ndomains:\n  x: {}\n"))
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feedback.db")
	store, err := OpenStore(ctx, path)
	require.NoError(t, err)

	id := fn("score", func(_ context.Context, args []object.Object) (object.Object, error) { return args[0], nil })
	cfg := quick(0)
	cfg.Train = true
	cfg.Presets = []string{"ml_monitoring"}
	d, err := Decorate(id, cfg, WithTrainer(store))
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		_, err := invoke(t, d, one(i))
		require.NoError(t, err)
	}

	rows, err := store.Recent(ctx, "score", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ml_monitoring"}, rows[0].Presets)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Len(t, rows[0].Phases, 3)
	require.NoError(t, store.Close())

	// reopening finds the schema already migrated
	again, err := OpenStore(ctx, path)
	require.NoError(t, err)
	rows, err = again.Recent(ctx, "score", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	require.NoError(t, again.Close())
}
