// Package telemetry carries Prometheus metrics and OpenTelemetry tracing for
// program runs. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" toml:"namespace"`
	Addr      string `yaml:"addr" toml:"addr"`
}

type Metrics struct {
	config MetricsConfig

	programs        *prometheus.CounterVec
	programDuration prometheus.Histogram
	dispatches      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	parallelBlocks  *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	errorsByKind    *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "weave"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		programs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "programs_total",
			Help:      "Programs executed, by outcome",
		}, []string{"outcome"}),
		programDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "program_duration_seconds",
			Help:      "Wall time of program executions",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatch_total",
			Help:      "Function resolutions, by source and priority class",
		}, []string{"source", "class"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of composed pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		parallelBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "parallel_blocks_total",
			Help:      "Parallel blocks executed, by outcome",
		}, []string{"outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "poet_phase_duration_seconds",
			Help:      "Duration of decorated call phases",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "phase", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "poet_retries_total",
			Help:      "Operate retries performed",
		}, []string{"function"}),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Errors surfaced to callers, by kind",
		}, []string{"kind"}),
	}
	collectors := []prometheus.Collector{
		m.programs, m.programDuration, m.dispatches, m.stageDuration,
		m.parallelBlocks, m.phaseDuration, m.retries, m.errorsByKind,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordProgram(d time.Duration, err error) {
	if m == nil || m.programs == nil {
		return
	}
	m.programs.WithLabelValues(outcome(err)).Inc()
	m.programDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordDispatch(source, class string) {
	if m == nil || m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(source, class).Inc()
}

func (m *Metrics) RecordStage(kind string, d time.Duration, err error) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(kind, outcome(err)).Observe(d.Seconds())
	if kind == "parallel" {
		m.parallelBlocks.WithLabelValues(outcome(err)).Inc()
	}
}

func (m *Metrics) RecordPhase(function, phase string, d time.Duration, err error) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(function, phase, outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(function string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(function).Inc()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Registry exposes the private registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on cfg.Addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context) error {
	if m == nil || !m.config.Enabled || m.config.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: m.config.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics server listening", slog.String("addr", m.config.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type metricsKey struct{}

func WithMetrics(ctx context.Context, m *Metrics) context.Context {
	return context.WithValue(ctx, metricsKey{}, m)
}

// MetricsFrom returns the metrics attached to ctx, or nil.
func MetricsFrom(ctx context.Context) *Metrics {
	m, _ := ctx.Value(metricsKey{}).(*Metrics)
	return m
}
