package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNilAndDisabledMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordProgram(time.Second, nil)
	m.RecordRetry("f")
	assert.Nil(t, m.Registry())

	disabled, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	disabled.RecordPhase("f", "operate", time.Millisecond, nil)
	assert.Nil(t, disabled.Registry())
	assert.Nil(t, MetricsFrom(context.Background()))
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.RecordRetry("price")
	m.RecordRetry("price")
	m.RecordStage("parallel", time.Millisecond, errors.New("x"))
	m.RecordDispatch("registry", "builtin")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parallelBlocks.WithLabelValues("error")))

	ctx := WithMetrics(context.Background(), m)
	assert.Same(t, m, MetricsFrom(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "test_poet_retries_total")
}

func TestTracerWritesSpansToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	out := filepath.Join(t.TempDir(), "spans.json")
	tr, err := NewTracer(TracingConfig{Enabled: true, Output: out})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "stage")
	EndSpan(span, errors.New("failed"))
	require.NoError(t, tr.Shutdown(context.Background()))
	assert.FileExists(t, out)

	otel.SetTracerProvider(noop.NewTracerProvider())
	disabled, err := NewTracer(TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, disabled.Shutdown(context.Background()))
}
