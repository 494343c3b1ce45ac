package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]*Config{
		"nil":      nil,
		"disabled": {Enabled: false},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tel, err := New(context.Background(), WithTelemetryConfig(cfg))
			require.NoError(t, err)
			assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
			assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			assert.Nil(t, tel.MetricsHandler())
			assert.NoError(t, tel.Shutdown(context.Background()))
		})
	}
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), WithTelemetryConfig(&Config{
		Enabled: true,
		Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
	}))
	assert.ErrorContains(t, err, "invalid telemetry configuration")
}

func TestNewPrometheus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tel, err := New(ctx, WithTelemetryConfig(&Config{
		Enabled: true,
		Metrics: &MetricsConfig{Enabled: true, Exporter: ExporterPrometheus},
	}))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(ctx) }()

	require.NotNil(t, tel.MetricsHandler())
	assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())

	m, err := NewPollMetrics(tel.MeterProvider())
	require.NoError(t, err)
	m.RecordFetch(ctx, "am", nil)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hcb_fetch_total")
}

func TestNewMeterProviderPrometheusNeedsRegisterer(t *testing.T) {
	t.Parallel()

	_, err := NewMeterProvider(context.Background(),
		WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: ExporterPrometheus}))
	assert.ErrorContains(t, err, "requires a registerer")
}

func TestHTTPMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("nil metrics pass through", func(t *testing.T) {
		t.Parallel()

		var m *HTTPMetrics
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		assert.NotNil(t, m.Middleware(next))
		assert.NotNil(t, TracingMiddleware(nil)(next))
	})

	t.Run("records route pattern", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		m, err := NewHTTPMetrics(mp)
		require.NoError(t, err)

		r := chi.NewRouter()
		r.Use(m.Middleware)
		r.Use(TracingMiddleware(tracenoop.NewTracerProvider()))
		r.Get("/api/v1/students/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/students/STU-1", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		data := collect(t, reader)
		require.Contains(t, data, "hcb_http_requests_total")
		assert.Equal(t, int64(1), sumFor(t, data["hcb_http_requests_total"],
			attributeRoute("/api/v1/students/{id}")...))
	})
}

func attributeRoute(route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("method", http.MethodGet),
		attribute.String("route", route),
		attribute.String("status_code", "404"),
	}
}
