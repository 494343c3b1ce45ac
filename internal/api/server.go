// Package api provides the REST API server exposing student state.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"k8s.io/utils/clock"

	v1 "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api/v1"
)

// Store is the state the server reads from
type Store interface {
	ReadinessChecker
	v1.StudentReader
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	history        v1.HistoryReader
	metricsHandler http.Handler
	clock          clock.PassiveClock
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHistory mounts the history endpoint
func WithHistory(h v1.HistoryReader) ServerOption {
	return func(cfg *serverConfig) {
		cfg.history = h
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithClock sets the clock used by on-demand ticks and the feed
func WithClock(clk clock.PassiveClock) ServerOption {
	return func(cfg *serverConfig) {
		cfg.clock = clk
	}
}

// NewServer creates and configures the HTTP router
func NewServer(store Store, refresher v1.Refresher, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", healthRouter(store))

	v1Opts := []v1.Option{v1.WithClock(cfg.clock)}
	if cfg.history != nil {
		v1Opts = append(v1Opts, v1.WithHistory(cfg.history))
	}
	r.Mount("/api/v1", v1.Router(store, refresher, v1Opts...))

	r.Get("/gtfs-rt/vehicle-positions", vehiclePositionsHandler(store, cfg.clock))

	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
