package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"k8s.io/utils/clock"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/config"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/history"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/state"
	pkgsync "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync/coordinator"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

const (
	instrumentationName   = "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// BridgeAppOptions is a function that configures the bridge app builder
type BridgeAppOptions func(*bridgeAppConfig) error

type bridgeAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	client hcb.Client
	clock  clock.WithTicker

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...BridgeAppOptions) (*bridgeAppConfig, error) {
	cfg := &bridgeAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewBridgeApp builds every component from the configuration
func NewBridgeApp(
	ctx context.Context,
	opts ...BridgeAppOptions,
) (*BridgeApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	creds, err := Credentials(cfg.config)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.client == nil {
		cfg.client = NewClient(&cfg.config.Service)
	}

	store := state.NewStore()

	var recorder *history.Recorder
	if cfg.config.History != nil {
		recorder, err = history.Open(ctx, cfg.config.History.Path)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		slog.Info("Arrival history enabled", "path", cfg.config.History.Path)
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if !cleanupNeeded {
			return
		}
		if recorder != nil {
			_ = recorder.Close()
		}
		_ = tel.Shutdown(ctx)
	}()

	coord, err := buildPollingComponents(cfg, creds, store, recorder, tel)
	if err != nil {
		return nil, fmt.Errorf("failed to build polling components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, store, coord, recorder, tel)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &BridgeApp{
		config: cfg.config,
		components: &AppComponents{
			Coordinator: coord,
			Store:       store,
			History:     recorder,
			Telemetry:   tel,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configuration
func WithAddress(addr string) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not valid: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithClient allows injecting a service client (for testing)
func WithClient(c hcb.Client) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.client = c
		return nil
	}
}

// WithClock allows injecting the coordinator clock (for testing)
func WithClock(clk clock.WithTicker) BridgeAppOptions {
	return func(cfg *bridgeAppConfig) error {
		cfg.clock = clk
		return nil
	}
}

// NewClient creates the SOAP client described by cfg
func NewClient(cfg *config.ServiceConfig) hcb.Client {
	var opts []hcb.Option
	if cfg.Endpoint != "" {
		opts = append(opts, hcb.WithEndpoint(cfg.Endpoint))
	}
	if timeout := cfg.GetTimeout(); timeout > 0 {
		opts = append(opts, hcb.WithTimeout(timeout))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, hcb.WithMaxRetries(*cfg.MaxRetries))
	}
	return hcb.NewSOAPClient(opts...)
}

// Credentials resolves the account credentials of cfg
func Credentials(cfg *config.Config) (session.Credentials, error) {
	password, err := cfg.Account.GetPassword()
	if err != nil {
		return session.Credentials{}, fmt.Errorf("failed to read password: %w", err)
	}
	return session.Credentials{
		SchoolCode: cfg.Account.SchoolCode,
		Username:   cfg.Account.Username,
		Password:   password,
	}, nil
}

// CheckCredentials resolves the account once without seeding any state
func CheckCredentials(ctx context.Context, cfg *config.Config, client hcb.Client) (bool, error) {
	creds, err := Credentials(cfg)
	if err != nil {
		return false, err
	}
	if client == nil {
		client = NewClient(&cfg.Service)
	}
	return session.NewBootstrapper(client, cfg.Polling.Location()).TestCredentials(ctx, creds)
}

func buildPollingComponents(
	b *bridgeAppConfig,
	creds session.Credentials,
	store *state.Store,
	recorder *history.Recorder,
	tel *telemetry.Telemetry,
) (coordinator.Coordinator, error) {
	slog.Info("Initializing polling components")

	pollMetrics, err := telemetry.NewPollMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create poll metrics: %w", err)
	}
	tracer := tel.Tracer(instrumentationName)
	tz := b.config.Polling.Location()

	manager := pkgsync.NewManager(b.client, tz,
		pkgsync.WithTracer(tracer),
		pkgsync.WithMetrics(pollMetrics),
	)
	bootstrapper := session.NewBootstrapper(b.client, tz,
		session.WithTracer(tracer),
		session.WithMetrics(pollMetrics),
	)

	coordOpts := []coordinator.Option{
		coordinator.WithInterval(b.config.Polling.GetInterval()),
		coordinator.WithMetrics(pollMetrics),
		coordinator.WithTracer(tracer),
	}
	if b.clock != nil {
		coordOpts = append(coordOpts, coordinator.WithClock(b.clock))
	}
	if recorder != nil {
		coordOpts = append(coordOpts, coordinator.WithListener(recorder))
	}

	coord := coordinator.New(manager, bootstrapper, store, creds, coordOpts...)
	slog.Info("Polling components initialized",
		"interval", b.config.Polling.GetInterval(),
		"timezone", tz.String())

	return coord, nil
}

func buildHTTPServer(
	b *bridgeAppConfig,
	store *state.Store,
	coord coordinator.Coordinator,
	recorder *history.Recorder,
	tel *telemetry.Telemetry,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	if origins := b.config.Server.CORSAllowedOrigins; len(origins) > 0 {
		b.middlewares = append(b.middlewares, cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		slog.Info("CORS enabled", "origins", origins)
	}

	// Metrics and tracing go first to capture every request
	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	b.middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(tel.TracerProvider()),
		httpMetrics.Middleware,
	}, b.middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
	}
	if recorder != nil {
		serverOpts = append(serverOpts, api.WithHistory(recorder))
	}
	if h := tel.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	router := api.NewServer(store, coord, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
