// Package app provides application lifecycle management for the bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/config"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
)

// BridgeApp encapsulates all components needed to run the bridge.
// It provides lifecycle management and graceful shutdown.
type BridgeApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start bootstraps the session, starts the polling loop and serves HTTP.
// A fatal bootstrap error is returned before anything starts listening;
// other bootstrap errors are retried by the polling loop. Start blocks
// until the HTTP server stops.
func (app *BridgeApp) Start() error {
	if err := app.components.Coordinator.Bootstrap(app.ctx); err != nil {
		if session.IsFatal(err) {
			return fmt.Errorf("failed to start: %w", err)
		}
		slog.Warn("Initial bootstrap failed, retrying on the next tick", "error", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	go func() {
		if err := app.components.Coordinator.Start(app.ctx); err != nil {
			slog.Error("Coordinator failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout.
// It stops the coordinator, then the HTTP server, then flushes telemetry.
func (app *BridgeApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop coordinator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if app.components.History != nil {
		if err := app.components.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}
	if app.components.Telemetry != nil {
		if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}

	slog.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *BridgeApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *BridgeApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *BridgeApp) Components() *AppComponents {
	return app.components
}
