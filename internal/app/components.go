package app

import (
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/history"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/state"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync/coordinator"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator runs the polling loop
	Coordinator coordinator.Coordinator

	// Store holds the session and the student records
	Store *state.Store

	// History records completed segments (optional)
	History *history.Recorder

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
