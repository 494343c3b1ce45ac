package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api/common"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/versions"
)

// ReadinessChecker reports whether a session has been bootstrapped
type ReadinessChecker interface {
	Ready() bool
}

func healthRouter(checker ReadinessChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(checker))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !checker.Ready() {
			common.WriteErrorResponse(w, "session not bootstrapped", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
