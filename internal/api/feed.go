package api

import (
	"log/slog"
	"net/http"

	"k8s.io/utils/clock"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api/common"
	v1 "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api/v1"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/feed"
)

func vehiclePositionsHandler(students v1.StudentReader, clk clock.PassiveClock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := feed.BuildVehiclePositions(students.List(), clk.Now())

		body, contentType, err := feed.Encode(msg, r.URL.Query().Get("format"))
		if err != nil {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			slog.DebugContext(r.Context(), "Failed to write feed", "error", err)
		}
	}
}
