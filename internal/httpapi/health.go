package httpapi

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	MQTT     string `json:"mqtt,omitempty"`
}

// handleHealthz answers 200 when the database and the broker session are
// both up, 503 otherwise.
func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := a.deps.DB.Ping(ctx); err != nil {
		a.logger.Error("failed to check database connectivity", "error", err)
		resp.Database = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if a.deps.Connected != nil {
		resp.MQTT = "connected"
		if !a.deps.Connected() {
			resp.MQTT = "disconnected"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, a.logger, status, resp)
}
