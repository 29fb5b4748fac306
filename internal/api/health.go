package api

import (
	"net/http"
	"time"
)

// HealthResponse is the controller process's own liveness report, distinct
// from any module's recording/sync health (spec §4.5) — this is "is the
// controller process itself up," served unauthenticated like the teacher's
// /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type HealthHandler struct {
	version   string
	startTime time.Time
}

func NewHealthHandler(version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
