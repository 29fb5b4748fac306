package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/saviour/saviour/internal/store"
)

// SessionHistorySource and HealthHistorySource narrow internal/store's DB
// down to the two read paths the operator history views need.
type SessionHistorySource interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionHistoryEntry, error)
}

type HealthHistorySource interface {
	HealthHistory(ctx context.Context, moduleID string, limit int) ([]store.HealthSampleRow, error)
}

// HistoryHandlers serves the durable audit log internal/store maintains
// (spec §9 Open Question (b)): session history and per-module health
// trends that survive a controller restart. History is an optional
// feature — a controller run without DatabaseURL configured simply omits
// these routes (see server.go).
type HistoryHandlers struct {
	sessions SessionHistorySource
	health   HealthHistorySource
}

func NewHistoryHandlers(sessions SessionHistorySource, health HealthHistorySource) *HistoryHandlers {
	return &HistoryHandlers{sessions: sessions, health: health}
}

func (h *HistoryHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	rows, err := h.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

func (h *HistoryHandlers) ModuleHealthHistory(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	limit := queryInt(r, "limit", 500)
	rows, err := h.health.HealthHistory(r.Context(), moduleID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
