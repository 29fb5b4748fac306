package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saviour/saviour/internal/recording"
)

// SessionHandlers exposes the controller's recording coordinator (spec
// §4.7) over HTTP for saviourctl and the operator view. Every endpoint
// returns as soon as the fan-out command is published — the coordinator
// never blocks a request on member completion.
type SessionHandlers struct {
	coord *recording.Coordinator
}

func NewSessionHandlers(coord *recording.Coordinator) *SessionHandlers {
	return &SessionHandlers{coord: coord}
}

type startSessionRequest struct {
	Target        string `json:"target"`
	SessionName   string `json:"session_name"`
	DurationSecs  *int   `json:"duration_seconds,omitempty"`
}

func (h *SessionHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" || req.SessionName == "" {
		WriteError(w, http.StatusBadRequest, "target and session_name are required")
		return
	}

	var duration *time.Duration
	if req.DurationSecs != nil {
		d := time.Duration(*req.DurationSecs) * time.Second
		duration = &d
	}

	sess, err := h.coord.StartRecording(req.Target, req.SessionName, duration, time.Now())
	if err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, sess)
}

func (h *SessionHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.coord.StopRecording(sessionID, time.Now()); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := h.coord.Get(sessionID)
	if !ok {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func (h *SessionHandlers) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.coord.All())
}
