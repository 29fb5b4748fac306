package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saviour/saviour/internal/transport"
)

// CommandPublisher is the narrow transport surface config handlers need to
// relay operator requests onto the command channel (spec §4.6: config
// reads and writes are commands like any other, answered asynchronously
// over the status channel).
type CommandPublisher interface {
	PublishCommand(selector string, cmd transport.Command) error
}

// ConfigHandlers relays get_config/set_config requests to a module. The
// controller does not cache module config: the response arrives later as a
// get_config/set_config status event, which operator clients observe over
// the live feed (ws.go) rather than in this request's response body.
type ConfigHandlers struct {
	publisher CommandPublisher
}

func NewConfigHandlers(publisher CommandPublisher) *ConfigHandlers {
	return &ConfigHandlers{publisher: publisher}
}

func (h *ConfigHandlers) Get(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if err := h.publisher.PublishCommand(moduleID, transport.Command{Cmd: transport.CmdGetConfig}); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ConfigHandlers) Set(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.publisher.PublishCommand(moduleID, transport.Command{Cmd: transport.CmdSetConfig, Params: params}); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RestartPTP publishes a restart_ptp command (spec §4.2) so an operator can
// trigger a time-sync restart manually. The module handles it by restarting
// sys_sync at once — the same restart its own timesync supervisor performs on
// sustained divergence, but outside that supervisor's backoff policy.
func (h *ConfigHandlers) RestartPTP(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if err := h.publisher.PublishCommand(moduleID, transport.Command{Cmd: transport.CmdRestartPTP}); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
