package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saviour/saviour/internal/registry"
)

// moduleView is the wire shape for a fleet record, with EffectiveStatus
// already resolved so operator clients never have to apply the ready-TTL
// decay rule themselves (spec §3 invariant iv).
type moduleView struct {
	ModuleID      string         `json:"module_id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	IP            string         `json:"ip"`
	Port          int            `json:"port"`
	Group         string         `json:"group"`
	Online        bool           `json:"online"`
	Status        registry.Status `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	ReadyReason   string         `json:"ready_reason,omitempty"`
}

func toModuleView(r registry.Record, now time.Time) moduleView {
	return moduleView{
		ModuleID:      r.ModuleID,
		Name:          r.Name,
		Type:          r.Type,
		IP:            r.IP,
		Port:          r.Port,
		Group:         r.Group,
		Online:        r.Online,
		Status:        r.EffectiveStatus(now),
		LastHeartbeat: r.LastHeartbeat,
		ReadyReason:   r.ReadyReason,
	}
}

// RegistryHandlers serves the fleet table (spec §4.8: operator read surface
// over the registry).
type RegistryHandlers struct {
	reg *registry.Registry
}

func NewRegistryHandlers(reg *registry.Registry) *RegistryHandlers {
	return &RegistryHandlers{reg: reg}
}

func (h *RegistryHandlers) List(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	records := h.reg.All()
	views := make([]moduleView, 0, len(records))
	for _, rec := range records {
		views = append(views, toModuleView(rec, now))
	}
	WriteJSON(w, http.StatusOK, views)
}

func (h *RegistryHandlers) Get(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	rec, ok := h.reg.Get(moduleID)
	if !ok {
		WriteError(w, http.StatusNotFound, "module not found")
		return
	}
	WriteJSON(w, http.StatusOK, toModuleView(rec, time.Now()))
}
