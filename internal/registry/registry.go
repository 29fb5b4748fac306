// Package registry implements the controller's authoritative, in-memory
// table of module records (spec §3, §4.4): the single source of truth for
// fleet membership, address, group, status, and config. It is never backed
// by a database — internal/store persists a history of it, but the live
// table here is what every other controller component reads.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/saviour/saviour/internal/eventbus"
)

// Status is a module's lifecycle status tag (spec §3, §4.6).
type Status string

const (
	StatusNotReady Status = "NOT_READY"
	StatusReady    Status = "READY"
	StatusRecording Status = "RECORDING"
	StatusFault    Status = "FAULT"
	StatusOffline  Status = "OFFLINE"
)

// Record is the controller-side view of one module (spec §3).
type Record struct {
	ModuleID     string
	Name         string
	Type         string
	IP           string
	Port         int
	Group        string
	Online       bool
	Status       Status
	Config       map[string]any
	LastHeartbeat time.Time
	ReadyReason  string
	ReadyExpiry  time.Time
}

// snapshot returns a defensive copy safe to hand to callers outside the lock.
func (r Record) snapshot() Record {
	cp := r
	if r.Config != nil {
		cp.Config = make(map[string]any, len(r.Config))
		for k, v := range r.Config {
			cp.Config[k] = v
		}
	}
	return cp
}

// EffectiveStatus applies the ready-expiry decay rule (spec §3 invariant iv):
// a READY record whose TTL has passed reads as NOT_READY without requiring a
// separate background sweep to have already rewritten it.
func (r Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusReady && !r.ReadyExpiry.IsZero() && now.After(r.ReadyExpiry) {
		return StatusNotReady
	}
	return r.Status
}

// Registry is the authoritative module table plus indices by IP and group.
// Registry owns module records exclusively (spec §3 "Ownership"); Discovery,
// Health, Recording, and Config mutate it only through these methods, never
// by holding a pointer into the table.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*Record
	byIP     map[string]string // ip -> module_id, for collision detection (invariant ii)
	bus      *eventbus.Bus
}

// New creates an empty Registry publishing events on bus.
func New(bus *eventbus.Bus) *Registry {
	return &Registry{
		byID: make(map[string]*Record),
		byIP: make(map[string]string),
		bus:  bus,
	}
}

// Upsert idempotently inserts or refreshes a module record by id. It is the
// entry point Discovery calls on peer_added (spec §4.1/§4.4).
func (r *Registry) Upsert(moduleID, ip string, port int, typ string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[moduleID]; ok {
		changed := existing.IP != ip || existing.Port != port
		existing.IP = ip
		existing.Port = port
		existing.Type = typ
		r.byIP[ip] = moduleID
		snap := existing.snapshot()
		if changed {
			r.publish(Event{Kind: EventUpdated, ModuleID: moduleID, Record: snap})
		}
		return snap, r.checkInvariants()
	}

	rec := &Record{
		ModuleID: moduleID,
		Type:     typ,
		IP:       ip,
		Port:     port,
		Online:   true,
		Status:   StatusNotReady,
	}
	r.byID[moduleID] = rec
	r.byIP[ip] = moduleID
	snap := rec.snapshot()
	r.publish(Event{Kind: EventAdded, ModuleID: moduleID, Record: snap})
	return snap, r.checkInvariants()
}

// Rename atomically changes a record's id, migrating all indices (spec
// §4.1 "id_changed", §4.4 Rename, invariant ii).
func (r *Registry) Rename(oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[oldID]
	if !ok {
		return fmt.Errorf("registry: rename: unknown module id %q", oldID)
	}
	if _, exists := r.byID[newID]; exists {
		return fmt.Errorf("registry: rename: target id %q already exists", newID)
	}

	delete(r.byID, oldID)
	rec.ModuleID = newID
	r.byID[newID] = rec
	if r.byIP[rec.IP] == oldID {
		r.byIP[rec.IP] = newID
	}

	r.publish(Event{Kind: EventIDChanged, ModuleID: newID, OldModuleID: oldID, Record: rec.snapshot()})
	return r.checkInvariants()
}

// UpdateIP updates a record's IP in place when the same id reappears at a
// new address (spec §4.1 "ip_changed").
func (r *Registry) UpdateIP(moduleID, newIP string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: update ip: unknown module id %q", moduleID)
	}
	oldIP := rec.IP
	if oldIP == newIP {
		return nil
	}
	if owner, exists := r.byIP[newIP]; exists && owner != moduleID {
		// A different id already claims this IP: that is the id-collision
		// case Discovery must resolve via Rename, not UpdateIP.
		return fmt.Errorf("registry: update ip: %s already claimed by %s", newIP, owner)
	}
	delete(r.byIP, oldIP)
	rec.IP = newIP
	r.byIP[newIP] = moduleID

	r.publish(Event{Kind: EventIPChanged, ModuleID: moduleID, Record: rec.snapshot()})
	return r.checkInvariants()
}

// MarkOnline transitions online/offline (spec §4.4 mark_online): going
// offline forces status=OFFLINE (invariant iii); coming back online from
// OFFLINE resets to NOT_READY.
func (r *Registry) MarkOnline(moduleID string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: mark online: unknown module id %q", moduleID)
	}
	if rec.Online == online {
		return nil
	}
	rec.Online = online
	if !online {
		rec.Status = StatusOffline
	} else if rec.Status == StatusOffline {
		rec.Status = StatusNotReady
	}
	r.publish(Event{Kind: EventOnlineChanged, ModuleID: moduleID, Record: rec.snapshot()})
	return r.checkInvariants()
}

// SetStatus applies a validated status transition (allowed transitions are
// enforced by package lifecycle; Registry accepts whatever it is told and
// only re-checks its own invariants).
func (r *Registry) SetStatus(moduleID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: set status: unknown module id %q", moduleID)
	}
	rec.Status = status
	if status == StatusOffline {
		rec.Online = false
	}
	r.publish(Event{Kind: EventStatusChanged, ModuleID: moduleID, Record: rec.snapshot()})
	return r.checkInvariants()
}

// SetReady marks a record READY with a ready_expiry deadline (spec §4.6).
func (r *Registry) SetReady(moduleID string, ttl time.Duration, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: set ready: unknown module id %q", moduleID)
	}
	rec.Status = StatusReady
	rec.ReadyExpiry = now.Add(ttl)
	rec.ReadyReason = ""
	r.publish(Event{Kind: EventStatusChanged, ModuleID: moduleID, Record: rec.snapshot()})
	return nil
}

// SetNotReady demotes a record to NOT_READY with a human reason (expiry,
// config change, or failed re-validation — spec §4.6).
func (r *Registry) SetNotReady(moduleID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: set not ready: unknown module id %q", moduleID)
	}
	rec.Status = StatusNotReady
	rec.ReadyReason = reason
	rec.ReadyExpiry = time.Time{}
	r.publish(Event{Kind: EventStatusChanged, ModuleID: moduleID, Record: rec.snapshot()})
	return nil
}

// Touch records a fresh heartbeat wall-clock for moduleID.
func (r *Registry) Touch(moduleID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: touch: unknown module id %q", moduleID)
	}
	rec.LastHeartbeat = at
	return nil
}

// SetGroup updates a record's group label.
func (r *Registry) SetGroup(moduleID, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: set group: unknown module id %q", moduleID)
	}
	rec.Group = group
	r.publish(Event{Kind: EventUpdated, ModuleID: moduleID, Record: rec.snapshot()})
	return nil
}

// SetConfig records the module's last-known editable config (mutated by the
// Config component per spec §3 Lifecycle).
func (r *Registry) SetConfig(moduleID string, cfg map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[moduleID]
	if !ok {
		return fmt.Errorf("registry: set config: unknown module id %q", moduleID)
	}
	rec.Config = cfg
	return nil
}

// Get returns a snapshot of one record.
func (r *Registry) Get(moduleID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[moduleID]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// All returns a snapshot of every record.
func (r *Registry) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec.snapshot())
	}
	return out
}

// Members resolves a selector (a module id, a group label, or "all") to the
// set of currently-online module ids (spec §4.4 members(selector)).
func (r *Registry) Members(selector string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if selector == "all" {
		var out []string
		for id, rec := range r.byID {
			if rec.Online {
				out = append(out, id)
			}
		}
		return out
	}
	if rec, ok := r.byID[selector]; ok {
		if rec.Online {
			return []string{selector}
		}
		return nil
	}
	var out []string
	for id, rec := range r.byID {
		if rec.Group == selector && rec.Online {
			out = append(out, id)
		}
	}
	return out
}

// Remove destroys a record explicitly (spec §3 "destroyed only on explicit
// remove").
func (r *Registry) Remove(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[moduleID]; ok {
		delete(r.byIP, rec.IP)
		delete(r.byID, moduleID)
		r.publish(Event{Kind: EventRemoved, ModuleID: moduleID})
	}
}

func (r *Registry) publish(e Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// checkInvariants re-validates the registry invariants of spec §3/§8 after
// every mutation. A violation here is a bug, not a recoverable error (spec
// §4.4), so it panics rather than returning a silently-ignorable error that
// the caller might swallow.
func (r *Registry) checkInvariants() error {
	seenIP := make(map[string]string, len(r.byID))
	for id, rec := range r.byID {
		if rec.Status == StatusOffline && rec.Online {
			panic(fmt.Sprintf("registry invariant violated: %s is OFFLINE but online=true", id))
		}
		if owner, ok := seenIP[rec.IP]; ok && owner != id && rec.IP != "" {
			panic(fmt.Sprintf("registry invariant violated: IP %s claimed by both %s and %s", rec.IP, owner, id))
		}
		seenIP[rec.IP] = id
	}
	return nil
}
