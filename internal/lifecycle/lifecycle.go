// Package lifecycle implements the module state machine of spec §4.6:
// NOT_READY -> READY -> RECORDING -> NOT_READY, with OFFLINE and FAULT as
// sinks reachable from any state. It is the one place transition legality is
// decided; registry.SetStatus trusts whatever it is called with. Not every
// status change passes through it: registry.MarkOnline (heartbeat timeout,
// discovery peer_gone) and cmd/controller's failed validate_readiness path
// (registry.SetNotReady) change status without consulting this package.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/saviour/saviour/internal/registry"
)

// Event names the trigger driving a transition, used only for logging and
// tests — the state machine itself is keyed on (from, to) pairs.
type Event string

const (
	EventValidateReadinessOK   Event = "validate_readiness_ok"
	EventReadyExpired          Event = "ready_expired"
	EventConfigChanged         Event = "config_changed"
	EventRevalidateFailed      Event = "revalidate_failed"
	EventStartRecordingAccepted Event = "start_recording_accepted"
	EventStopRecordingAck      Event = "stop_recording_ack"
	EventRecordingFault        Event = "recording_fault"
	EventHealthTimeout         Event = "health_timeout"
	EventHeartbeatResumed      Event = "heartbeat_resumed"
)

// allowed maps a current status to the set of statuses it may transition to
// for a regular (non-sink) event; OFFLINE and FAULT are always reachable and
// are checked separately in Apply.
var allowed = map[registry.Status]map[registry.Status]bool{
	registry.StatusNotReady: {
		registry.StatusReady: true,
	},
	registry.StatusReady: {
		registry.StatusNotReady:  true,
		registry.StatusRecording: true,
	},
	registry.StatusRecording: {
		registry.StatusNotReady: true,
	},
	registry.StatusOffline: {
		registry.StatusNotReady: true,
	},
}

// Machine validates and applies status transitions against a Registry,
// rejecting anything not listed in spec §4.6's transition table.
type Machine struct {
	mu       sync.Mutex
	reg      *registry.Registry
	readyTTL time.Duration
}

// New creates a Machine that mutates reg, using readyTTL for the expiry set
// on a successful NOT_READY -> READY transition (default 120s).
func New(reg *registry.Registry, readyTTL time.Duration) *Machine {
	return &Machine{reg: reg, readyTTL: readyTTL}
}

// Apply validates the transition from a module's current status to `to` and,
// if legal, mutates the registry. FAULT and OFFLINE are reachable from any
// state without a transition-table entry (spec §4.6: "sinks reachable from
// any state").
func (m *Machine) Apply(moduleID string, to registry.Status, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reg.Get(moduleID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown module %q", moduleID)
	}
	from := rec.Status

	if to == registry.StatusFault || to == registry.StatusOffline {
		return m.reg.SetStatus(moduleID, to)
	}
	if from == to {
		return nil
	}
	if !allowed[from][to] {
		return fmt.Errorf("lifecycle: illegal transition %s -> %s for module %q", from, to, moduleID)
	}

	switch to {
	case registry.StatusReady:
		return m.reg.SetReady(moduleID, m.readyTTL, now)
	case registry.StatusNotReady:
		return m.reg.SetNotReady(moduleID, reason)
	default:
		return m.reg.SetStatus(moduleID, to)
	}
}

// CanRecord reports whether a module is currently eligible to accept
// start_recording (spec §4.6: READY -> RECORDING).
func (m *Machine) CanRecord(moduleID string, now time.Time) bool {
	rec, ok := m.reg.Get(moduleID)
	if !ok {
		return false
	}
	return rec.EffectiveStatus(now) == registry.StatusReady
}
