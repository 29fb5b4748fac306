package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
)

// EventKind discriminates the events Monitor publishes.
type EventKind string

const (
	EventOnline  EventKind = "health.online"
	EventOffline EventKind = "health.offline"
)

// Event reports an online/offline transition for one module (spec §4.5).
type Event struct {
	Kind      EventKind
	ModuleID  string
	At        time.Time
}

// Heartbeat is one decoded `heartbeat` status message handed to Monitor.
type Heartbeat struct {
	ModuleID string
	At       time.Time
	Sample   Sample
}

// Monitor is the controller-side liveness loop of spec §4.5: it owns
// Registry's last-heartbeat field and the heartbeat-driven online/offline
// transitions (discovery's peer_gone in cmd/controller also marks a module
// offline), driven by a single goroutine so that its transitions for one module id are totally ordered
// even if heartbeats themselves arrive out of order on the wire.
type Monitor struct {
	reg      *registry.Registry
	bus      *eventbus.Bus
	timeout  time.Duration
	period   time.Duration
	log      zerolog.Logger

	hb chan Heartbeat

	mu        sync.RWMutex
	lastBeat  map[string]time.Time
	samples   map[string]Sample
}

// NewMonitor creates a Monitor with the given heartbeat timeout (default 90s)
// and sweep period (default ~30s), per spec §4.5/§8.
func NewMonitor(reg *registry.Registry, bus *eventbus.Bus, timeout, period time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		reg:      reg,
		bus:      bus,
		timeout:  timeout,
		period:   period,
		log:      log.With().Str("component", "health.monitor").Logger(),
		hb:       make(chan Heartbeat, 256),
		lastBeat: make(map[string]time.Time),
		samples:  make(map[string]Sample),
	}
}

// Receive enqueues a decoded heartbeat for processing. Safe to call from the
// transport message-handler goroutine; never blocks on a full queue (the
// queue is generously sized — a drop here just delays one liveness update,
// which the next heartbeat or the sweep loop will correct).
func (m *Monitor) Receive(hb Heartbeat) {
	select {
	case m.hb <- hb:
	default:
		m.log.Warn().Str("module_id", hb.ModuleID).Msg("heartbeat queue full, dropping")
	}
}

// Run drives the single-threaded monitor loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case hb := <-m.hb:
			m.applyHeartbeat(hb)
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Monitor) applyHeartbeat(hb Heartbeat) {
	m.mu.Lock()
	wasKnown := !m.lastBeat[hb.ModuleID].IsZero()
	m.lastBeat[hb.ModuleID] = hb.At
	m.samples[hb.ModuleID] = hb.Sample
	m.mu.Unlock()

	rec, ok := m.reg.Get(hb.ModuleID)
	if !ok {
		return
	}
	if err := m.reg.Touch(hb.ModuleID, hb.At); err != nil {
		m.log.Warn().Err(err).Str("module_id", hb.ModuleID).Msg("touch failed")
	}
	if !rec.Online || (wasKnown && rec.Status == registry.StatusOffline) {
		if err := m.reg.MarkOnline(hb.ModuleID, true); err != nil {
			m.log.Warn().Err(err).Str("module_id", hb.ModuleID).Msg("mark online failed")
			return
		}
		m.publish(Event{Kind: EventOnline, ModuleID: hb.ModuleID, At: hb.At})
	}
}

// sweep marks every module whose last heartbeat is older than timeout as
// OFFLINE (spec §4.5, §8 bound: no earlier than t+timeout, no later than
// t+timeout+period).
func (m *Monitor) sweep(now time.Time) {
	m.mu.RLock()
	stale := make([]string, 0)
	for id, last := range m.lastBeat {
		if now.Sub(last) > m.timeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		rec, ok := m.reg.Get(id)
		if !ok || !rec.Online {
			continue
		}
		if err := m.reg.MarkOnline(id, false); err != nil {
			m.log.Warn().Err(err).Str("module_id", id).Msg("mark offline failed")
			continue
		}
		m.publish(Event{Kind: EventOffline, ModuleID: id, At: now})
	}
}

// LatestSample returns the last health sample received for a module.
func (m *Monitor) LatestSample(moduleID string) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[moduleID]
	return s, ok
}

func (m *Monitor) publish(e Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
