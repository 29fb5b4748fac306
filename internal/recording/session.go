// Package recording implements the session-oriented recording coordination
// of spec §4.7: a controller-side coordinator that fans out start/stop
// commands to a resolved member set and tracks per-member completion via
// status events (never synchronously), and a module-side segment state
// machine (segment.go) that rolls recording segments and hands closed ones
// to Export. The controller side owns the session set; the module side owns
// its own segment state — per spec §3's ownership rule, neither reaches
// into the other except by id.
package recording

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
	"github.com/saviour/saviour/internal/transport"
)

// MemberOutcome is a session's recorded status for one member (spec §4.7's
// partial-failure policy: per-member outcomes, not a transaction).
type MemberOutcome string

const (
	OutcomePending     MemberOutcome = "pending"
	OutcomeStarted     MemberOutcome = "started"
	OutcomeStartFailed MemberOutcome = "start_failed"
	OutcomeStopped     MemberOutcome = "stopped"
	OutcomeStopFailed  MemberOutcome = "stop_failed"
)

// Session is a controller-side recording session record (spec §3, §4.7).
// EndedAt is nil while the session is Active; Active goes false the moment
// stop_recording is published for it, not when every member has acked the
// stop (the controller never waits on per-member completion synchronously).
type Session struct {
	ID        string
	Name      string // session_name with timestamp appended
	Target    string
	Members   []string
	Duration  *time.Duration
	StartedAt time.Time
	EndedAt   *time.Time
	Active    bool
	Outcomes  map[string]MemberOutcome
}

func (s Session) snapshot() Session {
	cp := s
	cp.Outcomes = make(map[string]MemberOutcome, len(s.Outcomes))
	for k, v := range s.Outcomes {
		cp.Outcomes[k] = v
	}
	cp.Members = append([]string(nil), s.Members...)
	return cp
}

// CommandPublisher is the narrow transport surface the coordinator needs.
type CommandPublisher interface {
	PublishCommand(selector string, cmd transport.Command) error
}

// Coordinator is the controller-side recording session coordinator of spec
// §4.7. It owns the authoritative session set; it never waits for
// per-module acknowledgement synchronously.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session

	reg      *registry.Registry
	client   CommandPublisher
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// New creates a Coordinator.
func New(reg *registry.Registry, client CommandPublisher, bus *eventbus.Bus, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*Session),
		reg:      reg,
		client:   client,
		bus:      bus,
		log:      log.With().Str("component", "recording.coordinator").Logger(),
	}
}

// StartRecording resolves target to the member set at call time, appends a
// timestamp to sessionName, persists a session record, and publishes a
// single fan-out command (spec §4.7). It returns as soon as the command is
// published — completion is tracked asynchronously via status events.
func (c *Coordinator) StartRecording(target, sessionName string, duration *time.Duration, now time.Time) (*Session, error) {
	members := c.reg.Members(target)
	if len(members) == 0 {
		return nil, fmt.Errorf("recording: no online members for target %q", target)
	}

	c.mu.Lock()
	if busy := c.busyMemberLocked(members); busy != "" {
		c.mu.Unlock()
		return nil, fmt.Errorf("recording: module %q already participates in an active session", busy)
	}
	c.mu.Unlock()

	fullName := fmt.Sprintf("%s_%s", sessionName, now.Format("20060102_150405"))
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      fullName,
		Target:    target,
		Members:   members,
		Duration:  duration,
		StartedAt: now,
		Active:    true,
		Outcomes:  make(map[string]MemberOutcome, len(members)),
	}
	for _, m := range members {
		sess.Outcomes[m] = OutcomePending
	}

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()

	params := map[string]any{"session_name": fullName, "session_id": sess.ID}
	if duration != nil {
		params["duration"] = duration.Seconds()
	}
	if err := c.client.PublishCommand(target, transport.Command{Cmd: transport.CmdStartRecording, Params: params}); err != nil {
		return nil, fmt.Errorf("recording: publish start_recording: %w", err)
	}

	c.publish(Event{Kind: EventSessionStarted, SessionID: sess.ID, Session: sess.snapshot()})
	return sess, nil
}

// StopRecording publishes stop_recording to a session's original target and
// ends the session (spec §3: Active goes false, EndedAt is stamped), freeing
// its members to join a new session even though member-side completion is
// still tracked asynchronously via status events.
func (c *Coordinator) StopRecording(sessionID string, now time.Time) error {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		sess.Active = false
		ended := now
		sess.EndedAt = &ended
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("recording: unknown session %q", sessionID)
	}
	return c.client.PublishCommand(sess.Target, transport.Command{
		Cmd:    transport.CmdStopRecording,
		Params: map[string]any{"session_name": sess.Name, "session_id": sess.ID},
	})
}

// busyMemberLocked returns the first candidate already claimed by an active
// session (spec §4.7 invariant: "a target participates in at most one active
// session at a time"). Callers must hold mu.
func (c *Coordinator) busyMemberLocked(candidates []string) string {
	for _, s := range c.sessions {
		if !s.Active {
			continue
		}
		for _, m := range s.Members {
			for _, cand := range candidates {
				if m == cand {
					return cand
				}
			}
		}
	}
	return ""
}

// HandleRecordingStarted records a per-member success outcome (spec §4.7's
// partial-failure policy: other members are unaffected by one member's
// result).
func (c *Coordinator) HandleRecordingStarted(sessionID, moduleID string) {
	c.setOutcome(sessionID, moduleID, OutcomeStarted)
}

// HandleRecordingStartFailed logs and leaves the session active for other
// members — "the session is a best-effort fan-out, not a transaction"
// (spec §4.7).
func (c *Coordinator) HandleRecordingStartFailed(sessionID, moduleID, reason string) {
	c.log.Warn().Str("session_id", sessionID).Str("module_id", moduleID).Str("reason", reason).Msg("recording start failed on member")
	c.setOutcome(sessionID, moduleID, OutcomeStartFailed)
}

// HandleRecordingStopped records a per-member stop outcome.
func (c *Coordinator) HandleRecordingStopped(sessionID, moduleID string) {
	c.setOutcome(sessionID, moduleID, OutcomeStopped)
}

func (c *Coordinator) HandleRecordingStopFailed(sessionID, moduleID, reason string) {
	c.log.Warn().Str("session_id", sessionID).Str("module_id", moduleID).Str("reason", reason).Msg("recording stop failed on member")
	c.setOutcome(sessionID, moduleID, OutcomeStopFailed)
}

func (c *Coordinator) setOutcome(sessionID, moduleID string, outcome MemberOutcome) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		sess.Outcomes[moduleID] = outcome
	}
	var snap Session
	if ok {
		snap = sess.snapshot()
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.publish(Event{Kind: EventMemberOutcome, SessionID: sessionID, ModuleID: moduleID, Session: snap})
}

// Get returns a snapshot of one session.
func (c *Coordinator) Get(sessionID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return sess.snapshot(), true
}

// ActiveSessionCount reports the number of sessions with at least one
// member outcome still pending or started (used by the metrics collector).
func (c *Coordinator) ActiveSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		for _, outcome := range s.Outcomes {
			if outcome == OutcomePending || outcome == OutcomeStarted {
				n++
				break
			}
		}
	}
	return n
}

// All returns a snapshot of every known session, most recent first.
func (c *Coordinator) All() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (c *Coordinator) publish(e Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
