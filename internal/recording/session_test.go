package recording

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
	"github.com/saviour/saviour/internal/transport"
)

type fakePublisher struct {
	calls []struct {
		selector string
		cmd      transport.Command
	}
}

func (f *fakePublisher) PublishCommand(selector string, cmd transport.Command) error {
	f.calls = append(f.calls, struct {
		selector string
		cmd      transport.Command
	}{selector, cmd})
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *registry.Registry, *fakePublisher) {
	t.Helper()
	bus := eventbus.New(16)
	reg := registry.New(bus)
	reg.Upsert("a", "10.0.0.1", 1, "camera")
	reg.Upsert("b", "10.0.0.2", 1, "camera")
	reg.SetGroup("a", "lobby")
	reg.SetGroup("b", "lobby")
	pub := &fakePublisher{}
	return New(reg, pub, bus, zerolog.Nop()), reg, pub
}

func TestStartRecordingResolvesMembersAndPublishes(t *testing.T) {
	c, _, pub := newTestCoordinator(t)
	dur := 70 * time.Second
	sess, err := c.StartRecording("lobby", "sess_a", &dur, time.Now())
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if len(sess.Members) != 2 {
		t.Fatalf("members = %v, want 2", sess.Members)
	}
	if len(pub.calls) != 1 || pub.calls[0].cmd.Cmd != transport.CmdStartRecording {
		t.Fatalf("calls = %+v, want one start_recording", pub.calls)
	}
	if pub.calls[0].selector != "lobby" {
		t.Errorf("selector = %q, want lobby", pub.calls[0].selector)
	}
}

func TestStartRecordingRejectsEmptyTarget(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if _, err := c.StartRecording("nonexistent-group", "sess", nil, time.Now()); err == nil {
		t.Error("expected error for target with no online members")
	}
}

func TestStartRecordingRejectsAlreadyBusyMember(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if _, err := c.StartRecording("a", "sess_a", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartRecording("lobby", "sess_b", nil, time.Now()); err == nil {
		t.Error("expected error: module a already in an active session")
	}
}

func TestStopRecordingEndsSessionAndFreesMembers(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	sess, err := c.StartRecording("a", "sess_a", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.StopRecording(sess.ID, time.Now()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	got, _ := c.Get(sess.ID)
	if got.Active {
		t.Error("session should no longer be active after StopRecording")
	}
	if got.EndedAt == nil {
		t.Error("EndedAt should be stamped after StopRecording")
	}
	if _, err := c.StartRecording("a", "sess_c", nil, time.Now()); err != nil {
		t.Errorf("module a should be free to start a new session: %v", err)
	}
}

func TestPartialFailureLeavesOtherMembersActive(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	sess, err := c.StartRecording("lobby", "sess_a", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	c.HandleRecordingStartFailed(sess.ID, "a", "device busy")
	c.HandleRecordingStarted(sess.ID, "b")

	got, ok := c.Get(sess.ID)
	if !ok {
		t.Fatal("session should still exist")
	}
	if got.Outcomes["a"] != OutcomeStartFailed {
		t.Errorf("a outcome = %q, want start_failed", got.Outcomes["a"])
	}
	if got.Outcomes["b"] != OutcomeStarted {
		t.Errorf("b outcome = %q, want started", got.Outcomes["b"])
	}
}
