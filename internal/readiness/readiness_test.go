package readiness

import (
	"context"
	"testing"
)

func ok(name string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (bool, string) { return true, "" }}
}

func fail(name, reason string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (bool, string) { return false, reason }}
}

func TestValidateAllPass(t *testing.T) {
	s := NewSuite(ok("a"), ok("b"))
	v := s.Validate(context.Background())
	if !v.Ready {
		t.Fatalf("Validate() = %+v, want Ready", v)
	}
}

func TestValidateShortCircuitsOnFirstFailure(t *testing.T) {
	ranSecond := false
	second := Check{Name: "second", Run: func(ctx context.Context) (bool, string) {
		ranSecond = true
		return true, ""
	}}
	s := NewSuite(fail("first", "disk full"), second)
	v := s.Validate(context.Background())
	if v.Ready {
		t.Fatal("expected not ready")
	}
	if v.Reason != "disk full" || v.Failed != "first" {
		t.Errorf("verdict = %+v, want reason=disk full failed=first", v)
	}
	if ranSecond {
		t.Error("second check should not have run after first failure")
	}
}

type fakeSync struct{ good bool }

func (f fakeSync) IsSyncGood() bool { return f.good }

type fakeRecording struct{ recording bool }

func (f fakeRecording) IsRecording() bool { return f.recording }

func TestSyncAndRecordingChecks(t *testing.T) {
	s := NewSuite(SyncOffsetCheck(fakeSync{good: false}))
	if v := s.Validate(context.Background()); v.Ready {
		t.Error("expected not ready with bad sync")
	}

	s2 := NewSuite(NotRecordingCheck(fakeRecording{recording: true}))
	if v := s2.Validate(context.Background()); v.Ready {
		t.Error("expected not ready while recording")
	}
}
