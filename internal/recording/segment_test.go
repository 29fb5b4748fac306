package recording

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeWriter struct {
	mu      sync.Mutex
	started []string
	stops   int
}

func (w *fakeWriter) Start(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = append(w.started, path)
	return os.WriteFile(path, []byte("data"), 0o644)
}

func (w *fakeWriter) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	return nil
}

type fakeFixer struct{ calls []string }

func (f *fakeFixer) Fix(path string) error {
	f.calls = append(f.calls, path)
	return nil
}

type fakeStager struct {
	mu    sync.Mutex
	staged []Segment
}

func (s *fakeStager) Stage(seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, seg)
	return nil
}

func (s *fakeStager) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

func TestStartStopProducesOneSegment(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{}
	fixer := &fakeFixer{}
	stager := &fakeStager{}
	sm := New(dir, time.Hour, writer, fixer, stager, nil, zerolog.Nop())

	if err := sm.Start(context.Background(), "sess_a", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sm.IsRecording() {
		t.Fatal("should be recording")
	}
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sm.IsRecording() {
		t.Error("should not be recording after Stop")
	}
	if stager.count() != 1 {
		t.Fatalf("staged segments = %d, want 1", stager.count())
	}
	if len(fixer.calls) != 1 {
		t.Errorf("format-fix calls = %d, want 1", len(fixer.calls))
	}
}

func TestRolloverProducesMultipleSegments(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{}
	stager := &fakeStager{}
	sm := New(dir, 30*time.Millisecond, writer, nil, stager, nil, zerolog.Nop())

	if err := sm.Start(context.Background(), "sess_b", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(110 * time.Millisecond) // allow ~2-3 rollovers
	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stager.count() < 2 {
		t.Errorf("staged segments = %d, want at least 2 from rollover", stager.count())
	}
}

func TestAutoStopClosesSegmentAfterDuration(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{}
	stager := &fakeStager{}
	sm := New(dir, time.Hour, writer, nil, stager, nil, zerolog.Nop())

	dur := 30 * time.Millisecond
	if err := sm.Start(context.Background(), "sess_c", &dur); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !sm.IsRecording() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("auto-stop never closed the session")
}

func TestDoubleStartRejected(t *testing.T) {
	dir := t.TempDir()
	sm := New(dir, time.Hour, &fakeWriter{}, nil, &fakeStager{}, nil, zerolog.Nop())
	if err := sm.Start(context.Background(), "sess_d", nil); err != nil {
		t.Fatal(err)
	}
	defer sm.Stop()
	if err := sm.Start(context.Background(), "sess_d2", nil); err == nil {
		t.Error("expected error starting a second session while one is active")
	}
}
