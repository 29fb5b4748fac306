package lifecycle

import (
	"testing"
	"time"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
)

func newTestMachine(t *testing.T) (*Machine, *registry.Registry) {
	t.Helper()
	reg := registry.New(eventbus.New(8))
	if _, err := reg.Upsert("a", "10.0.0.1", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	return New(reg, 120*time.Second), reg
}

func TestNotReadyToReady(t *testing.T) {
	m, reg := newTestMachine(t)
	now := time.Now()
	if err := m.Apply("a", registry.StatusReady, "", now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rec, _ := reg.Get("a")
	if rec.Status != registry.StatusReady {
		t.Errorf("status = %q, want READY", rec.Status)
	}
	if rec.ReadyExpiry.Before(now) {
		t.Error("ready expiry should be in the future")
	}
}

func TestReadyToRecordingToNotReady(t *testing.T) {
	m, reg := newTestMachine(t)
	now := time.Now()
	if err := m.Apply("a", registry.StatusReady, "", now); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply("a", registry.StatusRecording, "", now); err != nil {
		t.Fatalf("Apply READY->RECORDING: %v", err)
	}
	if m.CanRecord("a", now) {
		t.Error("CanRecord should be false once module is RECORDING")
	}
	if err := m.Apply("a", registry.StatusNotReady, "stopped", now); err != nil {
		t.Fatalf("Apply RECORDING->NOT_READY: %v", err)
	}
	rec, _ := reg.Get("a")
	if rec.Status != registry.StatusNotReady {
		t.Errorf("status = %q, want NOT_READY", rec.Status)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m, _ := newTestMachine(t)
	now := time.Now()
	if err := m.Apply("a", registry.StatusRecording, "", now); err == nil {
		t.Error("expected error going directly NOT_READY -> RECORDING")
	}
}

func TestFaultReachableFromAnyState(t *testing.T) {
	m, reg := newTestMachine(t)
	now := time.Now()
	if err := m.Apply("a", registry.StatusFault, "device error", now); err != nil {
		t.Fatalf("Apply NOT_READY->FAULT: %v", err)
	}
	rec, _ := reg.Get("a")
	if rec.Status != registry.StatusFault {
		t.Errorf("status = %q, want FAULT", rec.Status)
	}
}

func TestCanRecordRespectsReadyExpiry(t *testing.T) {
	m, _ := newTestMachine(t)
	now := time.Now()
	if err := m.Apply("a", registry.StatusReady, "", now); err != nil {
		t.Fatal(err)
	}
	if !m.CanRecord("a", now) {
		t.Error("should be able to record immediately after READY")
	}
	if m.CanRecord("a", now.Add(200*time.Second)) {
		t.Error("should not be able to record after ready_expiry has passed")
	}
}
