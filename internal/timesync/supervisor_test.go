package timesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeService struct {
	mu       sync.Mutex
	restarts int
	offsetUS float64
	freqPPB  float64
	synced   bool
}

func (f *fakeService) StartServices(ctx context.Context, role Role) error { return nil }
func (f *fakeService) StopServices(ctx context.Context) error            { return nil }
func (f *fakeService) DisableCompetingNTP(ctx context.Context) error      { return nil }
func (f *fakeService) EnableCompetingNTP(ctx context.Context) error       { return nil }

func (f *fakeService) RestartSysSync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeService) TailScalars() (float64, float64, float64, float64, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.synced {
		return 0, 0, 0, 0, time.Time{}, false
	}
	return f.offsetUS, f.freqPPB, f.offsetUS, f.freqPPB, time.Now(), true
}

func (f *fakeService) setDiverged(offsetUS float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = true
	f.offsetUS = offsetUS
}

func (f *fakeService) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func TestPollRestartsOnDivergence(t *testing.T) {
	svc := &fakeService{}
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.BaseDelay = time.Hour // only one restart should fire within the test window
	sup := NewSupervisor(svc, cfg, RoleSlave, zerolog.Nop())

	svc.setDiverged(10000) // 10ms, over the 5ms threshold
	sup.poll(context.Background())
	sup.poll(context.Background())
	sup.poll(context.Background())

	if svc.restartCount() != 1 {
		t.Errorf("restartCount = %d, want 1 (backoff should suppress repeats)", svc.restartCount())
	}
}

func TestPollDoesNotRestartWhenStable(t *testing.T) {
	svc := &fakeService{}
	cfg := DefaultConfig()
	sup := NewSupervisor(svc, cfg, RoleSlave, zerolog.Nop())

	svc.setDiverged(10) // well within threshold
	sup.poll(context.Background())

	if svc.restartCount() != 0 {
		t.Errorf("restartCount = %d, want 0 when in sync", svc.restartCount())
	}
	if !sup.IsSyncGood() {
		t.Error("IsSyncGood() = false, want true when offset within threshold")
	}
}

func TestAttemptCounterResetsAfterStabilizeWindow(t *testing.T) {
	svc := &fakeService{}
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.StabilizeWindow = 10 * time.Millisecond
	sup := NewSupervisor(svc, cfg, RoleSlave, zerolog.Nop())

	svc.setDiverged(10000)
	sup.poll(context.Background())
	if sup.StatusNow().AttemptCount != 1 {
		t.Fatalf("attempt count after first restart = %d, want 1", sup.StatusNow().AttemptCount)
	}

	svc.setDiverged(1) // recovers
	time.Sleep(20 * time.Millisecond)
	sup.poll(context.Background())

	if sup.StatusNow().AttemptCount != 0 {
		t.Errorf("attempt count after stabilize window = %d, want reset to 0", sup.StatusNow().AttemptCount)
	}
}
