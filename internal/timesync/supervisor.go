// Package timesync supervises the two cooperating time daemons of spec §4.3
// (hw_sync speaking the wire protocol, sys_sync disciplining the system
// clock) as managed services, tails their log output for offset/freq
// scalars, and restarts sys_sync under an exponential-backoff-with-cap
// policy. The retry shape — attempt k waits base_delay*2^k, capped at k=5,
// reset after a stabilisation window — is grounded on Tutu-Engine's
// internal/infra/scheduler.RetryQueue backoff formula, simplified from its
// priority-heap/hash-ring task-scheduling form down to a single timer since
// SAVIOUR only ever supervises one daemon pair per host.
package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role is which side of the hw_sync/sys_sync pair a host runs.
type Role string

const (
	RoleGrandmaster Role = "grandmaster"
	RoleSlave       Role = "slave"
)

// ServiceController starts/stops/restarts the managed hw_sync and sys_sync
// services and exposes their latest log-tail scalars. The concrete service
// manager (systemd, a supervised subprocess, whatever the host provides) is
// injected so the supervisor itself never polls a raw child process.
type ServiceController interface {
	StartServices(ctx context.Context, role Role) error
	StopServices(ctx context.Context) error
	RestartSysSync(ctx context.Context) error
	DisableCompetingNTP(ctx context.Context) error
	EnableCompetingNTP(ctx context.Context) error
	// TailScalars returns the offset/freq pair last parsed from each
	// daemon's log stream, in microseconds and parts-per-billion.
	TailScalars() (hwOffsetUS, hwFreqPPB, sysOffsetUS, sysFreqPPB float64, lastSync time.Time, ok bool)
}

// Config parameterizes the restart policy (spec §4.3).
type Config struct {
	OffsetThresholdUS float64
	FreqThresholdPPB  float64
	BaseDelay         time.Duration
	StabilizeWindow   time.Duration
	MaxAttempt        int // cap on k; spec fixes this at 5
	PollInterval      time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		OffsetThresholdUS: 5000, // 5ms
		FreqThresholdPPB:  1e5,
		BaseDelay:         time.Second,
		StabilizeWindow:   60 * time.Second,
		MaxAttempt:        5,
		PollInterval:      5 * time.Second,
	}
}

// Status is the readout contract of spec §4.3: "status() returns last
// offset, last freq, last sync wall-clock, service activity state, and role".
type Status struct {
	Role        Role
	Active      bool
	LastSync    time.Time
	OffsetUS    float64
	FreqPPB     float64
	AttemptCount int
}

// Supervisor drives the start/tail/restart loop for one host's time-sync
// services.
type Supervisor struct {
	svc  ServiceController
	cfg  Config
	role Role
	log  zerolog.Logger

	mu             sync.RWMutex
	active         bool
	attempt        int
	lastRestart    time.Time
	lastDivergedAt time.Time // zero means "stable since start"
	lastStatus     Status
}

// NewSupervisor creates a Supervisor for the given role.
func NewSupervisor(svc ServiceController, cfg Config, role Role, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		svc:  svc,
		cfg:  cfg,
		role: role,
		log:  log.With().Str("component", "timesync").Str("role", string(role)).Logger(),
	}
}

// Run disables any competing NTP daemon, starts the managed services, and
// polls for drift until ctx is cancelled, at which point it stops the
// managed services and re-enables the competing daemon (spec §4.3).
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.svc.DisableCompetingNTP(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to disable competing NTP daemon")
	}
	if err := s.svc.StartServices(ctx, s.role); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer func() {
		_ = s.svc.StopServices(context.Background())
		_ = s.svc.EnableCompetingNTP(context.Background())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Supervisor) poll(ctx context.Context) {
	hwOff, hwFreq, sysOff, sysFreq, lastSync, ok := s.svc.TailScalars()
	if !ok {
		return
	}

	s.mu.Lock()
	s.lastStatus = Status{
		Role:         s.role,
		Active:       s.active,
		LastSync:     lastSync,
		OffsetUS:     sysOff,
		FreqPPB:      sysFreq,
		AttemptCount: s.attempt,
	}
	lastDivergedAt := s.lastDivergedAt
	attempt := s.attempt
	s.mu.Unlock()

	diverged := absf(hwOff) > s.cfg.OffsetThresholdUS || absf(hwFreq) > s.cfg.FreqThresholdPPB ||
		absf(sysOff) > s.cfg.OffsetThresholdUS || absf(sysFreq) > s.cfg.FreqThresholdPPB

	now := time.Now()
	if !diverged {
		if attempt > 0 && (lastDivergedAt.IsZero() || now.Sub(lastDivergedAt) >= s.cfg.StabilizeWindow) {
			s.mu.Lock()
			s.attempt = 0
			s.lastStatus.AttemptCount = 0
			s.mu.Unlock()
			s.log.Info().Msg("time sync stable, attempt counter reset")
		}
		return
	}

	s.mu.Lock()
	s.lastDivergedAt = now
	due := s.lastRestart.IsZero() || now.Sub(s.lastRestart) >= s.backoffDelay(s.attempt)
	canAttempt := s.attempt < s.cfg.MaxAttempt
	s.mu.Unlock()

	if !due || !canAttempt {
		return
	}

	s.log.Warn().Float64("hw_offset_us", hwOff).Float64("sys_offset_us", sysOff).Msg("time sync diverged, restarting sys_sync")
	if err := s.svc.RestartSysSync(ctx); err != nil {
		s.log.Error().Err(err).Msg("restart sys_sync failed")
		return
	}

	s.mu.Lock()
	s.attempt++
	s.lastStatus.AttemptCount = s.attempt
	s.lastRestart = now
	s.mu.Unlock()
}

// backoffDelay returns base_delay * 2^attempt, the formula of spec §4.3.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	d := s.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// StatusNow returns the current readout (spec §4.3's status() contract).
func (s *Supervisor) StatusNow() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStatus
}

// IsSyncGood reports spec §4.3's readiness criterion: |offset| within
// threshold and freq scalars non-null (represented here as the status
// having been populated at least once).
func (s *Supervisor) IsSyncGood() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastStatus.LastSync.IsZero() {
		return false
	}
	return absf(s.lastStatus.OffsetUS) <= s.cfg.OffsetThresholdUS
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
