package main

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/timesync"
)

// systemdServiceController drives hw_sync/sys_sync as systemd units and
// tails their journal output for offset/freq scalars, per the
// ServiceController boundary internal/timesync documents as a justified
// stdlib os/exec boundary (no pack library wraps systemd unit management or
// log tailing).
type systemdServiceController struct {
	log zerolog.Logger

	mu        sync.RWMutex
	hwOffset  float64
	hwFreq    float64
	sysOffset float64
	sysFreq   float64
	lastSync  time.Time
	haveData  bool

	cancelTail context.CancelFunc
}

func newSystemdServiceController(log zerolog.Logger) *systemdServiceController {
	return &systemdServiceController{log: log.With().Str("component", "timesync.servicecontroller").Logger()}
}

func (s *systemdServiceController) StartServices(ctx context.Context, role timesync.Role) error {
	if err := runSystemctl(ctx, "start", "hw_sync.service"); err != nil {
		return fmt.Errorf("start hw_sync: %w", err)
	}
	if err := runSystemctl(ctx, "start", "sys_sync.service"); err != nil {
		return fmt.Errorf("start sys_sync: %w", err)
	}

	tailCtx, cancel := context.WithCancel(context.Background())
	s.cancelTail = cancel
	go s.tailJournal(tailCtx, "hw_sync.service", true)
	go s.tailJournal(tailCtx, "sys_sync.service", false)
	return nil
}

func (s *systemdServiceController) StopServices(ctx context.Context) error {
	if s.cancelTail != nil {
		s.cancelTail()
	}
	_ = runSystemctl(ctx, "stop", "hw_sync.service")
	_ = runSystemctl(ctx, "stop", "sys_sync.service")
	return nil
}

func (s *systemdServiceController) RestartSysSync(ctx context.Context) error {
	return runSystemctl(ctx, "restart", "sys_sync.service")
}

func (s *systemdServiceController) DisableCompetingNTP(ctx context.Context) error {
	return runSystemctl(ctx, "stop", "systemd-timesyncd.service")
}

func (s *systemdServiceController) EnableCompetingNTP(ctx context.Context) error {
	return runSystemctl(ctx, "start", "systemd-timesyncd.service")
}

var scalarLine = regexp.MustCompile(`offset\s+([-\d.]+)\S*\s+freq\s+([-\d.]+)`)

// tailJournal follows a unit's journal and parses offset/freq scalars out
// of each log line, the same "offset ... freq ..." format hw_sync/sys_sync
// emit per spec §4.3.
func (s *systemdServiceController) tailJournal(ctx context.Context, unit string, hw bool) {
	cmd := exec.CommandContext(ctx, "journalctl", "-u", unit, "-f", "-n", "0", "--output=cat")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.log.Warn().Err(err).Str("unit", unit).Msg("journalctl pipe failed")
		return
	}
	if err := cmd.Start(); err != nil {
		s.log.Warn().Err(err).Str("unit", unit).Msg("journalctl start failed")
		return
	}
	defer cmd.Wait()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		m := scalarLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		offset, err1 := strconv.ParseFloat(m[1], 64)
		freq, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		s.mu.Lock()
		if hw {
			s.hwOffset, s.hwFreq = offset, freq
		} else {
			s.sysOffset, s.sysFreq = offset, freq
		}
		s.lastSync = time.Now()
		s.haveData = true
		s.mu.Unlock()
	}
}

func (s *systemdServiceController) TailScalars() (hwOffsetUS, hwFreqPPB, sysOffsetUS, sysFreqPPB float64, lastSync time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hwOffset, s.hwFreq, s.sysOffset, s.sysFreq, s.lastSync, s.haveData
}

func runSystemctl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl %v: %w: %s", args, err, string(out))
	}
	return nil
}
