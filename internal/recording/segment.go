package recording

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/health"
)

// Segment is one closed (or open) recording segment on a module (spec
// §4.7).
type Segment struct {
	Index      int
	Path       string
	OpenedAt   time.Time
	ClosedAt   time.Time
	Sidecars   []string // frame-time list, event CSV, health CSV
}

// DeviceWriter is the device-specific capture back-end (video encoder,
// audio sink, GPIO line driver — out of scope per spec §1; an external
// collaborator reached only through this interface). Start begins writing
// to path; Stop flushes and closes it.
type DeviceWriter interface {
	Start(ctx context.Context, path string) error
	Stop() error
}

// FormatFixer re-stamps a closed segment's container timestamps to begin at
// zero — the "format-fix pass" of spec §4.7's segment close invariant (ii).
type FormatFixer interface {
	Fix(path string) error
}

// Stager hands a closed segment to Export as "staged" (spec §4.7).
type Stager interface {
	Stage(seg Segment) error
}

// StateMachine is the per-module recording state machine of spec §4.7: a
// device-specific writer, an auto-stop timer, and a health-metadata writer
// cooperate through segment rollover decided by this machine, guarded by
// mu per spec §5's single-owner discipline ("only the writer produces
// bytes, only the monitor decides rollover").
type StateMachine struct {
	mu sync.Mutex

	dir           string
	segmentLength time.Duration
	writer        DeviceWriter
	fixer         FormatFixer
	stager        Stager
	gather        health.Gatherer
	log           zerolog.Logger

	recording   bool
	sessionName string
	current     *Segment
	nextIndex   int

	cancel      context.CancelFunc
	stopped     chan struct{}
}

// New creates a StateMachine writing segments under dir.
func New(dir string, segmentLength time.Duration, writer DeviceWriter, fixer FormatFixer, stager Stager, gather health.Gatherer, log zerolog.Logger) *StateMachine {
	return &StateMachine{
		dir:           dir,
		segmentLength: segmentLength,
		writer:        writer,
		fixer:         fixer,
		stager:        stager,
		gather:        gather,
		log:           log.With().Str("component", "recording.segment").Logger(),
	}
}

// IsRecording reports whether a session is currently open (satisfies
// readiness.RecordingState).
func (m *StateMachine) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// Start opens segment 0 and launches the rollover monitor, the auto-stop
// timer (if duration is set), and the health-metadata writer (spec §4.7).
func (m *StateMachine) Start(ctx context.Context, sessionName string, duration *time.Duration) error {
	m.mu.Lock()
	if m.recording {
		m.mu.Unlock()
		return fmt.Errorf("recording: already recording")
	}
	m.recording = true
	m.sessionName = sessionName
	m.nextIndex = 0
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(m.dir, sessionName), 0o755); err != nil {
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
		return fmt.Errorf("recording: create session dir: %w", err)
	}

	if err := m.openSegment(ctx); err != nil {
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	go m.rolloverLoop(runCtx)
	go m.healthWriterLoop(runCtx)
	if duration != nil {
		go m.autoStop(runCtx, *duration)
	}
	return nil
}

// Stop closes the final segment, stops the cooperating loops, and returns
// once everything has been flushed (spec §4.7: "close the final segment,
// stop loops, and emit recording_stopped").
func (m *StateMachine) Stop() error {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return fmt.Errorf("recording: not recording")
	}
	cancel := m.cancel
	stopped := m.stopped
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeSegmentLocked(); err != nil {
		return err
	}
	m.recording = false
	return nil
}

func (m *StateMachine) rolloverLoop(ctx context.Context) {
	defer close(m.stopped)
	ticker := time.NewTicker(m.segmentLength)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rollover(ctx)
		}
	}
}

func (m *StateMachine) rollover(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeSegmentLocked(); err != nil {
		m.log.Error().Err(err).Msg("segment close failed mid-session")
		return
	}
	if err := m.openSegmentLocked(ctx); err != nil {
		m.log.Error().Err(err).Msg("segment open failed mid-session")
	}
}

func (m *StateMachine) openSegment(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openSegmentLocked(ctx)
}

func (m *StateMachine) openSegmentLocked(ctx context.Context) error {
	idx := m.nextIndex
	m.nextIndex++
	// Segment naming: <session>_(<segment_index>)_(<YYYYMMDD_HHMMSS>).<ext>,
	// sidecars sharing the same prefix with _timestamps.txt/_events.csv/
	// _health_metadata.csv suffixes (spec §6).
	name := fmt.Sprintf("%s_(%d)_(%s).mp4", m.sessionName, idx, time.Now().Format("20060102_150405"))
	path := filepath.Join(m.dir, m.sessionName, name)
	if err := m.writer.Start(ctx, path); err != nil {
		return fmt.Errorf("recording: start segment %d: %w", idx, err)
	}
	m.current = &Segment{Index: idx, Path: path, OpenedAt: time.Now()}
	return nil
}

// closeSegmentLocked implements spec §4.7's segment close invariants: flush
// before handoff, format-fix pass, sidecars finalized in the same step.
func (m *StateMachine) closeSegmentLocked() error {
	if m.current == nil {
		return nil
	}
	if err := m.writer.Stop(); err != nil {
		return fmt.Errorf("recording: stop segment writer: %w", err)
	}
	seg := *m.current
	seg.ClosedAt = time.Now()

	if m.fixer != nil {
		if err := m.fixer.Fix(seg.Path); err != nil {
			return fmt.Errorf("recording: format-fix segment %d: %w", seg.Index, err)
		}
	}
	seg.Sidecars = m.finalizeSidecars(seg)
	m.current = nil

	if m.stager != nil {
		if err := m.stager.Stage(seg); err != nil {
			return fmt.Errorf("recording: stage segment %d: %w", seg.Index, err)
		}
	}
	return nil
}

// finalizeSidecars closes out the health CSV for the segment (frame-time
// list and event CSV are produced by the device-specific writer, which is
// out of scope here — only the health sidecar is generic across module
// types).
func (m *StateMachine) finalizeSidecars(seg Segment) []string {
	healthPath := segmentBase(seg.Path) + "_health_metadata.csv"
	if _, err := os.Stat(healthPath); err == nil {
		return []string{healthPath}
	}
	return nil
}

// segmentBase strips a segment's extension to recover the shared sidecar
// prefix (spec §6).
func segmentBase(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}

// healthWriterLoop appends a health-sample CSV row every 5s to the current
// segment's sidecar (spec §4.7).
func (m *StateMachine) healthWriterLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.appendHealthRow()
		}
	}
}

func (m *StateMachine) appendHealthRow() {
	m.mu.Lock()
	seg := m.current
	m.mu.Unlock()
	if seg == nil || m.gather == nil {
		return
	}
	s := m.gather.Gather()
	path := segmentBase(seg.Path) + "_health_metadata.csv"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.Warn().Err(err).Msg("open health csv failed")
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{
		strconv.FormatInt(time.Now().Unix(), 10),
		strconv.FormatFloat(s.CPUTempC, 'f', 2, 64),
		strconv.FormatFloat(s.CPUUtilPercent, 'f', 2, 64),
		strconv.FormatFloat(s.FreeSpacePercent, 'f', 2, 64),
	})
}

func (m *StateMachine) autoStop(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		if err := m.Stop(); err != nil {
			m.log.Warn().Err(err).Msg("auto-stop failed")
		}
	}
}

// CurrentIndex returns the open segment's index, or -1 if not recording.
func (m *StateMachine) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return -1
	}
	return m.current.Index
}
