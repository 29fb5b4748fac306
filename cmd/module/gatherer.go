package main

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/saviour/saviour/internal/health"
	"github.com/saviour/saviour/internal/recording"
	"github.com/saviour/saviour/internal/timesync"
)

// procGatherer reads CPU/memory/uptime from /proc and free space via
// syscall.Statfs, combining them with the time-sync supervisor's latest
// scalars into one health.Sample (spec §3). No repo in the retrieval pack
// parses /proc or wraps gopsutil, so this stays a direct stdlib reader
// rather than reaching for an out-of-pack dependency.
type procGatherer struct {
	recordingRoot string
	sync          *timesync.Supervisor
	recording     *recording.StateMachine
	streaming     func() bool

	prevIdle  uint64
	prevTotal uint64
}

func newProcGatherer(recordingRoot string, sync *timesync.Supervisor) *procGatherer {
	return &procGatherer{recordingRoot: recordingRoot, sync: sync}
}

func (g *procGatherer) Gather() health.Sample {
	now := time.Now()
	s := health.Sample{WallTimestamp: now}

	s.CPUUtilPercent = g.cpuUtilPercent()
	s.MemUtilPercent = memUtilPercent()
	s.UptimeSeconds = uptimeSeconds()
	s.FreeSpacePercent = freeSpacePercent(g.recordingRoot)
	s.CPUTempC = cpuTempC()

	if g.sync != nil {
		st := g.sync.StatusNow()
		s.SysSyncOffsetUS = st.OffsetUS
		s.SysSyncFreqPPB = st.FreqPPB
	}
	if g.recording != nil {
		s.Recording = g.recording.IsRecording()
	}
	if g.streaming != nil {
		s.Streaming = g.streaming()
	}
	return s
}

func (g *procGatherer) cpuUtilPercent() float64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}
	var total uint64
	var idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}

	defer func() { g.prevIdle, g.prevTotal = idle, total }()
	if g.prevTotal == 0 || total <= g.prevTotal {
		return 0
	}
	deltaTotal := total - g.prevTotal
	deltaIdle := idle - g.prevIdle
	if deltaTotal == 0 {
		return 0
	}
	return 100 * (1 - float64(deltaIdle)/float64(deltaTotal))
}

func memUtilPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * (1 - available/total)
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[1], 64)
	return v
}

func uptimeSeconds() float64 {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}

func freeSpacePercent(dir string) float64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	if stat.Blocks == 0 {
		return 0
	}
	return 100 * float64(stat.Bavail) / float64(stat.Blocks)
}

// cpuTempC reads the first thermal zone exposed by the kernel. Boards
// without a thermal zone (or running in a container) simply report 0.
func cpuTempC() float64 {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0
	}
	milliC, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return milliC / 1000
}
