// Package health implements the module heartbeat publisher and the
// controller-side liveness monitor of spec §4.5. It is grounded on the
// periodic-check-loop shape of Tutu-Engine's internal/health.Checker, split
// into a module half that gathers a Sample and a controller half that times
// out records by module id.
package health

import "time"

// Sample is the rolling per-module health window published in every
// heartbeat (spec §3 "Health sample").
type Sample struct {
	WallTimestamp   time.Time
	CPUTempC        float64
	CPUUtilPercent  float64
	MemUtilPercent  float64
	UptimeSeconds   float64
	FreeSpacePercent float64
	HWSyncOffsetUS  float64
	HWSyncFreqPPB   float64
	SysSyncOffsetUS float64
	SysSyncFreqPPB  float64
	Recording       bool
	Streaming       bool
}

// Gatherer produces a Sample at heartbeat time. The module's main package
// supplies the concrete implementation (reading /proc, statfs, and the
// timesync supervisor's latest parsed values).
type Gatherer interface {
	Gather() Sample
}

// GathererFunc adapts a plain function to Gatherer.
type GathererFunc func() Sample

func (f GathererFunc) Gather() Sample { return f() }
