package export

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// DestinationLimiter installs a traffic-shaping filter for the current
// export destination (spec §4.8: "hierarchical token bucket with configured
// max bitrate and burst... protects other traffic classes, notably the
// time-sync channel, from export bursts"). golang.org/x/time/rate provides
// the token-bucket primitive; the hierarchical/per-IP qdisc install itself
// is host-specific and left to the InstallFn hook so this type stays
// testable without root/tc access.
type DestinationLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	currentDest string
	maxBPS      int
	burstB      int

	// InstallFn installs (or tears down, when dest == "") a kernel-level
	// traffic filter for dest on the export port. nil means no filter is
	// installed; the in-process token bucket then shapes only callers of
	// WaitN, and the export Pipeline does not call WaitN.
	InstallFn func(ctx context.Context, dest string, maxBPS, burstB int) error
}

// NewDestinationLimiter creates a limiter with the given max bitrate
// (bytes/sec) and burst (bytes).
func NewDestinationLimiter(maxBPS, burstB int) *DestinationLimiter {
	return &DestinationLimiter{
		limiter: rate.NewLimiter(rate.Limit(maxBPS), burstB),
		maxBPS:  maxBPS,
		burstB:  burstB,
	}
}

// InstallFor installs the filter for dest, tearing down and reinstalling if
// the destination has changed since the last call (spec §4.8: "on
// destination change, tear the filter down and reinstall").
func (d *DestinationLimiter) InstallFor(ctx context.Context, dest string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dest == d.currentDest {
		return nil
	}
	if d.InstallFn == nil {
		d.currentDest = dest
		return nil
	}
	if d.currentDest != "" {
		if err := d.InstallFn(ctx, "", 0, 0); err != nil {
			return err
		}
	}
	if err := d.InstallFn(ctx, dest, d.maxBPS, d.burstB); err != nil {
		return err
	}
	d.currentDest = dest
	return nil
}

// WaitN blocks until n bytes may be sent under the in-process token bucket,
// providing software-level shaping even when no kernel filter is installed.
func (d *DestinationLimiter) WaitN(ctx context.Context, n int) error {
	return d.limiter.WaitN(ctx, n)
}
