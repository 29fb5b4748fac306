// Package readiness runs the module-side pre-recording check suite of spec
// §4.6: "module is running, recording directory writable, free disk exceeds
// a threshold, sync offset within threshold, not currently recording, plus
// any module-type-specific checks." Each check returns (ok, reason) and the
// first failure short-circuits, the same shape as Tutu-Engine's
// internal/health.Checker — generalized here from a periodic background
// loop into an on-demand suite invoked by validate_readiness.
package readiness

import "context"

// Check is one readiness probe. A Check must not block indefinitely; long
// probes should respect ctx cancellation.
type Check struct {
	Name string
	Run  func(ctx context.Context) (ok bool, reason string)
}

// Verdict is the result of running a Suite: the first failing check's
// reason, or ok with no reason if every check passed.
type Verdict struct {
	Ready  bool
	Reason string
	Failed string // name of the failing check, empty if Ready
}

// Suite is an ordered list of checks run in sequence, short-circuiting on
// the first failure (spec §4.6).
type Suite struct {
	checks []Check
}

// NewSuite builds a suite from the given checks, run in order.
func NewSuite(checks ...Check) *Suite {
	return &Suite{checks: checks}
}

// Validate runs every check in order and returns the first failure, or a
// passing Verdict if all checks pass.
func (s *Suite) Validate(ctx context.Context) Verdict {
	for _, c := range s.checks {
		ok, reason := c.Run(ctx)
		if !ok {
			return Verdict{Ready: false, Reason: reason, Failed: c.Name}
		}
	}
	return Verdict{Ready: true}
}

// Names returns the check names in run order, for diagnostics.
func (s *Suite) Names() []string {
	names := make([]string, len(s.checks))
	for i, c := range s.checks {
		names[i] = c.Name
	}
	return names
}
