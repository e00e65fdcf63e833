// Package selftest is the black-box verification gate run after a change is
// applied (and by the watchdog for diagnostics). It never inspects the
// change itself; it probes the running deployment from the outside.
package selftest

import (
	"context"
	"fmt"
	"strings"

	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
)

// Check is one verification step.
type Check interface {
	Name() string
	Run(ctx context.Context) error
}

// Result is the aggregate outcome. Not persisted; consumed immediately by
// the executor or watchdog.
type Result struct {
	OK     bool
	Output string
	Failed []string
}

// Suite runs all checks in order. A failing check fails the suite but does
// not stop the remaining checks: the diagnostic output should show the full
// picture, not just the first break.
type Suite struct {
	checks []Check
}

func NewSuite(checks ...Check) *Suite { return &Suite{checks: checks} }

// Add appends a check.
func (s *Suite) Add(c Check) { s.checks = append(s.checks, c) }

// Len returns the number of configured checks.
func (s *Suite) Len() int { return len(s.checks) }

// Run executes every check and aggregates pass/fail with per-check
// diagnostics.
func (s *Suite) Run(ctx context.Context) Result {
	var b strings.Builder
	var failed []string
	for _, c := range s.checks {
		if err := c.Run(ctx); err != nil {
			failed = append(failed, c.Name())
			fmt.Fprintf(&b, "FAIL %s: %v\n", c.Name(), err)
			continue
		}
		fmt.Fprintf(&b, "ok   %s\n", c.Name())
	}
	return Result{OK: len(failed) == 0, Output: b.String(), Failed: failed}
}

// LivenessCheck verifies every configured service is reachable through its
// probe.
type LivenessCheck struct {
	Sup      supervisor.Supervisor
	Services []supervisor.Service
}

func (c LivenessCheck) Name() string { return "service-liveness" }

func (c LivenessCheck) Run(ctx context.Context) error {
	var down []string
	for _, svc := range c.Services {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.Sup.IsReachable(svc) {
			down = append(down, svc.Name)
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("unreachable: %s", strings.Join(down, ", "))
	}
	return nil
}
