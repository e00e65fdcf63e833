// Package supervisor is the adapter to the process supervisor that owns the
// managed deployment. The pipeline never starts processes of its own; it
// consumes the supervisor only through stop, restart and reachability
// checks.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Hensonam23/self-learning-ai/internal/probe"
)

// Service describes one long-running process the executor must stop and
// restart around a change, plus its liveness probe.
type Service struct {
	Name           string
	StopCommand    string // full shell command; default "systemctl stop <name>"
	RestartCommand string // full shell command; default "systemctl restart <name>"
	Probe          probe.Probe
}

// WithDefaults fills empty command templates from the service name.
func (s Service) WithDefaults() Service {
	if strings.TrimSpace(s.StopCommand) == "" {
		s.StopCommand = "systemctl stop " + s.Name
	}
	if strings.TrimSpace(s.RestartCommand) == "" {
		s.RestartCommand = "systemctl restart " + s.Name
	}
	return s
}

// Supervisor is the collaborator contract. Implementations must be safe for
// concurrent use.
type Supervisor interface {
	Stop(ctx context.Context, svc Service) error
	Restart(ctx context.Context, svc Service) error
	IsReachable(svc Service) bool
}

// ExecSupervisor drives an OS service manager by shelling out the service's
// command templates.
type ExecSupervisor struct{}

func (ExecSupervisor) Stop(ctx context.Context, svc Service) error {
	return runShell(ctx, svc.WithDefaults().StopCommand)
}

func (ExecSupervisor) Restart(ctx context.Context, svc Service) error {
	return runShell(ctx, svc.WithDefaults().RestartCommand)
}

func (ExecSupervisor) IsReachable(svc Service) bool {
	if svc.Probe == nil {
		return false
	}
	ok, err := svc.Probe.Alive()
	return err == nil && ok
}

func runShell(ctx context.Context, command string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return fmt.Errorf("supervisor: empty command")
	}
	// #nosec G204 -- commands come from operator config
	if out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmd).CombinedOutput(); err != nil {
		return fmt.Errorf("supervisor: %q: %w: %s", cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WaitReachable polls svc until it is reachable or timeout elapses. Bounded
// by design: a service that never comes back is reported as still down, the
// caller decides what that means.
func WaitReachable(ctx context.Context, sup Supervisor, svc Service, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if sup.IsReachable(svc) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
