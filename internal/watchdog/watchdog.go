// Package watchdog keeps the managed services alive between maintenance
// windows. Each tick probes every service and restarts the unreachable ones;
// a service that stays down after a restart escalates to a diagnostic
// self-test run and an error.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hensonam23/self-learning-ai/internal/lock"
	"github.com/Hensonam23/self-learning-ai/internal/metrics"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
)

const (
	defaultRecoverWait  = 20 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Options wires a Watchdog. Lock may be nil when no maintenance coordination
// is wanted; Suite may be nil to skip the diagnostic run.
type Options struct {
	Lock       *lock.Lock
	Supervisor supervisor.Supervisor
	Services   []supervisor.Service
	Suite      *selftest.Suite
	Logger     *slog.Logger
	// RecoverWait bounds how long a restarted service is given to come back
	// before the tick reports it down.
	RecoverWait  time.Duration
	PollInterval time.Duration
}

type Watchdog struct {
	lk           *lock.Lock
	sup          supervisor.Supervisor
	services     []supervisor.Service
	suite        *selftest.Suite
	log          *slog.Logger
	recoverWait  time.Duration
	pollInterval time.Duration
}

func New(o Options) *Watchdog {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RecoverWait <= 0 {
		o.RecoverWait = defaultRecoverWait
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return &Watchdog{
		lk:           o.Lock,
		sup:          o.Supervisor,
		services:     o.Services,
		suite:        o.Suite,
		log:          o.Logger,
		recoverWait:  o.RecoverWait,
		pollInterval: o.PollInterval,
	}
}

// Tick runs one health pass. While a fresh maintenance lock is held the pass
// is a no-op: services are expected to be stopped mid-apply and restarting
// them would corrupt the run in progress. A stale lock does not suppress the
// pass.
func (w *Watchdog) Tick(ctx context.Context) error {
	if w.lk != nil && w.lk.Held() {
		w.log.Debug("maintenance in progress, watchdog pass skipped")
		return nil
	}

	var down []string
	for _, svc := range w.services {
		if err := ctx.Err(); err != nil {
			return err
		}
		if svc.Probe == nil {
			continue
		}
		if w.sup.IsReachable(svc) {
			continue
		}
		w.log.Warn("service unreachable, restarting", "service", svc.Name)
		metrics.IncWatchdogRestart(svc.Name)
		if err := w.sup.Restart(ctx, svc); err != nil {
			w.log.Error("restart service", "service", svc.Name, "error", err)
			down = append(down, svc.Name)
			continue
		}
		if !supervisor.WaitReachable(ctx, w.sup, svc, w.recoverWait, w.pollInterval) {
			down = append(down, svc.Name)
			continue
		}
		w.log.Info("service recovered", "service", svc.Name)
	}
	if len(down) == 0 {
		return nil
	}

	if w.suite != nil && w.suite.Len() > 0 {
		res := w.suite.Run(ctx)
		for _, name := range res.Failed {
			metrics.IncSelftestFailure(name)
		}
		w.log.Error("diagnostic self-test after failed recovery",
			"down", down, "selftest_ok", res.OK, "output", res.Output)
	}
	return fmt.Errorf("services still down after restart: %s", strings.Join(down, ", "))
}
