// Package executor runs the guarded apply sequence: under the maintenance
// lock it snapshots the critical files, stops the managed services, runs the
// proposal payload, verifies the result with the self-test suite, and either
// finalizes the change or rolls the files back.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Hensonam23/self-learning-ai/internal/gitops"
	"github.com/Hensonam23/self-learning-ai/internal/history"
	"github.com/Hensonam23/self-learning-ai/internal/lock"
	"github.com/Hensonam23/self-learning-ai/internal/metrics"
	"github.com/Hensonam23/self-learning-ai/internal/proposal"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
	"github.com/Hensonam23/self-learning-ai/internal/snapshot"
	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
)

// ErrRollbackFailed marks the one fatal outcome: the payload or self-test
// failed and the snapshot could not be restored, leaving the critical files
// in an unknown state. Callers must surface it loudly and stop automated
// retries.
var ErrRollbackFailed = snapshot.ErrRollbackFailed

// Status of a finished apply attempt.
type Status string

const (
	// StatusNoop means there was no pending proposal to apply.
	StatusNoop Status = "noop"
	// StatusSkipped means another run holds the maintenance lock.
	StatusSkipped Status = "skipped"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Failure reasons recorded on Outcome and in history events.
const (
	ReasonPayload  = "payload"
	ReasonSelftest = "selftest"
)

// Outcome describes one apply attempt.
type Outcome struct {
	Status         Status
	ProposalID     string
	Reason         string // payload|selftest when Status is failed
	ExitCode       int
	SnapshotID     string
	LogPath        string
	SelftestOutput string
}

// Config carries the apply-time tunables.
type Config struct {
	// CriticalFiles are snapshotted before the payload runs and restored on
	// any failure after it.
	CriticalFiles []string
	// PayloadTimeout bounds the payload run. Zero means no limit; a timed
	// out payload counts as a payload failure with exit code -1.
	PayloadTimeout time.Duration
	// RestartWait bounds, per service, how long a restart is given to become
	// reachable before the self-test suite takes over.
	RestartWait time.Duration
	// PollInterval is the reachability polling period during RestartWait.
	PollInterval time.Duration
}

const (
	defaultRestartWait  = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	sinkSendTimeout     = 5 * time.Second
)

// Options wires an Executor. Store, Lock, Snapshots and Supervisor are
// required; Committer may be nil and Sinks may be empty. Payload overrides
// how a proposal's payload becomes a runnable Command; the default runs the
// stored cmd.sh through ScriptCommand.
type Options struct {
	Store      *proposal.Store
	Lock       *lock.Lock
	Snapshots  *snapshot.Manager
	Supervisor supervisor.Supervisor
	Services   []supervisor.Service
	Suite      *selftest.Suite
	Committer  *gitops.Committer
	Sinks      []history.Sink
	Payload    func(p *proposal.Proposal) Command
	Logger     *slog.Logger
	Config     Config
}

type Executor struct {
	store     *proposal.Store
	lk        *lock.Lock
	snaps     *snapshot.Manager
	sup       supervisor.Supervisor
	services  []supervisor.Service
	suite     *selftest.Suite
	committer *gitops.Committer
	sinks     []history.Sink
	payload   func(p *proposal.Proposal) Command
	log       *slog.Logger
	cfg       Config
}

func New(o Options) *Executor {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Suite == nil {
		o.Suite = selftest.NewSuite()
	}
	if o.Config.RestartWait <= 0 {
		o.Config.RestartWait = defaultRestartWait
	}
	if o.Config.PollInterval <= 0 {
		o.Config.PollInterval = defaultPollInterval
	}
	if o.Payload == nil {
		store := o.Store
		o.Payload = func(p *proposal.Proposal) Command {
			return ScriptCommand{Path: store.PayloadPath(p.ID), Dir: store.Dir(p.ID)}
		}
	}
	return &Executor{
		store:     o.Store,
		lk:        o.Lock,
		snaps:     o.Snapshots,
		sup:       o.Supervisor,
		services:  o.Services,
		suite:     o.Suite,
		committer: o.Committer,
		sinks:     o.Sinks,
		payload:   o.Payload,
		log:       o.Logger,
		cfg:       o.Config,
	}
}

// ApplyLatest applies the newest pending proposal, if any.
func (e *Executor) ApplyLatest(ctx context.Context) (Outcome, error) {
	p, err := proposal.SelectNext(e.store)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil {
		e.log.Info("no pending proposal")
		return Outcome{Status: StatusNoop}, nil
	}
	return e.Apply(ctx, p)
}

// Apply runs the guarded sequence for one proposal. A lost lock race returns
// a skipped outcome with a nil error. The stored status only ever moves from
// pending to applied or failed; an in-flight run is visible solely through
// the lock file.
func (e *Executor) Apply(ctx context.Context, p *proposal.Proposal) (Outcome, error) {
	acquired, err := e.lk.TryAcquire()
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !acquired {
		e.log.Info("apply skipped, maintenance lock is held", "proposal", p.ID)
		metrics.IncApplyRun(string(StatusSkipped))
		e.emit(history.OutcomeSkipped, p, "", 0, time.Now())
		return Outcome{Status: StatusSkipped, ProposalID: p.ID}, nil
	}
	defer func() {
		if err := e.lk.Release(); err != nil {
			e.log.Error("release maintenance lock", "error", err)
		}
	}()

	started := time.Now()
	defer func() {
		metrics.ObserveApplyDuration(time.Since(started).Seconds())
	}()

	e.log.Info("applying proposal", "proposal", p.ID, "title", p.Title)

	snapID, err := e.snaps.Capture(e.cfg.CriticalFiles)
	if err != nil {
		return Outcome{}, fmt.Errorf("capture snapshot: %w", err)
	}
	out := Outcome{ProposalID: p.ID, SnapshotID: snapID, LogPath: e.store.LogPath(p.ID)}

	e.stopServices(ctx)

	code, runErr := e.runPayload(ctx, p)
	if runErr != nil {
		e.log.Warn("payload did not run cleanly", "proposal", p.ID, "error", runErr)
	}
	if code != 0 || runErr != nil {
		return e.fail(ctx, p, out, started, ReasonPayload, code)
	}

	e.restartServices(ctx)

	res := e.suite.Run(ctx)
	out.SelftestOutput = res.Output
	if !res.OK {
		for _, name := range res.Failed {
			metrics.IncSelftestFailure(name)
		}
		e.log.Warn("self-test failed after apply", "proposal", p.ID, "failed", res.Failed)
		return e.fail(ctx, p, out, started, ReasonSelftest, 0)
	}

	if err := e.store.SetStatus(p.ID, proposal.StatusApplied); err != nil {
		return out, fmt.Errorf("mark proposal applied: %w", err)
	}
	out.Status = StatusApplied
	metrics.IncApplyRun(string(StatusApplied))
	e.emit(history.OutcomeApplied, p, "", 0, started)
	e.log.Info("proposal applied", "proposal", p.ID, "title", p.Title)

	if e.committer != nil {
		if err := e.committer.CommitApplied(ctx, p.ID, p.Title); err != nil {
			e.log.Warn("commit of applied change failed", "proposal", p.ID, "error", err)
		}
	}
	return out, nil
}

// fail rolls the critical files back and records the failure. A restore
// error is fatal: the proposal is still marked failed so it is not retried,
// the services are deliberately left alone, and ErrRollbackFailed is
// returned.
func (e *Executor) fail(ctx context.Context, p *proposal.Proposal, out Outcome, started time.Time, reason string, exitCode int) (Outcome, error) {
	out.Status = StatusFailed
	out.Reason = reason
	out.ExitCode = exitCode

	if err := e.snaps.Restore(out.SnapshotID); err != nil {
		metrics.IncRollback("failed")
		e.log.Error("rollback failed, critical files are in an unknown state",
			"proposal", p.ID, "snapshot", out.SnapshotID, "error", err)
		if serr := e.store.SetStatus(p.ID, proposal.StatusFailed); serr != nil {
			e.log.Error("mark proposal failed", "proposal", p.ID, "error", serr)
		}
		e.emit(history.OutcomeRollbackFailed, p, reason, exitCode, started)
		return out, err
	}
	metrics.IncRollback("ok")

	e.restartServices(ctx)

	if err := e.store.SetStatus(p.ID, proposal.StatusFailed); err != nil {
		return out, fmt.Errorf("mark proposal failed: %w", err)
	}
	metrics.IncApplyRun(string(StatusFailed))
	e.emit(history.OutcomeFailed, p, reason, exitCode, started)
	e.log.Warn("proposal failed, files restored", "proposal", p.ID, "reason", reason, "exit_code", exitCode)
	return out, nil
}

// runPayload executes the proposal's stored script with combined output going
// to the proposal's log file.
func (e *Executor) runPayload(ctx context.Context, p *proposal.Proposal) (int, error) {
	logFile, err := os.Create(e.store.LogPath(p.ID))
	if err != nil {
		return -1, fmt.Errorf("open payload log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	runCtx := ctx
	if e.cfg.PayloadTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.PayloadTimeout)
		defer cancel()
	}
	return e.payload(p).Run(runCtx, logFile)
}

func (e *Executor) stopServices(ctx context.Context) {
	for _, svc := range e.services {
		if err := e.sup.Stop(ctx, svc); err != nil {
			e.log.Warn("stop service", "service", svc.Name, "error", err)
		}
	}
}

func (e *Executor) restartServices(ctx context.Context) {
	for _, svc := range e.services {
		if err := e.sup.Restart(ctx, svc); err != nil {
			e.log.Warn("restart service", "service", svc.Name, "error", err)
			continue
		}
		if svc.Probe == nil {
			continue
		}
		if !supervisor.WaitReachable(ctx, e.sup, svc, e.cfg.RestartWait, e.cfg.PollInterval) {
			e.log.Warn("service not reachable after restart", "service", svc.Name)
		}
	}
}

// emit sends the run record to every configured sink. Sink errors never
// affect the apply outcome.
func (e *Executor) emit(outcome history.Outcome, p *proposal.Proposal, reason string, exitCode int, started time.Time) {
	if len(e.sinks) == 0 {
		return
	}
	now := time.Now()
	ev := history.Event{
		OccurredAt: now,
		Record: history.Record{
			ProposalID: p.ID,
			Title:      p.Title,
			Outcome:    outcome,
			Reason:     reason,
			ExitCode:   exitCode,
			Duration:   now.Sub(started),
			LogPath:    e.store.LogPath(p.ID),
			StartedAt:  started,
			FinishedAt: now,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
	defer cancel()
	for _, s := range e.sinks {
		if err := s.Send(ctx, ev); err != nil {
			e.log.Warn("history sink send failed", "error", err)
		}
	}
}
