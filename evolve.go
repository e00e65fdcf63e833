// Package evolve is the embeddable facade over the change pipeline: a
// proposal queue on the filesystem, a guarded apply executor with snapshot
// rollback and self-test verification, a service watchdog and a scheduler.
package evolve

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/Hensonam23/self-learning-ai/internal/config"
	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/history"
	"github.com/Hensonam23/self-learning-ai/internal/metrics"
	"github.com/Hensonam23/self-learning-ai/internal/proposal"
	"github.com/Hensonam23/self-learning-ai/internal/scheduler"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
	"github.com/Hensonam23/self-learning-ai/internal/server"
	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
	"github.com/Hensonam23/self-learning-ai/internal/watchdog"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Proposal = proposal.Proposal

type Status = proposal.Status

const (
	StatusPending = proposal.StatusPending
	StatusApplied = proposal.StatusApplied
	StatusFailed  = proposal.StatusFailed
)

type Store = proposal.Store

func NewStore(root string) *Store { return proposal.NewStore(root) }

// SelectNext returns the newest pending proposal, or nil.
func SelectNext(s *Store) (*Proposal, error) { return proposal.SelectNext(s) }

// Executor facade

type Executor = executor.Executor

type ExecutorOptions = executor.Options

type Outcome = executor.Outcome

// Command is the payload capability; ScriptCommand runs a stored script,
// ShellCommand an inline command string.
type Command = executor.Command

type ScriptCommand = executor.ScriptCommand

type ShellCommand = executor.ShellCommand

var ErrRollbackFailed = executor.ErrRollbackFailed

func NewExecutor(o ExecutorOptions) *Executor { return executor.New(o) }

// Watchdog facade

type Watchdog = watchdog.Watchdog

type WatchdogOptions = watchdog.Options

func NewWatchdog(o WatchdogOptions) *Watchdog { return watchdog.New(o) }

// Self-test facade

type Suite = selftest.Suite

type Check = selftest.Check

func NewSuite(checks ...Check) *Suite { return selftest.NewSuite(checks...) }

// Service facade

type Service = supervisor.Service

type Supervisor = supervisor.Supervisor

// Scheduler facade

type Scheduler = scheduler.Scheduler

type Job = scheduler.Job // alias; use pointer when adding to avoid copying atomics

type Boot = scheduler.Boot

func NewScheduler() *Scheduler { return scheduler.New(nil) }

// History facade

type HistorySink = history.Sink

type HistoryEvent = history.Event

// NewHistorySink builds a sink from a DSN (sqlite path, postgres:// or
// clickhouse:// URL).
func NewHistorySink(dsn string) (HistorySink, error) { return history.NewSinkFromDSN(dsn) }

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the pipeline API.
func NewHTTPServer(addr string, o server.Options) *http.Server {
	return server.NewServer(addr, o)
}

type ServerOptions = server.Options

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RunBoot executes the start-of-day sequence.
func RunBoot(ctx context.Context, b Boot) error { return b.Run(ctx) }
