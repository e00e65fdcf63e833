// Package scheduler drives the periodic jobs of the pipeline: the apply
// sweep, the watchdog pass, and an optional filesystem trigger that fires
// the apply sweep as soon as a new proposal directory appears.
//
// Schedules support only the form "@every <duration>" (e.g. "@every 15m").
// Non-overlap: a job whose previous run is still active skips the tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Job is one named periodic task.
type Job struct {
	Name      string
	Schedule  string
	Singleton bool // skip tick while the previous run is active (default true)
	Run       func(ctx context.Context) error

	running atomic.Bool
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("job requires a run function")
	}
	return nil
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

// Scheduler runs jobs on tickers and, when configured, on filesystem events.
type Scheduler struct {
	jobs      []*Job
	log       *slog.Logger
	watchRoot string
	watchJob  *Job
	// settle gives a freshly created proposal directory time to receive its
	// payload before the apply sweep fires.
	settle time.Duration

	quit chan struct{}
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{log: logger, settle: 250 * time.Millisecond}
}

// Add registers a job. The schedule is validated on Start.
func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if !job.Singleton {
		job.Singleton = true
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// WatchProposals arranges for job to fire whenever a new entry is created
// under root. The job is fired with the same non-overlap rule as its ticker.
func (s *Scheduler) WatchProposals(root string, job *Job) {
	s.watchRoot = root
	s.watchJob = job
}

// Start launches all job loops. Call Stop to cancel.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, err := parseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		go s.runJob(ctx, j, d)
	}
	if s.watchRoot != "" && s.watchJob != nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("proposals watcher: %w", err)
		}
		if err := w.Add(s.watchRoot); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch %s: %w", s.watchRoot, err)
		}
		go s.runWatcher(ctx, w)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) runWatcher(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) {
				continue
			}
			s.log.Debug("proposal directory event", "path", ev.Name)
			time.Sleep(s.settle)
			s.fire(ctx, s.watchJob)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("proposals watcher error", "error", err)
		}
	}
}

// fire runs j once in its own goroutine, honoring the non-overlap rule.
func (s *Scheduler) fire(ctx context.Context, j *Job) {
	if j.Singleton {
		if !j.running.CompareAndSwap(false, true) {
			return
		}
	} else {
		j.running.Store(true)
	}
	go func() {
		defer j.running.Store(false)
		if err := j.Run(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", j.Name, "error", err)
		}
	}()
}

// Stop cancels all job loops. Safe to call more than once.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}
