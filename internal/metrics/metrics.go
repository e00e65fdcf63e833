package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	applyRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evolve",
			Subsystem: "apply",
			Name:      "runs_total",
			Help:      "Guarded apply runs by outcome (applied, failed, skipped).",
		}, []string{"outcome"},
	)
	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evolve",
			Subsystem: "apply",
			Name:      "rollbacks_total",
			Help:      "Snapshot restores by result (ok, failed).",
		}, []string{"result"},
	)
	applyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "evolve",
			Subsystem: "apply",
			Name:      "duration_seconds",
			Help:      "Wall time of guarded apply runs that held the lock.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	watchdogRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evolve",
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Service restarts attempted by the watchdog.",
		}, []string{"service"},
	)
	selftestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evolve",
			Subsystem: "selftest",
			Name:      "failures_total",
			Help:      "Self-test check failures by check name.",
		}, []string{"check"},
	)
)

// Register registers all metrics with the provided registerer. Safe to call
// multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{applyRuns, rollbacks, applyDuration, watchdogRestarts, selftestFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncApplyRun(outcome string) {
	if regOK.Load() {
		applyRuns.WithLabelValues(outcome).Inc()
	}
}

func IncRollback(result string) {
	if regOK.Load() {
		rollbacks.WithLabelValues(result).Inc()
	}
}

func ObserveApplyDuration(seconds float64) {
	if regOK.Load() {
		applyDuration.Observe(seconds)
	}
}

func IncWatchdogRestart(service string) {
	if regOK.Load() {
		watchdogRestarts.WithLabelValues(service).Inc()
	}
}

func IncSelftestFailure(check string) {
	if regOK.Load() {
		selftestFailures.WithLabelValues(check).Inc()
	}
}
