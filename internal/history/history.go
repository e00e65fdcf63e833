package history

import (
	"context"
	"time"
)

// Outcome labels a finished guarded-apply run.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeFailed         Outcome = "failed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeRollbackFailed Outcome = "rollback_failed"
)

// Record is one guarded-apply run as persisted by sinks.
type Record struct {
	ProposalID string        `json:"proposal_id"`
	Title      string        `json:"title"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"` // payload|selftest for failed runs
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	LogPath    string        `json:"log_path,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Event wraps a record with its emission time.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for apply-run audit events (analytics/statistics
// systems). Sink failures are logged by callers and never affect the apply
// outcome. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
