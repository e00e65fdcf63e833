package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/proposal"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
)

// Boot is the start-of-day sequence: verify the deployment, seed a
// maintenance proposal when the queue is empty, apply whatever is pending,
// and verify again. The final self-test is the authoritative one; the
// initial run only provides a before/after picture in the logs.
type Boot struct {
	Store    *proposal.Store
	Executor *executor.Executor
	Suite    *selftest.Suite
	// MaintenanceTitle and MaintenanceCommand describe the routine upkeep
	// proposal seeded when nothing is pending. An empty command disables
	// seeding.
	MaintenanceTitle   string
	MaintenanceCommand string
	Logger             *slog.Logger
}

// Run executes the sequence. A failed apply that rolled back cleanly does
// not abort the boot; a rollback failure or a failing final self-test does.
func (b Boot) Run(ctx context.Context) error {
	log := b.Logger
	if log == nil {
		log = slog.Default()
	}

	if b.Suite != nil && b.Suite.Len() > 0 {
		res := b.Suite.Run(ctx)
		log.Info("initial self-test", "ok", res.OK, "output", res.Output)
	}

	if b.MaintenanceCommand != "" {
		id, created, err := proposal.CreateMaintenance(b.Store, b.MaintenanceTitle, b.MaintenanceCommand)
		if err != nil {
			return fmt.Errorf("seed maintenance proposal: %w", err)
		}
		if created {
			log.Info("maintenance proposal queued", "proposal", id)
		} else {
			log.Info("pending proposal already queued, maintenance skipped")
		}
	}

	out, err := b.Executor.ApplyLatest(ctx)
	if err != nil {
		return err
	}
	log.Info("boot apply finished", "status", out.Status, "proposal", out.ProposalID)

	if b.Suite != nil && b.Suite.Len() > 0 {
		res := b.Suite.Run(ctx)
		if !res.OK {
			return fmt.Errorf("final self-test failed:\n%s", res.Output)
		}
		log.Info("final self-test passed")
	}
	return nil
}
