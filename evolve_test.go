package evolve

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/lock"
	"github.com/Hensonam23/self-learning-ai/internal/snapshot"
)

type nullSup struct{}

func (nullSup) Stop(context.Context, Service) error    { return nil }
func (nullSup) Restart(context.Context, Service) error { return nil }
func (nullSup) IsReachable(Service) bool               { return true }

func TestFacadeApplyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	critical := filepath.Join(dir, "state.txt")
	if err := os.WriteFile(critical, []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewStore(filepath.Join(dir, "proposals"))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ex := NewExecutor(ExecutorOptions{
		Store:      store,
		Lock:       lock.New(filepath.Join(dir, "maintenance.lock"), time.Hour, log),
		Snapshots:  snapshot.NewManager(filepath.Join(dir, "backups")),
		Supervisor: nullSup{},
		Logger:     log,
		Config:     executor.Config{CriticalFiles: []string{critical}},
	})

	id, err := store.Create("bump state", "#!/bin/sh\necho v2 > "+critical+"\n")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := ex.ApplyLatest(context.Background())
	if err != nil {
		t.Fatalf("ApplyLatest: %v", err)
	}
	if out.ProposalID != id || out.Status != executor.StatusApplied {
		t.Fatalf("outcome = %+v", out)
	}

	p, err := SelectNext(store)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if p != nil {
		t.Fatalf("still pending after apply: %+v", p)
	}
	b, _ := os.ReadFile(critical)
	if string(b) != "v2\n" {
		t.Fatalf("critical file = %q", b)
	}
}
