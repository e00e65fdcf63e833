package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseEvery(t *testing.T) {
	if d, err := parseEvery("@every 5s"); err != nil || d != 5*time.Second {
		t.Fatalf("parseEvery(@every 5s) = %v, %v", d, err)
	}
	if d, err := parseEvery("  @every 15m "); err != nil || d != 15*time.Minute {
		t.Fatalf("parseEvery with spaces = %v, %v", d, err)
	}
	for _, bad := range []string{"", "5s", "@every", "@every nope", "@every -1s", "0 * * * *"} {
		if _, err := parseEvery(bad); err == nil {
			t.Fatalf("parseEvery(%q) accepted", bad)
		}
	}
}

func TestAddValidates(t *testing.T) {
	s := New(discard())
	if err := s.Add(&Job{Schedule: "@every 1s", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("nameless job accepted")
	}
	if err := s.Add(&Job{Name: "x", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("scheduleless job accepted")
	}
	if err := s.Add(&Job{Name: "x", Schedule: "@every 1s"}); err == nil {
		t.Fatal("runless job accepted")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(discard())
	_ = s.Add(&Job{Name: "bad", Schedule: "hourly", Run: func(context.Context) error { return nil }})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an unparsable schedule")
	}
}

func TestTickerFiresJob(t *testing.T) {
	s := New(discard())
	var runs atomic.Int32
	_ = s.Add(&Job{Name: "tick", Schedule: "@every 20ms", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want >= 2", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSingletonSkipsOverlappingTicks(t *testing.T) {
	s := New(discard())
	var active, maxActive atomic.Int32
	_ = s.Add(&Job{Name: "slow", Schedule: "@every 10ms", Run: func(context.Context) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(100 * time.Millisecond)
		active.Add(-1)
		return nil
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	if maxActive.Load() > 1 {
		t.Fatalf("max concurrent runs = %d, want 1", maxActive.Load())
	}
}

func TestWatchProposalsFiresOnCreate(t *testing.T) {
	root := t.TempDir()
	s := New(discard())
	s.settle = 10 * time.Millisecond
	var runs atomic.Int32
	job := &Job{Name: "apply", Schedule: "@every 1h", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
	_ = s.Add(job)
	s.WatchProposals(root, job)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := os.Mkdir(filepath.Join(root, "20260831-120000_new-idea"), 0o755); err != nil {
		t.Fatalf("mkdir proposal: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("apply job never fired on directory creation")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(discard())
	_ = s.Add(&Job{Name: "noop", Schedule: "@every 1h", Run: func(context.Context) error { return nil }})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
}
