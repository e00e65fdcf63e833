package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(outcome Outcome) Event {
	now := time.Now().UTC()
	return Event{
		OccurredAt: now,
		Record: Record{
			ProposalID: "20250101-000000_bump-version",
			Title:      "Bump Version",
			Outcome:    outcome,
			Reason:     "payload",
			ExitCode:   1,
			Duration:   1500 * time.Millisecond,
			LogPath:    "/tmp/log.txt",
			StartedAt:  now.Add(-2 * time.Second),
			FinishedAt: now,
		},
	}
}

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	sink, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	if err := sink.Send(ctx, sampleEvent(OutcomeFailed)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Send(ctx, sampleEvent(OutcomeApplied)); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := sink.CountByOutcome(ctx, OutcomeFailed)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 failed run, got %d", n)
	}
}

func TestSQLSinkFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	if sink.dialect != "sqlite" {
		t.Fatalf("bare path must select sqlite, got %s", sink.dialect)
	}
	if err := sink.Send(context.Background(), sampleEvent(OutcomeApplied)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestNewSinkFromDSNDispatch(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatalf("empty DSN must error")
	}
	if _, err := NewSinkFromDSN("redis://localhost"); err == nil {
		t.Fatalf("unsupported scheme must error")
	}
	s, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("sqlite DSN: %v", err)
	}
	_ = s.Close()
}

func TestClickHouseSinkUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network dial in short mode")
	}
	// no ClickHouse at this port; construction must fail on ping, not hang
	_, err := NewClickHouseSink(ClickHouseOptions{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatalf("expected connection failure")
	}
}
