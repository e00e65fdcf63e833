package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink sends apply-run events to ClickHouse using the official Go
// client. Intended for deployments that already aggregate operational events
// there; the table must exist (ClickHouse schema management stays with the
// warehouse owner).
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// ClickHouseOptions configures the connection.
type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func NewClickHouseSink(opts ClickHouseOptions) (*ClickHouseSink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = "apply_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: opts.Table}, nil
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, proposal_id, title, outcome, reason, exit_code, duration_ms, log_path, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		e.OccurredAt,
		e.Record.ProposalID,
		e.Record.Title,
		string(e.Record.Outcome),
		e.Record.Reason,
		e.Record.ExitCode,
		e.Record.Duration.Milliseconds(),
		e.Record.LogPath,
		e.Record.StartedAt,
		e.Record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
