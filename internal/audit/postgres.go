//go:build postgres

package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder persists audit events to PostgreSQL, for deployments where
// the inventory also lives there.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgresRecorder connects to connStr and creates the audit table if
// needed.
func NewPostgresRecorder(ctx context.Context, connStr string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			developer TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			pipeline TEXT NOT NULL,
			step TEXT NOT NULL,
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_developer ON audit_events(developer);
		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, timestamp, request_id, developer, account_id, pipeline, step, from_state, to_state, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.Timestamp, event.RequestID,
		event.Developer, event.AccountID, event.Pipeline, event.Step,
		event.FromState, event.ToState, event.Outcome, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Developer != "" {
		conds = append(conds, "developer = "+arg(opts.Developer))
	}
	if opts.Pipeline != "" {
		conds = append(conds, "pipeline = "+arg(opts.Pipeline))
	}
	if opts.Outcome != "" {
		conds = append(conds, "outcome = "+arg(opts.Outcome))
	}
	if opts.Since != nil {
		conds = append(conds, "timestamp >= "+arg(*opts.Since))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := "SELECT id, timestamp, request_id, developer, account_id, pipeline, step, from_state, to_state, outcome, detail FROM audit_events" + where + " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RequestID, &e.Developer, &e.AccountID, &e.Pipeline, &e.Step, &e.FromState, &e.ToState, &e.Outcome, &e.Detail); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

func (r *PostgresRecorder) Close() error {
	r.pool.Close()
	return nil
}
