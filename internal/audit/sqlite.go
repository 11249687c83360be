package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteRecorder persists audit events to a SQLite database. It shares the
// database file with the inventory store so a single DSN covers both.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder creates the audit table if needed and returns a recorder
// backed by db. The caller retains ownership of db; Close is a no-op.
func NewSQLiteRecorder(db *sql.DB) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
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
	`)
	return err
}

func (r *SQLiteRecorder) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, request_id, developer, account_id, pipeline, step, from_state, to_state, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.Format(time.RFC3339Nano), event.RequestID,
		event.Developer, event.AccountID, event.Pipeline, event.Step,
		event.FromState, event.ToState, event.Outcome, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	var conds []string
	var args []any
	if opts.Developer != "" {
		conds = append(conds, "developer = ?")
		args = append(args, opts.Developer)
	}
	if opts.Pipeline != "" {
		conds = append(conds, "pipeline = ?")
		args = append(args, opts.Pipeline)
	}
	if opts.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, opts.Outcome)
	}
	if opts.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, opts.Since.Format(time.RFC3339Nano))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := "SELECT id, timestamp, request_id, developer, account_id, pipeline, step, from_state, to_state, outcome, detail FROM audit_events" + where + " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
		if opts.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.RequestID, &e.Developer, &e.AccountID, &e.Pipeline, &e.Step, &e.FromState, &e.ToState, &e.Outcome, &e.Detail); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, 0, fmt.Errorf("parse audit timestamp: %w", err)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

// Close is a no-op; the underlying database is owned by the caller.
func (r *SQLiteRecorder) Close() error { return nil }
