package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"devaccounts/internal/domain"
)

// SQLiteStore persists the inventory in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (and migrates) the inventory database at dsn.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS managed_accounts (
		developer         TEXT PRIMARY KEY,
		account_id        TEXT NOT NULL DEFAULT '',
		create_request_id TEXT NOT NULL DEFAULT '',
		display_name      TEXT NOT NULL DEFAULT '',
		email             TEXT NOT NULL DEFAULT '',
		state             TEXT NOT NULL,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		monthly_budget    INTEGER NOT NULL DEFAULT 0,
		ticket_id         TEXT NOT NULL DEFAULT '',
		regions           TEXT NOT NULL DEFAULT '[]',
		state_bucket      TEXT NOT NULL DEFAULT '',
		lock_table        TEXT NOT NULL DEFAULT '',
		boundary_arn      TEXT NOT NULL DEFAULT '',
		role_arn          TEXT NOT NULL DEFAULT '',
		budget_name       TEXT NOT NULL DEFAULT '',
		failed_step       TEXT NOT NULL DEFAULT '',
		failure_cause     TEXT NOT NULL DEFAULT '',
		version           INTEGER NOT NULL
	)`)
	return err
}

const accountColumns = `developer, account_id, create_request_id, display_name, email, state,
	created_at, updated_at, monthly_budget, ticket_id, regions, state_bucket, lock_table,
	boundary_arn, role_arn, budget_name, failed_step, failure_cause, version`

func (s *SQLiteStore) Get(ctx context.Context, developer string) (domain.ManagedAccount, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM managed_accounts WHERE developer = ?`, developer)
	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return domain.ManagedAccount{}, false, nil
	}
	if err != nil {
		return domain.ManagedAccount{}, false, err
	}
	return acct, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.ManagedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM managed_accounts ORDER BY developer ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ManagedAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, acct domain.ManagedAccount) (domain.ManagedAccount, error) {
	if acct.DeveloperName == "" {
		return domain.ManagedAccount{}, fmt.Errorf("developer name required")
	}

	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	regions, err := json.Marshal(acct.Regions)
	if err != nil {
		return domain.ManagedAccount{}, err
	}

	if acct.Version == 0 {
		acct.Version = 1
		acct.UpdatedAt = now
		_, err := s.db.ExecContext(ctx, `INSERT INTO managed_accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			acct.DeveloperName, acct.AccountID, acct.CreateRequestID, acct.DisplayName,
			acct.Email, string(acct.State), acct.CreatedAt.Format(time.RFC3339),
			acct.UpdatedAt.Format(time.RFC3339), acct.MonthlyBudget, acct.TicketID,
			string(regions), acct.StateBucket, acct.LockTable, acct.BoundaryARN,
			acct.RoleARN, acct.BudgetName, acct.FailedStep, acct.FailureCause, acct.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ManagedAccount{}, fmt.Errorf("upsert %q: record exists: %w",
					acct.DeveloperName, ErrVersionConflict)
			}
			return domain.ManagedAccount{}, err
		}
		return acct, nil
	}

	heldVersion := acct.Version
	acct.Version++
	acct.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, `UPDATE managed_accounts SET
		account_id = ?, create_request_id = ?, display_name = ?, email = ?, state = ?,
		updated_at = ?, monthly_budget = ?, ticket_id = ?, regions = ?, state_bucket = ?,
		lock_table = ?, boundary_arn = ?, role_arn = ?, budget_name = ?, failed_step = ?,
		failure_cause = ?, version = ?
		WHERE developer = ? AND version = ?`,
		acct.AccountID, acct.CreateRequestID, acct.DisplayName, acct.Email, string(acct.State),
		acct.UpdatedAt.Format(time.RFC3339), acct.MonthlyBudget, acct.TicketID, string(regions),
		acct.StateBucket, acct.LockTable, acct.BoundaryARN, acct.RoleARN, acct.BudgetName,
		acct.FailedStep, acct.FailureCause, acct.Version,
		acct.DeveloperName, heldVersion)
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	if n == 0 {
		return domain.ManagedAccount{}, fmt.Errorf("upsert %q with stale v%d: %w",
			acct.DeveloperName, heldVersion, ErrVersionConflict)
	}
	return acct, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, developer string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM managed_accounts WHERE developer = ?`, developer)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle so sibling components such as the audit
// recorder can share the same database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.ManagedAccount, error) {
	var acct domain.ManagedAccount
	var state, createdAt, updatedAt, regions string
	if err := row.Scan(&acct.DeveloperName, &acct.AccountID, &acct.CreateRequestID,
		&acct.DisplayName, &acct.Email, &state, &createdAt, &updatedAt,
		&acct.MonthlyBudget, &acct.TicketID, &regions, &acct.StateBucket, &acct.LockTable,
		&acct.BoundaryARN, &acct.RoleARN, &acct.BudgetName, &acct.FailedStep,
		&acct.FailureCause, &acct.Version); err != nil {
		return domain.ManagedAccount{}, err
	}
	acct.State = domain.LifecycleState(state)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		acct.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		acct.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(regions), &acct.Regions); err != nil {
		return domain.ManagedAccount{}, fmt.Errorf("decode regions: %w", err)
	}
	return acct, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_PRIMARYKEY this way.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
