//go:build postgres

package main

import (
	"context"
	"strings"

	"devaccounts/internal/audit"
	"devaccounts/internal/inventory"
	"devaccounts/internal/observability"
)

// selectStore picks the inventory backend from the DSN. Builds with the
// postgres tag additionally support postgres:// DSNs.
func selectStore(logger observability.Logger, dsn string) (inventory.Store, error) {
	switch {
	case dsn == "memory":
		logger.Info("using in-memory inventory store")
		return inventory.NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"):
		st, err := inventory.NewPostgres(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres inventory store")
		return st, nil
	default:
		st, err := inventory.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite inventory store", "dsn", dsn)
		return st, nil
	}
}

// selectRecorder picks the audit backend matching the inventory store.
func selectRecorder(ctx context.Context, logger observability.Logger, store inventory.Store, dsn string) (audit.Recorder, error) {
	switch st := store.(type) {
	case *inventory.PostgresStore:
		return audit.NewPostgresRecorder(ctx, dsn)
	case *inventory.SQLiteStore:
		return audit.NewSQLiteRecorder(st.DB())
	default:
		logger.Info("using in-memory audit recorder")
		return audit.NewMemoryRecorder(), nil
	}
}
