//go:build !postgres

package main

import (
	"context"
	"strings"

	"devaccounts/internal/audit"
	"devaccounts/internal/inventory"
	"devaccounts/internal/observability"
)

// selectStore picks the inventory backend from the DSN. Default builds
// support the in-memory and SQLite backends; postgres:// DSNs need a binary
// built with -tags postgres.
func selectStore(logger observability.Logger, dsn string) (inventory.Store, error) {
	switch {
	case dsn == "memory":
		logger.Info("using in-memory inventory store")
		return inventory.NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"):
		logger.Warn("postgres DSN set, but binary not built with -tags postgres; using in-memory store")
		return inventory.NewMemoryStore(), nil
	default:
		st, err := inventory.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite inventory store", "dsn", dsn)
		return st, nil
	}
}

// selectRecorder picks the audit backend matching the inventory store. The
// SQLite recorder shares the store's database file.
func selectRecorder(_ context.Context, logger observability.Logger, store inventory.Store, _ string) (audit.Recorder, error) {
	if st, ok := store.(*inventory.SQLiteStore); ok {
		return audit.NewSQLiteRecorder(st.DB())
	}
	logger.Info("using in-memory audit recorder")
	return audit.NewMemoryRecorder(), nil
}
