// Package inventory implements the source-of-record store: the authoritative
// inventory of currently-managed accounts, read by both pipelines and by
// external tooling (billing dashboards, access reviews).
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devaccounts/internal/domain"
)

// Sentinel errors for the inventory store. Callers use errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a stale-version upsert: another writer
	// updated the record since it was read. Two pipelines contending on
	// the same developer surface here instead of corrupting the record.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the source-of-record interface. Writes are scoped to a single
// developer key and use optimistic per-key concurrency: Upsert succeeds only
// when the caller holds the current version.
type Store interface {
	// Get returns the record for a developer, with ok=false when absent.
	Get(ctx context.Context, developer string) (domain.ManagedAccount, bool, error)

	// List returns all records ordered by developer name.
	List(ctx context.Context) ([]domain.ManagedAccount, error)

	// Upsert inserts or updates the record keyed by DeveloperName.
	// A record with Version 0 must not already exist; otherwise the stored
	// version must equal acct.Version. The returned record carries the
	// incremented version and refreshed UpdatedAt.
	Upsert(ctx context.Context, acct domain.ManagedAccount) (domain.ManagedAccount, error)

	// Delete removes the record. Returns false when it was absent.
	Delete(ctx context.Context, developer string) (bool, error)

	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is an in-memory Store for quick start and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.ManagedAccount
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]domain.ManagedAccount)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, developer string) (domain.ManagedAccount, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[developer]
	return acct, ok, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]domain.ManagedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ManagedAccount, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, acct)
	}
	sortAccounts(out)
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, acct domain.ManagedAccount) (domain.ManagedAccount, error) {
	if acct.DeveloperName == "" {
		return domain.ManagedAccount{}, fmt.Errorf("developer name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.accounts[acct.DeveloperName]
	switch {
	case !exists && acct.Version != 0:
		return domain.ManagedAccount{}, fmt.Errorf("upsert %q: %w", acct.DeveloperName, ErrNotFound)
	case exists && stored.Version != acct.Version:
		return domain.ManagedAccount{}, fmt.Errorf("upsert %q: have v%d, caller held v%d: %w",
			acct.DeveloperName, stored.Version, acct.Version, ErrVersionConflict)
	}

	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = acct.UpdatedAt
	}
	m.accounts[acct.DeveloperName] = acct
	return acct, nil
}

func (m *MemoryStore) Delete(ctx context.Context, developer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[developer]; !ok {
		return false, nil
	}
	delete(m.accounts, developer)
	return true, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortAccounts(accts []domain.ManagedAccount) {
	sort.Slice(accts, func(i, j int) bool {
		return accts[i].DeveloperName < accts[j].DeveloperName
	})
}
