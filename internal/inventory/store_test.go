package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"devaccounts/internal/domain"
)

// storeUnderTest lets the same suite run against every backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("upsert and get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		acct := domain.ManagedAccount{
			DeveloperName: "john-smith",
			DisplayName:   "acme-dev-john-smith",
			Email:         "john.smith@example.com",
			State:         domain.StateRequested,
			MonthlyBudget: 100,
			Regions:       []string{"us-east-1"},
		}
		saved, err := s.Upsert(ctx, acct)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if saved.Version != 1 {
			t.Fatalf("expected version 1, got %d", saved.Version)
		}
		if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
			t.Fatalf("timestamps not set: %+v", saved)
		}

		got, ok, err := s.Get(ctx, "john-smith")
		if err != nil || !ok {
			t.Fatalf("get: %v ok=%v", err, ok)
		}
		if got.DisplayName != "acme-dev-john-smith" || got.MonthlyBudget != 100 {
			t.Fatalf("roundtrip mismatch: %+v", got)
		}
		if len(got.Regions) != 1 || got.Regions[0] != "us-east-1" {
			t.Fatalf("regions mismatch: %v", got.Regions)
		}
	})

	t.Run("version conflict", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		acct := domain.ManagedAccount{DeveloperName: "jane-doe", State: domain.StateRequested}
		saved, err := s.Upsert(ctx, acct)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}

		// Second insert with version 0 must conflict.
		if _, err := s.Upsert(ctx, acct); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("duplicate insert: got %v, want ErrVersionConflict", err)
		}

		// Stale-version update must conflict.
		stale := saved
		if _, err := s.Upsert(ctx, saved); err != nil {
			t.Fatalf("fresh update: %v", err)
		}
		if _, err := s.Upsert(ctx, stale); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("stale update: got %v, want ErrVersionConflict", err)
		}
	})

	t.Run("state transitions persist", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		acct, err := s.Upsert(ctx, domain.ManagedAccount{
			DeveloperName: "sam-lee", State: domain.StateRequested,
		})
		if err != nil {
			t.Fatal(err)
		}
		acct.State = domain.StateActive
		acct.AccountID = "210987654321"
		acct.RoleARN = "arn:aws:iam::210987654321:role/acme-dev-sam-lee-role"
		if acct, err = s.Upsert(ctx, acct); err != nil {
			t.Fatal(err)
		}

		got, ok, _ := s.Get(ctx, "sam-lee")
		if !ok || got.State != domain.StateActive || got.AccountID != "210987654321" {
			t.Fatalf("transition not persisted: %+v", got)
		}
		if got.Version != 2 {
			t.Fatalf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for _, name := range []string{"zoe", "adam"} {
			if _, err := s.Upsert(ctx, domain.ManagedAccount{
				DeveloperName: name, State: domain.StateActive,
			}); err != nil {
				t.Fatal(err)
			}
		}

		lst, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(lst) != 2 || lst[0].DeveloperName != "adam" {
			t.Fatalf("unexpected list: %+v", lst)
		}

		ok, err := s.Delete(ctx, "zoe")
		if err != nil || !ok {
			t.Fatalf("delete: %v ok=%v", err, ok)
		}
		ok, err = s.Delete(ctx, "zoe")
		if err != nil || ok {
			t.Fatalf("second delete should report absent, got ok=%v err=%v", ok, err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "inventory.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return s
	})
}

func TestMemoryStoreConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acct, err := s.Upsert(ctx, domain.ManagedAccount{
		DeveloperName: "john-smith", State: domain.StateRequested,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Two pipelines holding the same version: exactly one upsert wins.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			copy := acct
			copy.State = domain.StateOffboardRequested
			_, err := s.Upsert(ctx, copy)
			results <- err
		}()
	}
	var conflicts, successes int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			if !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("unexpected error: %v", err)
			}
			conflicts++
		} else {
			successes++
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("want exactly one winner, got %d successes %d conflicts", successes, conflicts)
	}
}
