package offboard_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devaccounts/internal/domain"
	"devaccounts/internal/offboard"
	"devaccounts/internal/testutil"
)

func TestBackupState(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.PutObject("acme-dev-alice-tfstate", "dev/alice/terraform.tfstate", []byte(`{"version":4}`))
	fake.PutObject("acme-dev-alice-tfstate", "dev/alice/env/staging.tfstate", []byte(`{"version":4,"serial":2}`))

	dest := t.TempDir()
	copied, err := offboard.BackupState(context.Background(), fake, "acme-dev-alice-tfstate", dest)
	if err != nil {
		t.Fatalf("BackupState() error = %v", err)
	}
	if copied != 2 {
		t.Errorf("copied = %d, want 2", copied)
	}

	data, err := os.ReadFile(filepath.Join(dest, "dev", "alice", "terraform.tfstate"))
	if err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if string(data) != `{"version":4}` {
		t.Errorf("backup content = %s", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "dev", "alice", "env", "staging.tfstate")); err != nil {
		t.Errorf("nested backup missing: %v", err)
	}
}

func TestBackupStateMissingBucket(t *testing.T) {
	fake := testutil.NewFakeCloud()

	copied, err := offboard.BackupState(context.Background(), fake, "gone", t.TempDir())
	if err != nil {
		t.Fatalf("BackupState() error = %v, want nil for a missing bucket", err)
	}
	if copied != 0 {
		t.Errorf("copied = %d, want 0", copied)
	}
}

func TestCleanupState(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	fake.PutObject("acme-dev-alice-tfstate", "dev/alice/terraform.tfstate", []byte("{}"))
	fake.Tables["acme-dev-alice-tflock"] = nil

	if err := offboard.CleanupState(ctx, fake, fake, "acme-dev-alice-tfstate", "acme-dev-alice-tflock"); err != nil {
		t.Fatalf("CleanupState() error = %v", err)
	}
	if _, ok := fake.Buckets["acme-dev-alice-tfstate"]; ok {
		t.Error("bucket still exists")
	}
	if _, ok := fake.Tables["acme-dev-alice-tflock"]; ok {
		t.Error("lock table still exists")
	}

	// Re-running against already-deleted resources converges.
	if err := offboard.CleanupState(ctx, fake, fake, "acme-dev-alice-tfstate", "acme-dev-alice-tflock"); err != nil {
		t.Fatalf("repeated CleanupState() error = %v", err)
	}
}

func TestSnapshotRegion(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.Volumes = []string{"vol-1", "vol-2"}
	fake.DBInstances = []string{"db-alice"}

	result := offboard.SnapshotRegion(context.Background(), fake, fake, "alice", "us-east-1")
	if len(result.Warnings) != 0 {
		t.Fatalf("warnings = %v", result.Warnings)
	}
	if len(result.Snapshots) != 3 {
		t.Errorf("snapshots = %v, want 3", result.Snapshots)
	}

	// EBS snapshots carry the developer and offboarding tags so they stay
	// attributable after the account record is gone.
	tags := fake.SnapshotTags["snap-vol-1"]
	if tags[offboard.TagDeveloper] != "alice" {
		t.Errorf("developer tag = %q, want alice", tags[offboard.TagDeveloper])
	}
	if tags[offboard.TagOffboarding] != "true" {
		t.Errorf("offboarding tag = %q, want true", tags[offboard.TagOffboarding])
	}
}

func TestSnapshotRegionFailuresBecomeWarnings(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.Volumes = []string{"vol-1"}
	fake.Fail["CreateSnapshot"] = testutil.APIError("SnapshotLimitExceeded", "too many")
	fake.Fail["DescribeDBInstances"] = testutil.APIError("InternalFailure", "boom")

	result := offboard.SnapshotRegion(context.Background(), fake, fake, "alice", "us-east-1")
	if len(result.Snapshots) != 0 {
		t.Errorf("snapshots = %v, want none", result.Snapshots)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", result.Warnings)
	}
}

func TestGatherCostReport(t *testing.T) {
	fake := testutil.NewFakeCloud()
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	report, err := offboard.GatherCostReport(context.Background(), fake, "100000000001", 90*24*time.Hour, now)
	if err != nil {
		t.Fatalf("GatherCostReport() error = %v", err)
	}
	if report.AccountID != "100000000001" {
		t.Errorf("account id = %q", report.AccountID)
	}
	if report.Currency != "USD" {
		t.Errorf("currency = %q", report.Currency)
	}
	if len(report.Months) != 3 {
		t.Fatalf("months = %d, want 3", len(report.Months))
	}
	want := 12.5 + 30.25 + 7.1
	if report.Total != want {
		t.Errorf("total = %v, want %v", report.Total, want)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	acct := domain.ManagedAccount{
		AccountID:     "100000000001",
		DeveloperName: "alice",
		State:         domain.StateArchived,
	}
	report := offboard.CostReport{AccountID: "100000000001", Currency: "USD", Total: 49.85}

	if err := offboard.WriteCostReport(dir, report); err != nil {
		t.Fatalf("WriteCostReport() error = %v", err)
	}
	archive, err := offboard.WriteArchive(dir, acct, report, []string{"snapshot skipped"}, now)
	if err != nil {
		t.Fatalf("WriteArchive() error = %v", err)
	}
	if archive.ArchiveID == "" {
		t.Error("archive id not assigned")
	}
	if got := archive.RetainUntil.Sub(archive.ArchivedAt); got < domain.ArchiveRetention {
		t.Errorf("retention window = %s, want at least %s", got, domain.ArchiveRetention)
	}

	gotArchive, gotAcct, err := offboard.ReadArchive(dir)
	if err != nil {
		t.Fatalf("ReadArchive() error = %v", err)
	}
	if gotArchive.ArchiveID != archive.ArchiveID || gotAcct.DeveloperName != "alice" {
		t.Errorf("round trip mismatch: %+v %+v", gotArchive, gotAcct)
	}

	gotReport, err := offboard.ReadCostReport(dir)
	if err != nil {
		t.Fatalf("ReadCostReport() error = %v", err)
	}
	if gotReport.Total != report.Total {
		t.Errorf("report total = %v, want %v", gotReport.Total, report.Total)
	}
}
