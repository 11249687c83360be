package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"devaccounts/internal/artifacts"
	"devaccounts/internal/audit"
	"devaccounts/internal/config"
	"devaccounts/internal/domain"
	"devaccounts/internal/inventory"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
	"devaccounts/internal/offboard"
	"devaccounts/internal/provision"
	"devaccounts/internal/testutil"
)

const managementAccountID = "999999999999"

type testEnv struct {
	fake     *testutil.FakeCloud
	store    *inventory.MemoryStore
	recorder *audit.MemoryRecorder
	prov     *Provisioner
	off      *Offboarder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.OrgPrefix = "acme"
	cfg.OpsEmail = "ops@example.com"
	cfg.ArtifactsDir = t.TempDir()
	cfg.ArchiveDir = t.TempDir()
	cfg.PropagationWait = time.Millisecond
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffCap = 5 * time.Millisecond

	fake := testutil.NewFakeCloud()
	store := inventory.NewMemoryStore()
	recorder := audit.NewMemoryRecorder()
	logger := observability.NewLogger(observability.Config{Level: "error", Output: io.Discard})
	metrics := observability.NewMetrics(observability.DefaultMetricsConfig())

	renderer, err := artifacts.NewRenderer(cfg.ArtifactsDir)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	clients := Clients{
		S3:       func(_ domain.CrossAccountSession, _ string) provision.S3API { return fake },
		DynamoDB: func(_ domain.CrossAccountSession, _ string) provision.DynamoDBAPI { return fake },
		IAM:      func(_ domain.CrossAccountSession, _ string) provision.IAMAPI { return fake },
		Budgets:  func(_ domain.CrossAccountSession) provision.BudgetsAPI { return fake },
	}
	offClients := OffboardClients{
		S3:       func(_ domain.CrossAccountSession, _ string) offboard.S3API { return fake },
		DynamoDB: func(_ domain.CrossAccountSession, _ string) offboard.DynamoDBAPI { return fake },
		EC2:      func(_ domain.CrossAccountSession, _ string) offboard.EC2API { return fake },
		RDS:      func(_ domain.CrossAccountSession, _ string) offboard.RDSAPI { return fake },
		Cost:     func(_ domain.CrossAccountSession) offboard.CostAPI { return fake },
	}

	prov := NewProvisioner(cfg, store, fake, fake, clients, renderer, recorder, logger, metrics, managementAccountID)
	prov.sleep = func(context.Context, time.Duration) error { return nil }
	off := NewOffboarder(cfg, store, fake, fake, offClients, recorder, logger, metrics)
	off.sleep = func(context.Context, time.Duration) error { return nil }

	return &testEnv{fake: fake, store: store, recorder: recorder, prov: prov, off: off}
}

func request() domain.AccountRequest {
	return domain.AccountRequest{
		DeveloperName: "alice",
		Email:         "alice@example.com",
		MonthlyBudget: 100,
		TicketID:      "OPS-42",
	}
}

func TestProvisionHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct, err := env.prov.Provision(ctx, request())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if acct.State != domain.StateActive {
		t.Fatalf("state = %s, want active", acct.State)
	}
	if acct.AccountID == "" {
		t.Fatal("no account id recorded")
	}
	if acct.DisplayName != "acme-dev-alice" {
		t.Errorf("display name = %q", acct.DisplayName)
	}
	if acct.StateBucket != "acme-dev-alice-state" || acct.LockTable != "acme-dev-alice-locks" {
		t.Errorf("baseline names = %q, %q", acct.StateBucket, acct.LockTable)
	}
	if acct.BudgetName != "acme-dev-alice-budget" {
		t.Errorf("budget name = %q", acct.BudgetName)
	}

	bucket := env.fake.Buckets["acme-dev-alice-state"]
	if bucket == nil || !bucket.Versioned || !bucket.Encrypted || !bucket.Blocked {
		t.Error("state bucket missing or misconfigured")
	}
	if _, ok := env.fake.Tables["acme-dev-alice-locks"]; !ok {
		t.Error("lock table not created")
	}
	role := env.fake.Roles["acme-dev-alice-role"]
	if role == nil {
		t.Fatal("role not created")
	}
	if role.BoundaryARN != acct.BoundaryARN {
		t.Errorf("role boundary = %q, want %q", role.BoundaryARN, acct.BoundaryARN)
	}
	if env.fake.Budgets["acme-dev-alice-budget"] == "" {
		t.Error("budget not created")
	}

	stored, ok, err := env.store.Get(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("store.Get() = %v, %v", ok, err)
	}
	if stored.State != domain.StateActive {
		t.Errorf("stored state = %s, want active", stored.State)
	}

	events, total, err := env.recorder.List(ctx, audit.ListOptions{Developer: "alice"})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if total == 0 || len(events) == 0 {
		t.Error("no audit events recorded")
	}
}

func TestProvisionRejectsExcessiveBudget(t *testing.T) {
	env := newTestEnv(t)

	req := request()
	req.MonthlyBudget = 1500
	_, err := env.prov.Provision(context.Background(), req)
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if env.fake.CallCount("CreateAccount") != 0 {
		t.Error("account creation attempted despite invalid request")
	}
}

func TestProvisionAlreadyActiveIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.prov.Provision(ctx, request()); err != nil {
		t.Fatalf("first Provision() error = %v", err)
	}
	acct, err := env.prov.Provision(ctx, request())
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if acct.State != domain.StateActive {
		t.Errorf("state = %s, want active", acct.State)
	}
	if env.fake.CallCount("CreateAccount") != 1 {
		t.Errorf("CreateAccount calls = %d, want 1", env.fake.CallCount("CreateAccount"))
	}
}

func TestProvisionConflictingEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.prov.Provision(ctx, request()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	req := request()
	req.Email = "impostor@example.com"
	_, err := env.prov.Provision(ctx, req)
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestProvisionRetriesAssumeRole(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AssumeDenials = 2

	acct, err := env.prov.Provision(context.Background(), request())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if acct.State != domain.StateActive {
		t.Errorf("state = %s, want active", acct.State)
	}
	if env.fake.CallCount("Assume") < 3 {
		t.Errorf("Assume calls = %d, want at least 3", env.fake.CallCount("Assume"))
	}
}

func TestProvisionAssumeRoleDeniedAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AssumeDenials = 1000

	acct, err := env.prov.Provision(context.Background(), request())
	if !errors.Is(err, lifecycle.ErrAssumeRoleDenied) {
		t.Fatalf("error = %v, want ErrAssumeRoleDenied", err)
	}
	if acct.State != domain.StateFailed {
		t.Errorf("state = %s, want failed", acct.State)
	}
	if acct.FailedStep != StepConfigureBaseline {
		t.Errorf("failed step = %q, want %q", acct.FailedStep, StepConfigureBaseline)
	}
}

func TestProvisionResumeAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fake.FailOnce["CreateBudget"] = testutil.APIError("InternalError", "boom")

	acct, err := env.prov.Provision(ctx, request())
	if err == nil {
		t.Fatal("Provision() succeeded, want failure at budget step")
	}
	if acct.State != domain.StateFailed || acct.FailedStep != StepConfigureBudget {
		t.Fatalf("state = %s, failed step = %q", acct.State, acct.FailedStep)
	}

	resumed, err := env.prov.Resume(ctx, "alice")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.State != domain.StateActive {
		t.Errorf("resumed state = %s, want active", resumed.State)
	}
	if env.fake.CallCount("CreateAccount") != 1 {
		t.Errorf("CreateAccount calls = %d, want 1 (no duplicate account)", env.fake.CallCount("CreateAccount"))
	}
	if resumed.FailedStep != "" || resumed.FailureCause != "" {
		t.Errorf("failure fields not cleared: %q / %q", resumed.FailedStep, resumed.FailureCause)
	}
}

func TestResumeUnknownDeveloper(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.prov.Resume(context.Background(), "nobody")
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRewindState(t *testing.T) {
	tests := []struct {
		name string
		acct domain.ManagedAccount
		want domain.LifecycleState
	}{
		{"nothing provisioned", domain.ManagedAccount{}, domain.StateRequested},
		{"create requested", domain.ManagedAccount{CreateRequestID: "car-1"}, domain.StateCreating},
		{"account exists", domain.ManagedAccount{CreateRequestID: "car-1", AccountID: "1"}, domain.StateAwaitingPropagation},
		{"baseline done", domain.ManagedAccount{AccountID: "1", StateBucket: "b"}, domain.StateBaselineConfigured},
		{"boundary done", domain.ManagedAccount{AccountID: "1", StateBucket: "b", BoundaryARN: "arn"}, domain.StateBoundaryConfigured},
		{"role done", domain.ManagedAccount{AccountID: "1", StateBucket: "b", BoundaryARN: "arn", RoleARN: "arn"}, domain.StateRoleConfigured},
		{"budget done", domain.ManagedAccount{AccountID: "1", BudgetName: "b"}, domain.StateBudgetConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewindState(tt.acct); got != tt.want {
				t.Errorf("rewindState() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	if d := backoffDelay(time.Second, time.Minute, 0); d != time.Second {
		t.Errorf("attempt 0 = %s, want 1s", d)
	}
	if d := backoffDelay(time.Second, time.Minute, 3); d != 8*time.Second {
		t.Errorf("attempt 3 = %s, want 8s", d)
	}
	if d := backoffDelay(time.Second, time.Minute, 20); d != time.Minute {
		t.Errorf("attempt 20 = %s, want capped at 1m", d)
	}
}
