package provision

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"devaccounts/internal/domain"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/testutil"
)

func TestNamingDeterministic(t *testing.T) {
	if got := DisplayName("acme", "alice"); got != "acme-dev-alice" {
		t.Errorf("DisplayName = %q", got)
	}
	if got := BucketName("acme", "alice"); got != "acme-dev-alice-state" {
		t.Errorf("BucketName = %q", got)
	}
	if got := LockTableName("acme", "alice"); got != "acme-dev-alice-locks" {
		t.Errorf("LockTableName = %q", got)
	}
	if got := BoundaryPolicyARN("123456789012", "acme", "alice"); got != "arn:aws:iam::123456789012:policy/acme-dev-alice-boundary" {
		t.Errorf("BoundaryPolicyARN = %q", got)
	}
	if got := RoleARN("123456789012", "acme", "alice"); got != "arn:aws:iam::123456789012:role/acme-dev-alice-role" {
		t.Errorf("RoleARN = %q", got)
	}
}

func TestEnsureStateBucket(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()

	outcome, err := EnsureStateBucket(ctx, fake, "acme-dev-alice-state", "eu-west-1")
	if err != nil {
		t.Fatalf("EnsureStateBucket() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
	b := fake.Buckets["acme-dev-alice-state"]
	if b == nil {
		t.Fatal("bucket not created")
	}
	if !b.Versioned || !b.Encrypted || !b.Blocked {
		t.Errorf("bucket config = versioned:%v encrypted:%v blocked:%v, want all true",
			b.Versioned, b.Encrypted, b.Blocked)
	}

	// Second run is a verify, and re-applies the configuration.
	outcome, err = EnsureStateBucket(ctx, fake, "acme-dev-alice-state", "eu-west-1")
	if err != nil {
		t.Fatalf("second EnsureStateBucket() error = %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("second outcome = %v, want already-exists", outcome)
	}
	if fake.CallCount("PutBucketVersioning") != 2 {
		t.Errorf("PutBucketVersioning calls = %d, want 2", fake.CallCount("PutBucketVersioning"))
	}
}

func TestEnsureStateBucketForeignOwner(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.Fail["CreateBucket"] = testutil.APIError("BucketAlreadyExists", "taken")

	_, err := EnsureStateBucket(context.Background(), fake, "acme-dev-alice-state", "us-east-1")
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestEnsureStateBucketPartialFailure(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.Fail["PutBucketEncryption"] = testutil.APIError("InternalError", "boom")

	_, err := EnsureStateBucket(context.Background(), fake, "acme-dev-alice-state", "us-east-1")
	var partial *lifecycle.PartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("error = %v, want PartialFailure", err)
	}
	if partial.Failed != "encryption" {
		t.Errorf("Failed = %q, want encryption", partial.Failed)
	}
	if len(partial.Completed) != 2 {
		t.Errorf("Completed = %v, want create and versioning", partial.Completed)
	}
}

func TestEnsureLockTable(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()

	outcome, err := EnsureLockTable(ctx, fake, "acme-dev-alice-locks")
	if err != nil {
		t.Fatalf("EnsureLockTable() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
	schema := fake.Tables["acme-dev-alice-locks"]
	if len(schema) != 1 || awssdk.ToString(schema[0].AttributeName) != "LockID" {
		t.Errorf("key schema = %+v, want single LockID hash key", schema)
	}

	outcome, err = EnsureLockTable(ctx, fake, "acme-dev-alice-locks")
	if err != nil {
		t.Fatalf("second EnsureLockTable() error = %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("second outcome = %v, want already-exists", outcome)
	}
}

func TestEnsureLockTableSchemaConflict(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.Tables["acme-dev-alice-locks"] = []ddbtypes.KeySchemaElement{{
		AttributeName: awssdk.String("SomethingElse"),
		KeyType:       ddbtypes.KeyTypeHash,
	}}

	_, err := EnsureLockTable(context.Background(), fake, "acme-dev-alice-locks")
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestBoundaryDocument(t *testing.T) {
	doc, err := BoundaryDocument([]string{"us-east-1", "eu-west-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("BoundaryDocument() error = %v", err)
	}

	var parsed struct {
		Version   string `json:"Version"`
		Statement []struct {
			Sid    string `json:"Sid"`
			Effect string `json:"Effect"`
		} `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("boundary document is not valid JSON: %v", err)
	}
	if parsed.Version != "2012-10-17" {
		t.Errorf("Version = %q", parsed.Version)
	}

	sids := make(map[string]string)
	for _, s := range parsed.Statement {
		sids[s.Sid] = s.Effect
	}
	if sids["AllowWithinRegions"] != "Allow" {
		t.Error("missing AllowWithinRegions allow statement")
	}
	if sids["LimitInstanceClasses"] != "Deny" {
		t.Error("missing LimitInstanceClasses deny statement")
	}
	if sids["DenyBoundaryTampering"] != "Deny" {
		t.Error("missing DenyBoundaryTampering deny statement")
	}
	if !strings.Contains(doc, "us-east-1") || !strings.Contains(doc, "eu-west-1") {
		t.Error("boundary document missing allowed regions")
	}
}

func TestEnsureBoundary(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	fake.AccountID = "123456789012"

	arn, outcome, err := EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("EnsureBoundary() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
	want := "arn:aws:iam::123456789012:policy/acme-dev-alice-boundary"
	if arn != want {
		t.Errorf("arn = %q, want %q", arn, want)
	}

	arn, outcome, err = EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("second EnsureBoundary() error = %v", err)
	}
	if outcome != OutcomeAlreadyExists || arn != want {
		t.Errorf("second run = (%q, %v), want derived ARN and already-exists", arn, outcome)
	}
}

func TestEnsureBoundaryDocumentConflict(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	fake.AccountID = "123456789012"

	_, _, err := EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("EnsureBoundary() error = %v", err)
	}

	// A boundary created before the instance-class allowance changed.
	_, _, err = EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"m5.*"})
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	_, _, err = EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"eu-west-1"}, []string{"t3.*"})
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("region change: error = %v, want ErrConflict", err)
	}
}

func TestEnsureRoleBoundaryNotReady(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.AccountID = "123456789012"

	boundaryARN := BoundaryPolicyARN("123456789012", "acme", "alice")
	_, _, err := EnsureRole(context.Background(), fake, "123456789012", "999999999999", "acme", "alice", boundaryARN)
	if !errors.Is(err, lifecycle.ErrDependencyNotReady) {
		t.Fatalf("error = %v, want ErrDependencyNotReady", err)
	}
	if fake.CallCount("CreateRole") != 0 {
		t.Error("CreateRole called before boundary existed")
	}
}

func TestEnsureRole(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	fake.AccountID = "123456789012"

	boundaryARN, _, err := EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("EnsureBoundary() error = %v", err)
	}

	arn, outcome, err := EnsureRole(ctx, fake, "123456789012", "999999999999", "acme", "alice", boundaryARN)
	if err != nil {
		t.Fatalf("EnsureRole() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
	if arn != "arn:aws:iam::123456789012:role/acme-dev-alice-role" {
		t.Errorf("arn = %q", arn)
	}

	role := fake.Roles["acme-dev-alice-role"]
	if role.BoundaryARN != boundaryARN {
		t.Errorf("role boundary = %q, want %q", role.BoundaryARN, boundaryARN)
	}
	if len(role.Attached) != 1 || !strings.HasSuffix(role.Attached[0], "PowerUserAccess") {
		t.Errorf("attached policies = %v, want PowerUserAccess", role.Attached)
	}

	// Re-run verifies the existing role.
	_, outcome, err = EnsureRole(ctx, fake, "123456789012", "999999999999", "acme", "alice", boundaryARN)
	if err != nil {
		t.Fatalf("second EnsureRole() error = %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("second outcome = %v, want already-exists", outcome)
	}
}

func TestEnsureRoleBoundaryMismatch(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	fake.AccountID = "123456789012"

	boundaryARN, _, err := EnsureBoundary(ctx, fake, "123456789012", "acme", "alice",
		[]string{"us-east-1"}, []string{"t3.*"})
	if err != nil {
		t.Fatalf("EnsureBoundary() error = %v", err)
	}

	// A role that predates the boundary and lacks it entirely.
	fake.Roles["acme-dev-alice-role"] = &testutil.FakeRole{
		ARN: "arn:aws:iam::123456789012:role/acme-dev-alice-role",
	}

	_, _, err = EnsureRole(ctx, fake, "123456789012", "999999999999", "acme", "alice", boundaryARN)
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestEnsureBudget(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()
	policy := domain.DefaultBudgetPolicy("acme-dev-alice-budget", 100, []string{"alice@example.com"})

	outcome, err := EnsureBudget(ctx, fake, "123456789012", policy)
	if err != nil {
		t.Fatalf("EnsureBudget() error = %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want created", outcome)
	}
	if fake.Budgets["acme-dev-alice-budget"] != "100" {
		t.Errorf("budget limit = %q, want 100", fake.Budgets["acme-dev-alice-budget"])
	}

	outcome, err = EnsureBudget(ctx, fake, "123456789012", policy)
	if err != nil {
		t.Fatalf("second EnsureBudget() error = %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("second outcome = %v, want already-exists", outcome)
	}
}

func TestEnsureBudgetLimitConflict(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeCloud()

	policy := domain.DefaultBudgetPolicy("acme-dev-alice-budget", 100, []string{"alice@example.com"})
	if _, err := EnsureBudget(ctx, fake, "123456789012", policy); err != nil {
		t.Fatalf("EnsureBudget() error = %v", err)
	}

	// The same budget name with a raised limit must not be silently reused.
	raised := domain.DefaultBudgetPolicy("acme-dev-alice-budget", 500, []string{"alice@example.com"})
	_, err := EnsureBudget(ctx, fake, "123456789012", raised)
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}
