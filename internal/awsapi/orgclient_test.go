package awsapi

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"

	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
)

type fakeOrgAPI struct {
	statusPolls  int
	pollsUntilOK int
	failReason   orgtypes.CreateAccountFailureReason
	closeErr     error
	closedIDs    []string
}

func (f *fakeOrgAPI) CreateAccount(ctx context.Context, in *organizations.CreateAccountInput, _ ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
	return &organizations.CreateAccountOutput{
		CreateAccountStatus: &orgtypes.CreateAccountStatus{
			Id:    awssdk.String("car-0123456789abcdef"),
			State: orgtypes.CreateAccountStateInProgress,
		},
	}, nil
}

func (f *fakeOrgAPI) DescribeCreateAccountStatus(ctx context.Context, in *organizations.DescribeCreateAccountStatusInput, _ ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error) {
	f.statusPolls++
	status := &orgtypes.CreateAccountStatus{Id: in.CreateAccountRequestId}
	switch {
	case f.failReason != "":
		status.State = orgtypes.CreateAccountStateFailed
		status.FailureReason = f.failReason
	case f.statusPolls >= f.pollsUntilOK:
		status.State = orgtypes.CreateAccountStateSucceeded
		status.AccountId = awssdk.String("210987654321")
	default:
		status.State = orgtypes.CreateAccountStateInProgress
	}
	return &organizations.DescribeCreateAccountStatusOutput{CreateAccountStatus: status}, nil
}

func (f *fakeOrgAPI) DescribeAccount(ctx context.Context, in *organizations.DescribeAccountInput, _ ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error) {
	return &organizations.DescribeAccountOutput{
		Account: &orgtypes.Account{
			Id:     in.AccountId,
			Status: orgtypes.AccountStatusActive,
		},
	}, nil
}

func (f *fakeOrgAPI) CloseAccount(ctx context.Context, in *organizations.CloseAccountInput, _ ...func(*organizations.Options)) (*organizations.CloseAccountOutput, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closedIDs = append(f.closedIDs, awssdk.ToString(in.AccountId))
	return &organizations.CloseAccountOutput{}, nil
}

func testLogger() observability.Logger {
	return observability.NewLogger(observability.Config{Level: "error"})
}

func newTestOrgClient(api OrganizationsAPI) *OrgClient {
	c := NewOrgClient(api, testLogger(), time.Second)
	c.pollInterval = time.Millisecond
	return c
}

func TestOrgClientCreateAndWait(t *testing.T) {
	ctx := context.Background()
	fake := &fakeOrgAPI{pollsUntilOK: 3}
	c := newTestOrgClient(fake)

	reqID, err := c.CreateAccount(ctx, "acme-dev-john-smith", "john.smith@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reqID == "" {
		t.Fatal("empty create request id")
	}

	accountID, err := c.WaitForCreation(ctx, reqID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if accountID != "210987654321" {
		t.Fatalf("unexpected account id %q", accountID)
	}
	if fake.statusPolls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", fake.statusPolls)
	}
}

func TestOrgClientCreateFailureReasons(t *testing.T) {
	ctx := context.Background()

	fake := &fakeOrgAPI{failReason: orgtypes.CreateAccountFailureReasonEmailAlreadyExists}
	c := newTestOrgClient(fake)
	_, err := c.WaitForCreation(ctx, "car-x")
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("email conflict should map to ErrConflict, got %v", err)
	}

	fake = &fakeOrgAPI{failReason: orgtypes.CreateAccountFailureReasonAccountLimitExceeded}
	c = newTestOrgClient(fake)
	_, err = c.WaitForCreation(ctx, "car-x")
	if !errors.Is(err, lifecycle.ErrPermissionDenied) {
		t.Fatalf("limit exceeded should map to ErrPermissionDenied, got %v", err)
	}
}

func TestOrgClientWaitForCreationDeadline(t *testing.T) {
	// A request stuck IN_PROGRESS must not poll forever.
	fake := &fakeOrgAPI{pollsUntilOK: 1 << 30}
	c := newTestOrgClient(fake)
	c.pollInterval = time.Second
	c.waitTimeout = 20 * time.Millisecond

	_, err := c.WaitForCreation(context.Background(), "car-stuck")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if fake.statusPolls == 0 {
		t.Fatal("expected at least one poll before the deadline")
	}
}

func TestOrgClientSuspendAlreadyClosed(t *testing.T) {
	ctx := context.Background()
	fake := &fakeOrgAPI{closeErr: &smithy.GenericAPIError{
		Code: "AccountAlreadyClosedException", Message: "already closed",
	}}
	c := newTestOrgClient(fake)
	if err := c.Suspend(ctx, "210987654321"); err != nil {
		t.Fatalf("already-closed should be a no-op, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"AccessDenied", lifecycle.ErrPermissionDenied},
		{"ThrottlingException", lifecycle.ErrThrottled},
		{"NoSuchEntity", lifecycle.ErrNotFound},
	}
	for _, c := range cases {
		err := Classify(&smithy.GenericAPIError{Code: c.code, Message: "x"})
		if !errors.Is(err, c.want) {
			t.Errorf("Classify(%s) = %v, want %v", c.code, err, c.want)
		}
	}

	plain := errors.New("plain")
	if got := Classify(plain); got != plain {
		t.Errorf("non-API errors should pass through")
	}
	if Classify(nil) != nil {
		t.Errorf("nil should pass through")
	}
}
