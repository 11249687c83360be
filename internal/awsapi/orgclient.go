package awsapi

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"golang.org/x/time/rate"

	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
)

// OrganizationsAPI is the subset of the Organizations client the orchestrator
// calls. Narrow on purpose so tests can fake it.
type OrganizationsAPI interface {
	CreateAccount(ctx context.Context, params *organizations.CreateAccountInput, optFns ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error)
	DescribeCreateAccountStatus(ctx context.Context, params *organizations.DescribeCreateAccountStatusInput, optFns ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error)
	DescribeAccount(ctx context.Context, params *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
	CloseAccount(ctx context.Context, params *organizations.CloseAccountInput, optFns ...func(*organizations.Options)) (*organizations.CloseAccountOutput, error)
}

// DefaultCreateWaitTimeout bounds the whole account-creation poll loop.
// Creation normally completes within a few minutes; a request still pending
// after this long needs an operator, not more polling.
const DefaultCreateWaitTimeout = 15 * time.Minute

// OrgClient wraps account create/describe/suspend calls against the
// organization's management account. Account-create calls are heavily
// throttled upstream, so all calls go through a shared rate limiter.
type OrgClient struct {
	api     OrganizationsAPI
	limiter *rate.Limiter
	logger  observability.Logger

	// callTimeout caps each individual API call; zero means unbounded.
	callTimeout time.Duration

	// pollInterval between DescribeCreateAccountStatus calls.
	pollInterval time.Duration

	// waitTimeout caps WaitForCreation end to end.
	waitTimeout time.Duration
}

// NewOrgClient creates an OrgClient. The default limiter allows one
// management-API call per second with a small burst.
func NewOrgClient(api OrganizationsAPI, logger observability.Logger, callTimeout time.Duration) *OrgClient {
	return &OrgClient{
		api:          api,
		limiter:      rate.NewLimiter(rate.Limit(1), 3),
		logger:       logger.WithComponent("orgclient"),
		callTimeout:  callTimeout,
		pollInterval: 5 * time.Second,
		waitTimeout:  DefaultCreateWaitTimeout,
	}
}

// callCtx bounds one SDK call when a per-call timeout is configured.
func callCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// CreateAccount submits an account-create request and returns the request id
// used to poll for completion. It does not wait for the account to be usable.
func (c *OrgClient) CreateAccount(ctx context.Context, name, email string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	cctx, cancel := callCtx(ctx, c.callTimeout)
	out, err := c.api.CreateAccount(cctx, &organizations.CreateAccountInput{
		AccountName: awssdk.String(name),
		Email:       awssdk.String(email),
	})
	cancel()
	if err != nil {
		return "", fmt.Errorf("create account: %w", Classify(err))
	}
	reqID := awssdk.ToString(out.CreateAccountStatus.Id)
	c.logger.InfoContext(ctx, "account creation requested", "account_name", name, "create_request_id", reqID)
	return reqID, nil
}

// WaitForCreation polls the create-request status until the account exists,
// the request fails, or waitTimeout elapses. Returns the new account id.
func (c *OrgClient) WaitForCreation(ctx context.Context, createRequestID string) (string, error) {
	if c.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for account creation: %w", err)
		}
		cctx, cancel := callCtx(ctx, c.callTimeout)
		out, err := c.api.DescribeCreateAccountStatus(cctx, &organizations.DescribeCreateAccountStatusInput{
			CreateAccountRequestId: awssdk.String(createRequestID),
		})
		cancel()
		if err != nil {
			return "", fmt.Errorf("describe create status: %w", Classify(err))
		}

		status := out.CreateAccountStatus
		switch status.State {
		case orgtypes.CreateAccountStateSucceeded:
			return awssdk.ToString(status.AccountId), nil
		case orgtypes.CreateAccountStateFailed:
			return "", createFailure(status.FailureReason)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for account creation: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func createFailure(reason orgtypes.CreateAccountFailureReason) error {
	switch reason {
	case orgtypes.CreateAccountFailureReasonEmailAlreadyExists,
		orgtypes.CreateAccountFailureReason("ACCOUNT_ALREADY_EXISTS"):
		return fmt.Errorf("%w: account create failed with %s", lifecycle.ErrConflict, reason)
	case orgtypes.CreateAccountFailureReasonAccountLimitExceeded:
		return fmt.Errorf("%w: organization account limit exceeded", lifecycle.ErrPermissionDenied)
	}
	return fmt.Errorf("account creation failed: %s", reason)
}

// Status returns the lifecycle status string of an account as reported by
// the management service.
func (c *OrgClient) Status(ctx context.Context, accountID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	cctx, cancel := callCtx(ctx, c.callTimeout)
	out, err := c.api.DescribeAccount(cctx, &organizations.DescribeAccountInput{
		AccountId: awssdk.String(accountID),
	})
	cancel()
	if err != nil {
		return "", fmt.Errorf("describe account: %w", Classify(err))
	}
	return string(out.Account.Status), nil
}

// Suspend closes the member account. The provider keeps closed accounts
// recoverable for its own retention window; this is a suspension, not a
// destruction. An already-closed account is a no-op.
func (c *OrgClient) Suspend(ctx context.Context, accountID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := callCtx(ctx, c.callTimeout)
	_, err := c.api.CloseAccount(cctx, &organizations.CloseAccountInput{
		AccountId: awssdk.String(accountID),
	})
	cancel()
	if err != nil {
		if IsCode(err, "AccountAlreadyClosedException") {
			c.logger.InfoContext(ctx, "account already closed", "account_id", accountID)
			return nil
		}
		return fmt.Errorf("close account: %w", Classify(err))
	}
	c.logger.InfoContext(ctx, "account suspended", "account_id", accountID)
	return nil
}
