package awsapi

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"devaccounts/internal/domain"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
)

// MaxSessionDuration bounds cross-account sessions.
const MaxSessionDuration = time.Hour

// STSAPI is the subset of the STS client the broker calls.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// SessionBroker obtains short-lived credentials scoped to one target account
// by assuming its trust role. Sessions are handed to the caller by value and
// never persisted; the caller zeroes them when its step completes.
type SessionBroker struct {
	api           STSAPI
	trustRoleName string
	duration      time.Duration
	callTimeout   time.Duration
	logger        observability.Logger
}

// NewSessionBroker creates a broker for the given trust role. Durations above
// MaxSessionDuration are clamped. callTimeout caps each AssumeRole call; zero
// leaves it unbounded.
func NewSessionBroker(api STSAPI, trustRoleName string, duration, callTimeout time.Duration, logger observability.Logger) *SessionBroker {
	if duration <= 0 || duration > MaxSessionDuration {
		duration = MaxSessionDuration
	}
	return &SessionBroker{
		api:           api,
		trustRoleName: trustRoleName,
		duration:      duration,
		callTimeout:   callTimeout,
		logger:        logger.WithComponent("broker"),
	}
}

// Assume obtains a session for the target account. Access denials are
// reported as ErrAssumeRoleNotYetAvailable because the trust role takes time
// to propagate after account creation; the pipeline's bounded retry converts
// persistent denial into ErrAssumeRoleDenied.
func (b *SessionBroker) Assume(ctx context.Context, accountID string) (domain.CrossAccountSession, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.trustRoleName)

	cctx, cancel := callCtx(ctx, b.callTimeout)
	out, err := b.api.AssumeRole(cctx, &sts.AssumeRoleInput{
		RoleArn:         awssdk.String(roleARN),
		RoleSessionName: awssdk.String("devaccounts-orchestrator"),
		DurationSeconds: awssdk.Int32(int32(b.duration.Seconds())),
	})
	cancel()
	if err != nil {
		if IsCode(err, "AccessDenied") || IsCode(err, "AccessDeniedException") {
			return domain.CrossAccountSession{},
				fmt.Errorf("%w: %s", lifecycle.ErrAssumeRoleNotYetAvailable, roleARN)
		}
		return domain.CrossAccountSession{}, fmt.Errorf("assume role %s: %w", roleARN, Classify(err))
	}

	creds := out.Credentials
	b.logger.DebugContext(ctx, "cross-account session obtained",
		"account_id", accountID, "expires", awssdk.ToTime(creds.Expiration))

	return domain.CrossAccountSession{
		AccessKeyID:     awssdk.ToString(creds.AccessKeyId),
		SecretAccessKey: awssdk.ToString(creds.SecretAccessKey),
		SessionToken:    awssdk.ToString(creds.SessionToken),
		Expiration:      awssdk.ToTime(creds.Expiration),
	}, nil
}
