// Package pipeline drives the account lifecycle state machines. Each run
// executes the remaining steps for one developer, persisting the record after
// every transition so an interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"devaccounts/internal/audit"
	"devaccounts/internal/config"
	"devaccounts/internal/domain"
	"devaccounts/internal/inventory"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
	"devaccounts/internal/provision"
)

// OrgAPI is the management-account surface the pipelines need.
type OrgAPI interface {
	CreateAccount(ctx context.Context, name, email string) (string, error)
	WaitForCreation(ctx context.Context, createRequestID string) (string, error)
	Status(ctx context.Context, accountID string) (string, error)
	Suspend(ctx context.Context, accountID string) error
}

// Broker obtains ephemeral cross-account sessions.
type Broker interface {
	Assume(ctx context.Context, accountID string) (domain.CrossAccountSession, error)
}

// ArtifactRenderer writes onboarding outputs for a provisioned account.
type ArtifactRenderer interface {
	Render(acct *domain.ManagedAccount) (domain.OnboardingArtifact, error)
}

// Clients builds session-scoped service clients. Constructor funcs rather
// than pre-built clients because every step assumes a fresh session.
type Clients struct {
	S3       func(sess domain.CrossAccountSession, region string) provision.S3API
	DynamoDB func(sess domain.CrossAccountSession, region string) provision.DynamoDBAPI
	IAM      func(sess domain.CrossAccountSession, region string) provision.IAMAPI
	Budgets  func(sess domain.CrossAccountSession) provision.BudgetsAPI
}

// runner carries the mechanics shared by both pipelines: retry with capped
// exponential backoff, record persistence, and audit/metrics plumbing.
type runner struct {
	pipeline string
	cfg      *config.Config
	store    inventory.Store
	broker   Broker
	recorder audit.Recorder
	logger   observability.Logger
	metrics  *observability.Metrics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// retry runs fn, re-invoking it with capped exponential backoff while it
// returns a retryable error. Exhausted assume-role retries escalate from
// "not yet available" to a hard denial.
func (r *runner) retry(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !lifecycle.Retryable(err) || attempt >= r.cfg.MaxRetries {
			break
		}
		delay := backoffDelay(r.cfg.RetryBackoff, r.cfg.RetryBackoffCap, attempt)
		r.logger.WarnContext(ctx, "step failed, retrying",
			"step", step, "attempt", attempt+1, "delay", delay, "error", err)
		r.metrics.RecordRetry()
		r.metrics.RecordStep(r.pipeline, step, "retry", 0)
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	if errors.Is(err, lifecycle.ErrAssumeRoleNotYetAvailable) {
		return fmt.Errorf("%w after %d attempts: %v", lifecycle.ErrAssumeRoleDenied, r.cfg.MaxRetries+1, err)
	}
	return err
}

// backoffDelay is initial * 2^attempt, capped at limit.
func backoffDelay(initial, limit time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt)))
	if limit > 0 && (d > limit || d <= 0) {
		d = limit
	}
	return d
}

// save persists the record and refreshes the in-memory version.
func (r *runner) save(ctx context.Context, acct *domain.ManagedAccount) error {
	updated, err := r.store.Upsert(ctx, *acct)
	if err != nil {
		return fmt.Errorf("persist account record: %w", err)
	}
	*acct = updated
	return nil
}

// transition advances the record to the next state, persists it, and records
// the audit event.
func (r *runner) transition(ctx context.Context, acct *domain.ManagedAccount, step string, to domain.LifecycleState, outcome string) error {
	from := acct.State
	acct.State = to
	if err := r.save(ctx, acct); err != nil {
		acct.State = from
		return err
	}
	r.audit(ctx, acct, step, string(from), string(to), outcome, "")
	r.logger.InfoContext(ctx, "state transition",
		"step", step, "from", from, "to", to, "outcome", outcome)
	return nil
}

func (r *runner) audit(ctx context.Context, acct *domain.ManagedAccount, step, from, to, outcome, detail string) {
	if r.recorder == nil {
		return
	}
	event := &audit.Event{
		RequestID: observability.RequestIDFromContext(ctx),
		Developer: acct.DeveloperName,
		AccountID: acct.AccountID,
		Pipeline:  r.pipeline,
		Step:      step,
		FromState: from,
		ToState:   to,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := r.recorder.Record(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "audit record failed", "step", step, "error", err)
	}
}

// withSession obtains a fresh session for one step, runs fn, and wipes the
// credentials before returning.
func (r *runner) withSession(ctx context.Context, accountID string, fn func(sess domain.CrossAccountSession) error) error {
	sess, err := r.broker.Assume(ctx, accountID)
	if err != nil {
		return err
	}
	defer sess.Zero()
	return fn(sess)
}

// Provisioner runs the provisioning state machine.
type Provisioner struct {
	runner
	org      OrgAPI
	clients  Clients
	renderer ArtifactRenderer

	// managementAccountID is embedded in role trust policies.
	managementAccountID string
}

// NewProvisioner wires up a provisioning pipeline.
func NewProvisioner(cfg *config.Config, store inventory.Store, org OrgAPI, broker Broker,
	clients Clients, renderer ArtifactRenderer, recorder audit.Recorder,
	logger observability.Logger, metrics *observability.Metrics, managementAccountID string) *Provisioner {
	return &Provisioner{
		runner: runner{
			pipeline: audit.PipelineProvision,
			cfg:      cfg,
			store:    store,
			broker:   broker,
			recorder: recorder,
			logger:   logger.WithComponent("provisioner"),
			metrics:  metrics,
			sleep:    sleepCtx,
		},
		org:                 org,
		clients:             clients,
		renderer:            renderer,
		managementAccountID: managementAccountID,
	}
}
