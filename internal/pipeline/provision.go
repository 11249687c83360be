package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"devaccounts/internal/audit"
	"devaccounts/internal/domain"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
	"devaccounts/internal/provision"
	"devaccounts/internal/validation"
)

// Provisioning step names, in execution order.
const (
	StepCreateAccount     = "create-account"
	StepAwaitPropagation  = "await-propagation"
	StepConfigureBaseline = "configure-baseline"
	StepConfigureBoundary = "configure-boundary"
	StepConfigureRole     = "configure-role"
	StepConfigureBudget   = "configure-budget"
	StepGenerateArtifacts = "generate-artifacts"
)

// Provision runs the provisioning pipeline for one request. It validates the
// request before touching any cloud API, resumes from the persisted state when
// a record already exists, and returns the final record.
//
// An account that is already Active is a no-op returning the existing record.
func (p *Provisioner) Provision(ctx context.Context, req domain.AccountRequest) (domain.ManagedAccount, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = observability.WithRequestID(ctx, req.RequestID)
	ctx = observability.WithDeveloper(ctx, req.DeveloperName)

	if err := validation.ValidateRequest(req); err != nil {
		return domain.ManagedAccount{}, err
	}
	if len(req.Regions) == 0 {
		req.Regions = p.cfg.DefaultRegions
	}

	acct, err := p.loadOrCreate(ctx, req)
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	if acct.State == domain.StateActive {
		p.logger.InfoContext(ctx, "account already active, nothing to do")
		return acct, nil
	}
	if acct.State.Reached(domain.StateOffboardRequested) {
		return acct, fmt.Errorf("%w: account %q is offboarding (state %s)",
			lifecycle.ErrConflict, acct.DeveloperName, acct.State)
	}

	if err := p.run(ctx, &acct); err != nil {
		return acct, err
	}
	return acct, nil
}

// Resume re-runs the pipeline for an existing record, including one that
// previously failed. Every provisioning operation is create-or-verify, so
// re-execution of completed steps is harmless.
func (p *Provisioner) Resume(ctx context.Context, developer string) (domain.ManagedAccount, error) {
	ctx = observability.WithDeveloper(ctx, developer)

	acct, ok, err := p.store.Get(ctx, developer)
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	if !ok {
		return domain.ManagedAccount{}, fmt.Errorf("account %q: %w", developer, lifecycle.ErrNotFound)
	}
	if acct.State == domain.StateActive {
		return acct, nil
	}
	if acct.State == domain.StateCancelled || acct.State.Reached(domain.StateOffboardRequested) {
		return acct, fmt.Errorf("%w: account %q is not resumable from state %s",
			lifecycle.ErrConflict, developer, acct.State)
	}
	if acct.State == domain.StateFailed {
		// Rewind to the last completed transition; FailedStep tells the
		// operator where it stopped, the idempotent steps take it from there.
		acct.State = rewindState(acct)
		acct.FailedStep = ""
		acct.FailureCause = ""
		if err := p.save(ctx, &acct); err != nil {
			return acct, err
		}
	}
	if err := p.run(ctx, &acct); err != nil {
		return acct, err
	}
	return acct, nil
}

// rewindState maps a failed record back onto the provisioning chain using the
// resource identifiers it managed to persist.
func rewindState(acct domain.ManagedAccount) domain.LifecycleState {
	switch {
	case acct.BudgetName != "":
		return domain.StateBudgetConfigured
	case acct.RoleARN != "":
		return domain.StateRoleConfigured
	case acct.BoundaryARN != "":
		return domain.StateBoundaryConfigured
	case acct.StateBucket != "":
		return domain.StateBaselineConfigured
	case acct.AccountID != "":
		return domain.StateAwaitingPropagation
	case acct.CreateRequestID != "":
		return domain.StateCreating
	}
	return domain.StateRequested
}

func (p *Provisioner) loadOrCreate(ctx context.Context, req domain.AccountRequest) (domain.ManagedAccount, error) {
	acct, ok, err := p.store.Get(ctx, req.DeveloperName)
	if err != nil {
		return domain.ManagedAccount{}, err
	}
	if ok {
		if acct.Email != req.Email {
			return domain.ManagedAccount{}, fmt.Errorf(
				"%w: developer %q already provisioned with a different email",
				lifecycle.ErrConflict, req.DeveloperName)
		}
		return acct, nil
	}

	acct = domain.ManagedAccount{
		DisplayName:   provision.DisplayName(p.cfg.OrgPrefix, req.DeveloperName),
		DeveloperName: req.DeveloperName,
		Email:         req.Email,
		State:         domain.StateRequested,
		MonthlyBudget: req.MonthlyBudget,
		TicketID:      req.TicketID,
		Regions:       req.Regions,
	}
	if err := p.save(ctx, &acct); err != nil {
		return domain.ManagedAccount{}, err
	}
	p.audit(ctx, &acct, "request", "", string(domain.StateRequested), audit.OutcomeOK, "")
	return acct, nil
}

// run executes the remaining steps for acct, mutating and persisting it as it
// goes. On failure the record lands in Failed (or Cancelled) with the step
// and cause recorded.
func (p *Provisioner) run(ctx context.Context, acct *domain.ManagedAccount) error {
	steps := []struct {
		name string
		// reaches is the state whose presence means the step already ran.
		reaches domain.LifecycleState
		fn      func(ctx context.Context, acct *domain.ManagedAccount) error
	}{
		{StepCreateAccount, domain.StateAwaitingPropagation, p.stepCreateAccount},
		{StepAwaitPropagation, domain.StateBaselineConfigured, p.stepAwaitPropagation},
		{StepConfigureBaseline, domain.StateBaselineConfigured, p.stepConfigureBaseline},
		{StepConfigureBoundary, domain.StateBoundaryConfigured, p.stepConfigureBoundary},
		{StepConfigureRole, domain.StateRoleConfigured, p.stepConfigureRole},
		{StepConfigureBudget, domain.StateBudgetConfigured, p.stepConfigureBudget},
		{StepGenerateArtifacts, domain.StateArtifactsGenerated, p.stepGenerateArtifacts},
	}

	for _, step := range steps {
		if acct.State.Reached(step.reaches) {
			continue
		}
		stepCtx := observability.WithStep(ctx, step.name)
		start := time.Now()
		err := p.retry(stepCtx, step.name, func(ctx context.Context) error {
			return step.fn(ctx, acct)
		})
		if err != nil {
			p.metrics.RecordStep(p.pipeline, step.name, "failed", time.Since(start))
			return p.fail(stepCtx, acct, step.name, err)
		}
		p.metrics.RecordStep(p.pipeline, step.name, "ok", time.Since(start))
	}

	if err := p.transition(ctx, acct, "activate", domain.StateActive, audit.OutcomeOK); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "account active", "account_id", acct.AccountID)
	return nil
}

// fail records the terminal failure. Context cancellation lands in Cancelled
// rather than Failed so operators can tell an abort from a real error.
func (p *Provisioner) fail(ctx context.Context, acct *domain.ManagedAccount, step string, cause error) error {
	to := domain.StateFailed
	if errors.Is(cause, context.Canceled) {
		to = domain.StateCancelled
	}
	from := acct.State
	acct.State = to
	acct.FailedStep = step
	acct.FailureCause = cause.Error()

	// Persisting the failure must not mask the original error.
	if err := p.save(ctx, acct); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist failure state", "error", err)
	}
	p.audit(ctx, acct, step, string(from), string(to), audit.OutcomeFailed, cause.Error())
	p.logger.ErrorContext(ctx, "provisioning failed", "step", step, "error", cause)
	return lifecycle.NewStepError(step, cause)
}

func (p *Provisioner) stepCreateAccount(ctx context.Context, acct *domain.ManagedAccount) error {
	if acct.CreateRequestID == "" {
		reqID, err := p.org.CreateAccount(ctx, acct.DisplayName, acct.Email)
		if err != nil {
			return err
		}
		// Persist the request token before waiting so an interrupted run
		// never submits a second create for the same developer.
		acct.CreateRequestID = reqID
		if err := p.transition(ctx, acct, StepCreateAccount, domain.StateCreating, audit.OutcomeOK); err != nil {
			return err
		}
	}

	if acct.AccountID == "" {
		accountID, err := p.org.WaitForCreation(ctx, acct.CreateRequestID)
		if err != nil {
			return err
		}
		acct.AccountID = accountID
		acct.StateBucket = provision.BucketName(p.cfg.OrgPrefix, acct.DeveloperName)
		acct.LockTable = provision.LockTableName(p.cfg.OrgPrefix, acct.DeveloperName)
	}
	return p.save(ctx, acct)
}

func (p *Provisioner) stepAwaitPropagation(ctx context.Context, acct *domain.ManagedAccount) error {
	if acct.State.Reached(domain.StateAwaitingPropagation) {
		// A resumed run has already waited once.
		return nil
	}
	if err := p.transition(ctx, acct, StepAwaitPropagation, domain.StateAwaitingPropagation, audit.OutcomeOK); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "waiting for account propagation", "wait", p.cfg.PropagationWait)
	return p.sleep(ctx, p.cfg.PropagationWait)
}

func (p *Provisioner) stepConfigureBaseline(ctx context.Context, acct *domain.ManagedAccount) error {
	region := acct.Regions[0]
	return p.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		bucketOutcome, err := provision.EnsureStateBucket(ctx, p.clients.S3(sess, region), acct.StateBucket, region)
		if err != nil {
			return err
		}
		if bucketOutcome == provision.OutcomeAlreadyExists {
			p.audit(ctx, acct, StepConfigureBaseline, "", "", audit.OutcomeNoop, "state bucket existed")
		}

		tableOutcome, err := provision.EnsureLockTable(ctx, p.clients.DynamoDB(sess, region), acct.LockTable)
		if err != nil {
			return err
		}
		if tableOutcome == provision.OutcomeAlreadyExists {
			p.audit(ctx, acct, StepConfigureBaseline, "", "", audit.OutcomeNoop, "lock table existed")
		}

		return p.transition(ctx, acct, StepConfigureBaseline, domain.StateBaselineConfigured, audit.OutcomeOK)
	})
}

func (p *Provisioner) stepConfigureBoundary(ctx context.Context, acct *domain.ManagedAccount) error {
	region := acct.Regions[0]
	return p.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		arn, outcome, err := provision.EnsureBoundary(ctx, p.clients.IAM(sess, region),
			acct.AccountID, p.cfg.OrgPrefix, acct.DeveloperName, acct.Regions, p.cfg.AllowedInstanceTypes)
		if err != nil {
			return err
		}
		acct.BoundaryARN = arn
		out := audit.OutcomeOK
		if outcome == provision.OutcomeAlreadyExists {
			out = audit.OutcomeNoop
		}
		return p.transition(ctx, acct, StepConfigureBoundary, domain.StateBoundaryConfigured, out)
	})
}

func (p *Provisioner) stepConfigureRole(ctx context.Context, acct *domain.ManagedAccount) error {
	region := acct.Regions[0]
	return p.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		arn, outcome, err := provision.EnsureRole(ctx, p.clients.IAM(sess, region),
			acct.AccountID, p.managementAccountID, p.cfg.OrgPrefix, acct.DeveloperName, acct.BoundaryARN)
		if err != nil {
			return err
		}
		acct.RoleARN = arn
		out := audit.OutcomeOK
		if outcome == provision.OutcomeAlreadyExists {
			out = audit.OutcomeNoop
		}
		return p.transition(ctx, acct, StepConfigureRole, domain.StateRoleConfigured, out)
	})
}

func (p *Provisioner) stepConfigureBudget(ctx context.Context, acct *domain.ManagedAccount) error {
	return p.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		name := provision.BudgetName(p.cfg.OrgPrefix, acct.DeveloperName)
		subscribers := []string{acct.Email}
		if p.cfg.OpsEmail != "" {
			subscribers = append(subscribers, p.cfg.OpsEmail)
		}
		policy := domain.DefaultBudgetPolicy(name, acct.MonthlyBudget, subscribers)

		outcome, err := provision.EnsureBudget(ctx, p.clients.Budgets(sess), acct.AccountID, policy)
		if err != nil {
			return err
		}
		acct.BudgetName = name
		out := audit.OutcomeOK
		if outcome == provision.OutcomeAlreadyExists {
			out = audit.OutcomeNoop
		}
		return p.transition(ctx, acct, StepConfigureBudget, domain.StateBudgetConfigured, out)
	})
}

func (p *Provisioner) stepGenerateArtifacts(ctx context.Context, acct *domain.ManagedAccount) error {
	artifact, err := p.renderer.Render(acct)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "onboarding artifacts written",
		"backend", artifact.BackendPath, "guide", artifact.GuidePath)
	return p.transition(ctx, acct, StepGenerateArtifacts, domain.StateArtifactsGenerated, audit.OutcomeOK)
}
