package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"devaccounts/internal/audit"
	"devaccounts/internal/config"
	"devaccounts/internal/domain"
	"devaccounts/internal/inventory"
	"devaccounts/internal/lifecycle"
	"devaccounts/internal/observability"
	"devaccounts/internal/offboard"
)

// Offboarding step names, in execution order.
const (
	StepBackupState  = "backup-state"
	StepSnapshot     = "snapshot-resources"
	StepCostReport   = "cost-report"
	StepCleanup      = "cleanup-resources"
	StepRemoveRecord = "remove-record"
	StepArchive      = "archive"
	StepSuspend      = "suspend-account"
)

// OffboardClients builds session-scoped clients for decommissioning.
type OffboardClients struct {
	S3       func(sess domain.CrossAccountSession, region string) offboard.S3API
	DynamoDB func(sess domain.CrossAccountSession, region string) offboard.DynamoDBAPI
	EC2      func(sess domain.CrossAccountSession, region string) offboard.EC2API
	RDS      func(sess domain.CrossAccountSession, region string) offboard.RDSAPI
	Cost     func(sess domain.CrossAccountSession) offboard.CostAPI
}

// OffboardOptions controls optional offboarding behavior. Every skipped step
// is recorded as such in the audit trail.
type OffboardOptions struct {
	// SkipBackup acknowledges the remote state will not be copied into the
	// archive bundle.
	SkipBackup bool

	// SkipSnapshots bypasses the best-effort resource snapshot step.
	SkipSnapshots bool

	// RetainResources leaves the state bucket and lock table in place,
	// skipping the destructive cleanup step entirely.
	RetainResources bool

	// ConfirmCleanup authorizes destruction of the account's baseline
	// resources. Without it the run stops before the cleanup step.
	ConfirmCleanup bool
}

// Offboarder runs the decommissioning state machine.
type Offboarder struct {
	runner
	org     OrgAPI
	clients OffboardClients

	// now is replaceable in tests.
	now func() time.Time
}

// NewOffboarder wires up an offboarding pipeline.
func NewOffboarder(cfg *config.Config, store inventory.Store, org OrgAPI, broker Broker,
	clients OffboardClients, recorder audit.Recorder,
	logger observability.Logger, metrics *observability.Metrics) *Offboarder {
	return &Offboarder{
		runner: runner{
			pipeline: audit.PipelineOffboard,
			cfg:      cfg,
			store:    store,
			broker:   broker,
			recorder: recorder,
			logger:   logger.WithComponent("offboarder"),
			metrics:  metrics,
			sleep:    sleepCtx,
		},
		org:     org,
		clients: clients,
		now:     time.Now,
	}
}

// Offboard decommissions a developer account: back up remote state, snapshot
// resources, export the final cost report, destroy baseline resources, remove
// the source-of-record entry, archive everything, and suspend the account.
//
// The run resumes from the persisted state, so a previously interrupted
// offboarding picks up where it stopped. Backup must complete (or be
// explicitly skipped) before anything destructive happens; cleanup
// additionally requires ConfirmCleanup unless resources are retained.
func (o *Offboarder) Offboard(ctx context.Context, developer string, opts OffboardOptions) (domain.OffboardingArchive, error) {
	ctx = observability.WithRequestID(ctx, uuid.NewString())
	ctx = observability.WithDeveloper(ctx, developer)
	var archive domain.OffboardingArchive

	acct, ok, err := o.store.Get(ctx, developer)
	if err != nil {
		return archive, err
	}
	if !ok {
		return archive, fmt.Errorf("account %q: %w", developer, lifecycle.ErrNotFound)
	}
	switch {
	case acct.State == domain.StateActive:
		if err := o.transition(ctx, &acct, "request", domain.StateOffboardRequested, audit.OutcomeOK); err != nil {
			return archive, err
		}
	case acct.State.Reached(domain.StateOffboardRequested):
		o.logger.InfoContext(ctx, "resuming offboarding", "state", acct.State)
	default:
		return archive, fmt.Errorf("%w: account %q is %s, only active accounts can be offboarded",
			lifecycle.ErrConflict, developer, acct.State)
	}

	// The bundle directory is a pure function of the developer name so a
	// resumed run finds its earlier backup.
	bundleDir := filepath.Join(o.cfg.ArchiveDir, developer)
	var warnings []string
	var report offboard.CostReport

	steps := []struct {
		name    string
		reaches domain.LifecycleState
		fn      func(ctx context.Context) error
	}{
		{StepBackupState, domain.StateBackedUp, func(ctx context.Context) error {
			return o.stepBackup(ctx, &acct, bundleDir, opts.SkipBackup)
		}},
		{StepSnapshot, domain.StateSnapshotted, func(ctx context.Context) error {
			w, err := o.stepSnapshot(ctx, &acct, opts.SkipSnapshots)
			warnings = append(warnings, w...)
			return err
		}},
		{StepCostReport, domain.StateCostReported, func(ctx context.Context) error {
			r, err := o.stepCostReport(ctx, &acct, bundleDir)
			report = r
			return err
		}},
		{StepCleanup, domain.StateResourcesCleaned, func(ctx context.Context) error {
			return o.stepCleanup(ctx, &acct, opts)
		}},
	}

	for _, step := range steps {
		if acct.State.Reached(step.reaches) {
			continue
		}
		stepCtx := observability.WithStep(ctx, step.name)
		start := time.Now()
		if err := o.retry(stepCtx, step.name, step.fn); err != nil {
			o.metrics.RecordStep(o.pipeline, step.name, "failed", time.Since(start))
			o.audit(stepCtx, &acct, step.name, string(acct.State), "", audit.OutcomeFailed, err.Error())
			o.logger.ErrorContext(stepCtx, "offboarding failed", "step", step.name, "error", err)
			return archive, lifecycle.NewStepError(step.name, err)
		}
		o.metrics.RecordStep(o.pipeline, step.name, "ok", time.Since(start))
	}

	// A run resumed past the cost-report step never queried billing; the
	// report it wrote earlier is on disk.
	if report.AccountID == "" {
		if r, err := offboard.ReadCostReport(bundleDir); err == nil {
			report = r
		}
	}

	// Past this point the record leaves the source of record; state lives in
	// the archive bundle instead.
	if err := o.stepRemoveRecord(ctx, &acct); err != nil {
		return archive, lifecycle.NewStepError(StepRemoveRecord, err)
	}

	archive, err = o.stepArchive(ctx, &acct, bundleDir, report, warnings)
	if err != nil {
		return archive, lifecycle.NewStepError(StepArchive, err)
	}

	if err := o.retry(observability.WithStep(ctx, StepSuspend), StepSuspend, func(ctx context.Context) error {
		return o.org.Suspend(ctx, acct.AccountID)
	}); err != nil {
		// The account record is archived; suspension can be re-driven
		// manually without re-running the pipeline.
		o.audit(ctx, &acct, StepSuspend, "", "", audit.OutcomeFailed, err.Error())
		return archive, lifecycle.NewStepError(StepSuspend, err)
	}
	o.audit(ctx, &acct, StepSuspend, "", "", audit.OutcomeOK, "")
	o.logger.InfoContext(ctx, "account offboarded", "account_id", acct.AccountID, "archive", archive.Dir)
	return archive, nil
}

func (o *Offboarder) stepBackup(ctx context.Context, acct *domain.ManagedAccount, bundleDir string, skip bool) error {
	if skip {
		o.logger.WarnContext(ctx, "state backup skipped by operator")
		return o.transition(ctx, acct, StepBackupState, domain.StateBackedUp, audit.OutcomeSkipped)
	}
	return o.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		region := acct.Regions[0]
		copied, err := offboard.BackupState(ctx, o.clients.S3(sess, region), acct.StateBucket, filepath.Join(bundleDir, "state"))
		if err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "state backed up", "objects", copied)
		return o.transition(ctx, acct, StepBackupState, domain.StateBackedUp, audit.OutcomeOK)
	})
}

func (o *Offboarder) stepSnapshot(ctx context.Context, acct *domain.ManagedAccount, skip bool) ([]string, error) {
	if skip {
		return nil, o.transition(ctx, acct, StepSnapshot, domain.StateSnapshotted, audit.OutcomeSkipped)
	}
	var warnings []string
	err := o.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		for _, region := range acct.Regions {
			result := offboard.SnapshotRegion(ctx,
				o.clients.EC2(sess, region), o.clients.RDS(sess, region), acct.DeveloperName, region)
			warnings = append(warnings, result.Warnings...)
			if len(result.Snapshots) > 0 {
				o.logger.InfoContext(ctx, "resources snapshotted", "region", region, "count", len(result.Snapshots))
			}
		}
		outcome := audit.OutcomeOK
		if len(warnings) > 0 {
			outcome = audit.OutcomeWarning
			for _, w := range warnings {
				o.logger.WarnContext(ctx, "snapshot warning", "warning", w)
			}
		}
		return o.transition(ctx, acct, StepSnapshot, domain.StateSnapshotted, outcome)
	})
	return warnings, err
}

func (o *Offboarder) stepCostReport(ctx context.Context, acct *domain.ManagedAccount, bundleDir string) (offboard.CostReport, error) {
	var report offboard.CostReport
	err := o.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		var err error
		report, err = offboard.GatherCostReport(ctx, o.clients.Cost(sess), acct.AccountID, o.cfg.CostLookback, o.now())
		if err != nil {
			return err
		}
		if err := offboard.WriteCostReport(bundleDir, report); err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "cost report gathered",
			"total", report.Total, "currency", report.Currency, "months", len(report.Months))
		return o.transition(ctx, acct, StepCostReport, domain.StateCostReported, audit.OutcomeOK)
	})
	return report, err
}

func (o *Offboarder) stepCleanup(ctx context.Context, acct *domain.ManagedAccount, opts OffboardOptions) error {
	if opts.RetainResources {
		o.logger.WarnContext(ctx, "baseline resources retained by operator",
			"bucket", acct.StateBucket, "lock_table", acct.LockTable)
		return o.transition(ctx, acct, StepCleanup, domain.StateResourcesCleaned, audit.OutcomeSkipped)
	}
	if !opts.ConfirmCleanup {
		return fmt.Errorf("%w: resource cleanup requires explicit confirmation", lifecycle.ErrValidation)
	}
	if !acct.State.Reached(domain.StateCostReported) {
		return fmt.Errorf("%w: cleanup before backup and cost report", lifecycle.ErrConflict)
	}
	return o.withSession(ctx, acct.AccountID, func(sess domain.CrossAccountSession) error {
		region := acct.Regions[0]
		err := offboard.CleanupState(ctx,
			o.clients.S3(sess, region), o.clients.DynamoDB(sess, region), acct.StateBucket, acct.LockTable)
		if err != nil {
			return err
		}
		return o.transition(ctx, acct, StepCleanup, domain.StateResourcesCleaned, audit.OutcomeOK)
	})
}

// stepRemoveRecord deletes the source-of-record entry. Failure here is fatal:
// a record that claims an account which is about to be suspended would poison
// every consumer of the inventory.
func (o *Offboarder) stepRemoveRecord(ctx context.Context, acct *domain.ManagedAccount) error {
	removed, err := o.store.Delete(ctx, acct.DeveloperName)
	if err != nil {
		o.audit(ctx, acct, StepRemoveRecord, string(acct.State), "", audit.OutcomeFailed, err.Error())
		return fmt.Errorf("remove account record: %w", err)
	}
	outcome := audit.OutcomeOK
	if !removed {
		outcome = audit.OutcomeNoop
	}
	from := acct.State
	acct.State = domain.StateRemovedFromRecord
	o.audit(ctx, acct, StepRemoveRecord, string(from), string(acct.State), outcome, "")
	return nil
}

func (o *Offboarder) stepArchive(ctx context.Context, acct *domain.ManagedAccount, bundleDir string, report offboard.CostReport, warnings []string) (domain.OffboardingArchive, error) {
	o.moveArtifacts(ctx, acct.DeveloperName, bundleDir)

	from := acct.State
	acct.State = domain.StateArchived
	archive, err := offboard.WriteArchive(bundleDir, *acct, report, warnings, o.now())
	if err != nil {
		acct.State = from
		o.audit(ctx, acct, StepArchive, string(from), "", audit.OutcomeFailed, err.Error())
		return archive, err
	}
	o.audit(ctx, acct, StepArchive, string(from), string(domain.StateArchived), audit.OutcomeOK, archive.Dir)
	o.logger.InfoContext(ctx, "archive written", "dir", archive.Dir, "retain_until", archive.RetainUntil)
	return archive, nil
}

// moveArtifacts relocates the developer's onboarding artifacts into the
// bundle so nothing outside the archive still references the destroyed
// infrastructure. Best effort; a repeated run finds the source gone.
func (o *Offboarder) moveArtifacts(ctx context.Context, developer, bundleDir string) {
	src := filepath.Join(o.cfg.ArtifactsDir, developer)
	if _, err := os.Stat(src); err != nil {
		return
	}
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		o.logger.WarnContext(ctx, "could not prepare archive dir for artifacts", "error", err)
		return
	}
	if err := os.Rename(src, filepath.Join(bundleDir, "artifacts")); err != nil {
		o.logger.WarnContext(ctx, "could not move onboarding artifacts into archive", "error", err)
	}
}
