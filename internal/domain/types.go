package domain

import "time"

// LifecycleState is the position of a managed account in the provisioning
// or offboarding state machine.
type LifecycleState string

// Provisioning states, in execution order.
const (
	StateRequested           LifecycleState = "requested"
	StateCreating            LifecycleState = "creating"
	StateAwaitingPropagation LifecycleState = "awaiting_propagation"
	StateBaselineConfigured  LifecycleState = "baseline_configured"
	StateBoundaryConfigured  LifecycleState = "boundary_configured"
	StateRoleConfigured      LifecycleState = "role_configured"
	StateBudgetConfigured    LifecycleState = "budget_configured"
	StateArtifactsGenerated  LifecycleState = "artifacts_generated"
	StateActive              LifecycleState = "active"
)

// Terminal non-success states.
const (
	StateFailed    LifecycleState = "failed"
	StateCancelled LifecycleState = "cancelled"
)

// Offboarding states, in execution order.
const (
	StateOffboardRequested LifecycleState = "offboard_requested"
	StateBackedUp          LifecycleState = "backed_up"
	StateSnapshotted       LifecycleState = "snapshotted"
	StateCostReported      LifecycleState = "cost_reported"
	StateResourcesCleaned  LifecycleState = "resources_cleaned"
	StateRemovedFromRecord LifecycleState = "removed_from_record"
	StateArchived          LifecycleState = "archived"
)

// provisionOrder maps each provisioning state to its position in the chain.
// Failed/Cancelled and offboarding states are deliberately absent.
var provisionOrder = map[LifecycleState]int{
	StateRequested:           0,
	StateCreating:            1,
	StateAwaitingPropagation: 2,
	StateBaselineConfigured:  3,
	StateBoundaryConfigured:  4,
	StateRoleConfigured:      5,
	StateBudgetConfigured:    6,
	StateArtifactsGenerated:  7,
	StateActive:              8,
}

// offboardOrder maps each offboarding state to its position in the reverse
// chain.
var offboardOrder = map[LifecycleState]int{
	StateOffboardRequested: 0,
	StateBackedUp:          1,
	StateSnapshotted:       2,
	StateCostReported:      3,
	StateResourcesCleaned:  4,
	StateRemovedFromRecord: 5,
	StateArchived:          6,
}

// Reached reports whether s is at or past target within the same chain
// (provisioning or offboarding). Returns false when the two states belong to
// different chains or to no chain at all.
func (s LifecycleState) Reached(target LifecycleState) bool {
	if a, ok := provisionOrder[s]; ok {
		if b, ok := provisionOrder[target]; ok {
			return a >= b
		}
		return false
	}
	if a, ok := offboardOrder[s]; ok {
		if b, ok := offboardOrder[target]; ok {
			return a >= b
		}
	}
	return false
}

// Terminal reports whether no further pipeline work applies to s.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateActive, StateFailed, StateCancelled, StateArchived:
		return true
	}
	return false
}

// AccountRequest is the immutable input to the provisioning pipeline.
type AccountRequest struct {
	RequestID     string   `json:"request_id" yaml:"request_id"`
	DeveloperName string   `json:"developer_name" yaml:"developer_name"`
	Email         string   `json:"email" yaml:"email"`
	MonthlyBudget int      `json:"monthly_budget" yaml:"monthly_budget"`
	TicketID      string   `json:"ticket_id,omitempty" yaml:"ticket_id,omitempty"`
	Regions       []string `json:"regions,omitempty" yaml:"regions,omitempty"`
}

// ManagedAccount is the aggregate record for one provisioned sub-account.
// It is owned by the provisioning and offboarding pipelines; the inventory
// store persists it and other tooling reads it.
type ManagedAccount struct {
	AccountID string `json:"account_id" yaml:"account_id"`

	// CreateRequestID is the account-management service's create-request
	// token, recorded before the account id exists so an interrupted run
	// never creates a duplicate account.
	CreateRequestID string         `json:"create_request_id,omitempty" yaml:"create_request_id,omitempty"`
	DisplayName     string         `json:"display_name" yaml:"display_name"`
	DeveloperName   string         `json:"developer_name" yaml:"developer_name"`
	Email           string         `json:"email" yaml:"email"`
	State           LifecycleState `json:"state" yaml:"state"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
	MonthlyBudget   int            `json:"monthly_budget" yaml:"monthly_budget"`
	TicketID        string         `json:"ticket_id,omitempty" yaml:"ticket_id,omitempty"`
	Regions         []string       `json:"regions,omitempty" yaml:"regions,omitempty"`

	// Baseline resource identifiers; all deterministic functions of
	// DeveloperName except the ARNs, which embed the account id.
	StateBucket string `json:"state_bucket,omitempty" yaml:"state_bucket,omitempty"`
	LockTable   string `json:"lock_table,omitempty" yaml:"lock_table,omitempty"`
	BoundaryARN string `json:"boundary_arn,omitempty" yaml:"boundary_arn,omitempty"`
	RoleARN     string `json:"role_arn,omitempty" yaml:"role_arn,omitempty"`
	BudgetName  string `json:"budget_name,omitempty" yaml:"budget_name,omitempty"`

	// Set when State is failed.
	FailedStep   string `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	FailureCause string `json:"failure_cause,omitempty" yaml:"failure_cause,omitempty"`

	// Version supports optimistic concurrency in the inventory store.
	// Zero means "not yet persisted".
	Version int64 `json:"version" yaml:"version"`
}

// CrossAccountSession holds short-lived credentials for one target account.
// Never persisted; callers must Zero it when the step that requested it ends.
type CrossAccountSession struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Zero wipes the credential material.
func (s *CrossAccountSession) Zero() {
	s.AccessKeyID = ""
	s.SecretAccessKey = ""
	s.SessionToken = ""
	s.Expiration = time.Time{}
}

// Valid reports whether the session holds credentials that have not expired.
func (s *CrossAccountSession) Valid(now time.Time) bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && now.Before(s.Expiration)
}

// BudgetPolicy describes the monthly budget attached to a managed account.
type BudgetPolicy struct {
	Name                 string
	MonthlyLimit         int
	ActualThresholdPct   float64
	ForecastThresholdPct float64
	Subscribers          []string
}

// DefaultBudgetPolicy returns the standard two-threshold policy: an alert at
// 80% of actual spend and one at 90% of forecasted spend.
func DefaultBudgetPolicy(name string, limit int, subscribers []string) BudgetPolicy {
	return BudgetPolicy{
		Name:                 name,
		MonthlyLimit:         limit,
		ActualThresholdPct:   80,
		ForecastThresholdPct: 90,
		Subscribers:          subscribers,
	}
}

// OnboardingArtifact records the rendered onboarding outputs for a developer.
type OnboardingArtifact struct {
	DeveloperName string    `json:"developer_name" yaml:"developer_name"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	BackendPath   string    `json:"backend_path" yaml:"backend_path"`
	GuidePath     string    `json:"guide_path" yaml:"guide_path"`
}

// ArchiveRetention is the minimum time an offboarding archive is kept before
// it becomes eligible for physical deletion.
const ArchiveRetention = 90 * 24 * time.Hour

// OffboardingArchive describes the retained bundle produced when an account
// is decommissioned.
type OffboardingArchive struct {
	ArchiveID     string    `json:"archive_id" yaml:"archive_id"`
	DeveloperName string    `json:"developer_name" yaml:"developer_name"`
	AccountID     string    `json:"account_id" yaml:"account_id"`
	ArchivedAt    time.Time `json:"archived_at" yaml:"archived_at"`
	Dir           string    `json:"dir" yaml:"dir"`
	RetainUntil   time.Time `json:"retain_until" yaml:"retain_until"`
}

// PurgeEligible reports whether the retention window has elapsed.
func (a OffboardingArchive) PurgeEligible(now time.Time) bool {
	return now.After(a.RetainUntil)
}
