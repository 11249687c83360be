// Package provision implements the idempotent create-or-verify operations
// that set up baseline infrastructure inside a member account: state bucket,
// lock table, permission boundary, assumable role, and budget.
//
// Every operation is safe to re-run: an existing resource with a compatible
// configuration is a no-op success, an incompatible one is a loud failure.
// The pipeline relies on this to implement retries as plain re-execution.
package provision

import "fmt"

// Outcome distinguishes a fresh creation from an idempotent no-op.
type Outcome string

const (
	// OutcomeCreated means the resource was created by this call.
	OutcomeCreated Outcome = "created"
	// OutcomeAlreadyExists means a compatible resource was already there.
	OutcomeAlreadyExists Outcome = "already-exists"
)

// All resource names are pure functions of the org prefix and developer
// identifier so retries re-derive them without a lookup.

// DisplayName is the member account's display name.
func DisplayName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s", orgPrefix, developer)
}

// BucketName is the remote-state bucket name.
func BucketName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s-state", orgPrefix, developer)
}

// LockTableName is the state-lock table name.
func LockTableName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s-locks", orgPrefix, developer)
}

// BoundaryPolicyName is the permission-boundary policy name.
func BoundaryPolicyName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s-boundary", orgPrefix, developer)
}

// RoleName is the cross-account assumable role name.
func RoleName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s-role", orgPrefix, developer)
}

// BudgetName is the monthly budget name.
func BudgetName(orgPrefix, developer string) string {
	return fmt.Sprintf("%s-dev-%s-budget", orgPrefix, developer)
}

// BoundaryPolicyARN derives the boundary policy ARN inside the member account.
func BoundaryPolicyARN(accountID, orgPrefix, developer string) string {
	return fmt.Sprintf("arn:aws:iam::%s:policy/%s", accountID, BoundaryPolicyName(orgPrefix, developer))
}

// RoleARN derives the assumable role ARN inside the member account.
func RoleARN(accountID, orgPrefix, developer string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, RoleName(orgPrefix, developer))
}
