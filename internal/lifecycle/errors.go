// Package lifecycle defines the shared error taxonomy and step result types
// used by the provisioning and offboarding pipelines.
package lifecycle

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline step outcomes. The pipeline drivers decide
// retry vs. halt with errors.Is on these, never by matching message text.
var (
	// ErrValidation marks bad input, rejected before any external call.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyExists marks an idempotent no-op: the target resource
	// already exists with a compatible configuration. Callers treat it
	// as success.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict marks a resource that exists with an incompatible
	// configuration. Never silently overwritten.
	ErrConflict = errors.New("incompatible existing resource")

	// ErrDependencyNotReady marks an eventual-consistency condition where
	// a prerequisite resource is not yet visible. Retryable.
	ErrDependencyNotReady = errors.New("dependency not ready")

	// ErrAssumeRoleNotYetAvailable marks the propagation window after
	// account creation during which the trust role cannot be assumed yet.
	// Retryable.
	ErrAssumeRoleNotYetAvailable = errors.New("assume role not yet available")

	// ErrAssumeRoleDenied marks a persistent cross-account trust failure.
	ErrAssumeRoleDenied = errors.New("assume role denied")

	// ErrPermissionDenied marks a fatal authorization failure; the
	// pipeline halts in the failed state.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrThrottled marks provider-side rate limiting. Retryable.
	ErrThrottled = errors.New("throttled")

	// ErrNotFound marks a missing inventory record or cloud resource.
	ErrNotFound = errors.New("not found")
)

// Retryable reports whether err represents a transient condition that bounded
// backoff may resolve.
func Retryable(err error) bool {
	return errors.Is(err, ErrDependencyNotReady) ||
		errors.Is(err, ErrAssumeRoleNotYetAvailable) ||
		errors.Is(err, ErrThrottled)
}

// StepError wraps a failure with the pipeline step that produced it and
// whether re-running the same command is safe.
type StepError struct {
	Step      string
	Err       error
	Resumable bool
}

func (e *StepError) Error() string {
	if e.Resumable {
		return fmt.Sprintf("step %q failed (safe to re-run): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError builds a StepError. Nearly every failure is resumable because
// the steps are idempotent; only validation failures are not re-run material.
func NewStepError(step string, err error) *StepError {
	return &StepError{
		Step:      step,
		Err:       err,
		Resumable: !errors.Is(err, ErrValidation),
	}
}

// PartialFailure records a step that completed some sub-operations before
// failing, with enough detail to resume safely: the next run re-verifies
// each sub-operation.
type PartialFailure struct {
	Step      string
	Completed []string
	Failed    string
	Err       error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("step %q partially failed at %q (completed: %v): %v",
		e.Step, e.Failed, e.Completed, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }
