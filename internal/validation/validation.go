// Package validation provides pre-flight validation for account requests.
// Validation happens before any external call is made.
package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"devaccounts/internal/domain"
	"devaccounts/internal/lifecycle"
)

// Constraints for account requests.
const (
	MaxDeveloperNameLength = 38 // keeps derived bucket names under the S3 63-char limit
	MinMonthlyBudget       = 1
	MaxMonthlyBudget       = 1000
)

// developerNamePattern matches lowercase alphanumerics and hyphens, starting
// and ending with an alphanumeric.
var developerNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// FieldError reports a single invalid request field.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, truncate(e.Value, 50), e.Reason)
}

// Unwrap makes every field error match lifecycle.ErrValidation.
func (e *FieldError) Unwrap() error { return lifecycle.ErrValidation }

// ValidateDeveloperName checks the developer identifier used to derive all
// deterministic resource names.
func ValidateDeveloperName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &FieldError{Field: "developer name", Value: name, Reason: "cannot be empty"}
	}
	if len(name) > MaxDeveloperNameLength {
		return &FieldError{Field: "developer name", Value: name,
			Reason: fmt.Sprintf("exceeds %d characters", MaxDeveloperNameLength)}
	}
	if !developerNamePattern.MatchString(name) {
		return &FieldError{Field: "developer name", Value: name,
			Reason: "must match [a-z0-9-]+ and start/end with an alphanumeric"}
	}
	return nil
}

// ValidateEmail checks the contact email format.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &FieldError{Field: "email", Value: email, Reason: "cannot be empty"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &FieldError{Field: "email", Value: email, Reason: "not a valid address"}
	}
	return nil
}

// ValidateBudget checks the monthly budget bounds.
func ValidateBudget(limit int) error {
	if limit < MinMonthlyBudget || limit > MaxMonthlyBudget {
		return &FieldError{Field: "monthly budget", Value: fmt.Sprintf("%d", limit),
			Reason: fmt.Sprintf("must be between %d and %d", MinMonthlyBudget, MaxMonthlyBudget)}
	}
	return nil
}

// ValidateRequest validates a full account request. Returns the first field
// error found, in field order.
func ValidateRequest(req domain.AccountRequest) error {
	if err := ValidateDeveloperName(req.DeveloperName); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	return ValidateBudget(req.MonthlyBudget)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
