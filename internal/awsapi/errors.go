// Package awsapi wraps the AWS SDK clients the orchestrator drives: the
// Organizations account-management API and the STS cross-account session
// broker, plus session-scoped client constructors for the provisioners.
package awsapi

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"devaccounts/internal/lifecycle"
)

// Classify maps an AWS SDK error onto the pipeline error taxonomy using the
// typed API error code, never the message text.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "AuthFailure":
		return fmt.Errorf("%w: %s", lifecycle.ErrPermissionDenied, apiErr.ErrorMessage())
	case "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded", "SlowDown":
		return fmt.Errorf("%w: %s", lifecycle.ErrThrottled, apiErr.ErrorMessage())
	case "NoSuchEntity", "NoSuchEntityException", "ResourceNotFoundException", "NotFoundException":
		return fmt.Errorf("%w: %s", lifecycle.ErrNotFound, apiErr.ErrorMessage())
	}
	return err
}

// IsCode reports whether err carries the given AWS API error code.
func IsCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
