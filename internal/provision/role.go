package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"devaccounts/internal/awsapi"
	"devaccounts/internal/lifecycle"
)

// accessPolicyARN is the broad-but-bounded policy attached to the assumable
// role. The permission boundary caps what it can actually do.
const accessPolicyARN = "arn:aws:iam::aws:policy/PowerUserAccess"

// trustDocument renders the role trust policy scoped to the organization's
// management account principal.
func trustDocument(managementAccountID string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect: "Allow",
			Principal: map[string]string{
				"AWS": fmt.Sprintf("arn:aws:iam::%s:root", managementAccountID),
			},
			Action: "sts:AssumeRole",
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal trust document: %w", err)
	}
	return string(b), nil
}

// EnsureRole creates the cross-account assumable role with the permission
// boundary attached. The boundary policy must already be visible: boundary
// propagation lag surfaces as ErrDependencyNotReady and is retried by the
// pipeline, never papered over with a role that silently lacks its boundary.
func EnsureRole(ctx context.Context, api IAMAPI, accountID, managementAccountID, orgPrefix, developer, boundaryARN string) (string, Outcome, error) {
	// Hard ordering invariant: verify the boundary exists before creating
	// the role that references it.
	if _, err := api.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: awssdk.String(boundaryARN)}); err != nil {
		classified := awsapi.Classify(err)
		if errors.Is(classified, lifecycle.ErrNotFound) {
			return "", "", fmt.Errorf("%w: boundary policy %s not yet visible", lifecycle.ErrDependencyNotReady, boundaryARN)
		}
		return "", "", fmt.Errorf("get boundary policy: %w", classified)
	}

	name := RoleName(orgPrefix, developer)
	trust, err := trustDocument(managementAccountID)
	if err != nil {
		return "", "", err
	}

	outcome := OutcomeCreated
	out, err := api.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 awssdk.String(name),
		AssumeRolePolicyDocument: awssdk.String(trust),
		PermissionsBoundary:      awssdk.String(boundaryARN),
		Description:              awssdk.String("Developer sandbox access role, bounded by permission boundary"),
	})
	var roleARN string
	switch {
	case err == nil:
		roleARN = awssdk.ToString(out.Role.Arn)
	case awsapi.IsCode(err, "EntityAlreadyExists"):
		existing, getErr := api.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(name)})
		if getErr != nil {
			return "", "", fmt.Errorf("get existing role %q: %w", name, awsapi.Classify(getErr))
		}
		// An existing role without the expected boundary is incompatible.
		pb := existing.Role.PermissionsBoundary
		if pb == nil || awssdk.ToString(pb.PermissionsBoundaryArn) != boundaryARN {
			return "", "", fmt.Errorf("%w: role %q exists without boundary %s", lifecycle.ErrConflict, name, boundaryARN)
		}
		roleARN = awssdk.ToString(existing.Role.Arn)
		outcome = OutcomeAlreadyExists
	default:
		return "", "", fmt.Errorf("create role %q: %w", name, awsapi.Classify(err))
	}

	// Attaching an already-attached managed policy is a no-op.
	if _, err := api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  awssdk.String(name),
		PolicyArn: awssdk.String(accessPolicyARN),
	}); err != nil {
		return "", "", &lifecycle.PartialFailure{
			Step:      "create-role",
			Completed: []string{"role"},
			Failed:    "attach-access-policy",
			Err:       awsapi.Classify(err),
		}
	}

	return roleARN, outcome, nil
}
