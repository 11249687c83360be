package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"devaccounts/internal/awsapi"
	"devaccounts/internal/lifecycle"
)

// IAMAPI is the subset of the IAM client the boundary and role provisioners
// call.
type IAMAPI interface {
	CreatePolicy(ctx context.Context, params *iam.CreatePolicyInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyOutput, error)
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, params *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
}

// policyDocument is a minimal IAM policy document model; marshaled to JSON
// for the IAM API.
type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string                    `json:"Sid,omitempty"`
	Effect    string                    `json:"Effect"`
	Principal map[string]string         `json:"Principal,omitempty"`
	Action    any                       `json:"Action"`
	Resource  any                       `json:"Resource,omitempty"`
	Condition map[string]map[string]any `json:"Condition,omitempty"`
}

// BoundaryDocument renders the permission-boundary policy for the given
// allowed regions and instance classes. The boundary caps what any role in
// the account may do regardless of its attached policies.
func BoundaryDocument(regions, instanceTypes []string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Sid:      "AllowWithinRegions",
				Effect:   "Allow",
				Action:   "*",
				Resource: "*",
				Condition: map[string]map[string]any{
					"StringEquals": {"aws:RequestedRegion": regions},
				},
			},
			{
				Sid:      "AllowGlobalServices",
				Effect:   "Allow",
				Action:   []string{"iam:*", "sts:*", "s3:*", "budgets:*", "organizations:Describe*"},
				Resource: "*",
			},
			{
				Sid:      "LimitInstanceClasses",
				Effect:   "Deny",
				Action:   "ec2:RunInstances",
				Resource: "arn:aws:ec2:*:*:instance/*",
				Condition: map[string]map[string]any{
					"StringNotLike": {"ec2:InstanceType": instanceTypes},
				},
			},
			{
				Sid:    "DenyBoundaryTampering",
				Effect: "Deny",
				Action: []string{
					"iam:DeleteRolePermissionsBoundary",
					"iam:DeleteUserPermissionsBoundary",
				},
				Resource: "*",
			},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal boundary document: %w", err)
	}
	return string(b), nil
}

// EnsureBoundary creates or reuses the permission-boundary policy by its
// deterministic name. An existing policy is accepted only when its default
// version matches the document we would have created; a boundary left over
// from an older region or instance-class configuration is a conflict, not a
// no-op. Returns the policy ARN either way.
func EnsureBoundary(ctx context.Context, api IAMAPI, accountID, orgPrefix, developer string, regions, instanceTypes []string) (string, Outcome, error) {
	name := BoundaryPolicyName(orgPrefix, developer)
	doc, err := BoundaryDocument(regions, instanceTypes)
	if err != nil {
		return "", "", err
	}

	out, err := api.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     awssdk.String(name),
		PolicyDocument: awssdk.String(doc),
		Description:    awssdk.String("Permission boundary for developer sandbox roles"),
	})
	if err == nil {
		return awssdk.ToString(out.Policy.Arn), OutcomeCreated, nil
	}
	if awsapi.IsCode(err, "EntityAlreadyExists") {
		arn := BoundaryPolicyARN(accountID, orgPrefix, developer)
		if err := verifyPolicyDocument(ctx, api, arn, doc); err != nil {
			return "", "", err
		}
		return arn, OutcomeAlreadyExists, nil
	}
	return "", "", fmt.Errorf("create boundary policy %q: %w", name, awsapi.Classify(err))
}

// verifyPolicyDocument fetches the default version of an existing policy and
// compares it against the document we meant to create.
func verifyPolicyDocument(ctx context.Context, api IAMAPI, arn, want string) error {
	pol, err := api.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: awssdk.String(arn)})
	if err != nil {
		return fmt.Errorf("get boundary policy %q: %w", arn, awsapi.Classify(err))
	}
	ver, err := api.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: awssdk.String(arn),
		VersionId: pol.Policy.DefaultVersionId,
	})
	if err != nil {
		return fmt.Errorf("get boundary policy version: %w", awsapi.Classify(err))
	}
	// IAM returns policy documents URL-encoded.
	existing, err := url.QueryUnescape(awssdk.ToString(ver.PolicyVersion.Document))
	if err != nil {
		return fmt.Errorf("decode boundary policy document: %w", err)
	}
	if !jsonEqual(existing, want) {
		return fmt.Errorf("%w: boundary policy %q exists with a different document", lifecycle.ErrConflict, arn)
	}
	return nil
}

// jsonEqual compares two JSON documents structurally so key order and
// whitespace do not count as drift.
func jsonEqual(a, b string) bool {
	var av, bv any
	if json.Unmarshal([]byte(a), &av) != nil {
		return false
	}
	if json.Unmarshal([]byte(b), &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
