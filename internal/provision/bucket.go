package provision

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"devaccounts/internal/awsapi"
	"devaccounts/internal/lifecycle"
)

// S3API is the subset of the S3 client the bucket provisioner calls.
type S3API interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
}

// EnsureStateBucket creates the versioned, encrypted, public-access-blocked
// state bucket. The configuration calls are re-applied on every run, so a
// partial failure on a previous run heals here.
func EnsureStateBucket(ctx context.Context, api S3API, name, region string) (Outcome, error) {
	outcome := OutcomeCreated

	in := &s3.CreateBucketInput{Bucket: awssdk.String(name)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	if _, err := api.CreateBucket(ctx, in); err != nil {
		switch {
		case awsapi.IsCode(err, "BucketAlreadyOwnedByYou"):
			outcome = OutcomeAlreadyExists
		case awsapi.IsCode(err, "BucketAlreadyExists"):
			// Owned by another account: the deterministic name collided
			// with a foreign bucket. Never take it over.
			return "", fmt.Errorf("%w: bucket %q owned by another account", lifecycle.ErrConflict, name)
		default:
			return "", fmt.Errorf("create bucket %q: %w", name, err)
		}
	}

	completed := []string{"create"}

	if _, err := api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: awssdk.String(name),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return "", &lifecycle.PartialFailure{
			Step: "create-state-bucket", Completed: completed, Failed: "versioning", Err: err,
		}
	}
	completed = append(completed, "versioning")

	if _, err := api.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: awssdk.String(name),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	}); err != nil {
		return "", &lifecycle.PartialFailure{
			Step: "create-state-bucket", Completed: completed, Failed: "encryption", Err: err,
		}
	}
	completed = append(completed, "encryption")

	if _, err := api.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: awssdk.String(name),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       awssdk.Bool(true),
			BlockPublicPolicy:     awssdk.Bool(true),
			IgnorePublicAcls:      awssdk.Bool(true),
			RestrictPublicBuckets: awssdk.Bool(true),
		},
	}); err != nil {
		return "", &lifecycle.PartialFailure{
			Step: "create-state-bucket", Completed: completed, Failed: "public-access-block", Err: err,
		}
	}

	return outcome, nil
}
