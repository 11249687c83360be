package offboard

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"devaccounts/internal/awsapi"
)

// DynamoDBAPI is the subset of the DynamoDB client offboarding calls.
type DynamoDBAPI interface {
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// deleteBatchSize is the DeleteObjects request limit.
const deleteBatchSize = 1000

// CleanupState deletes every object version in the state bucket, removes the
// bucket, and drops the lock table. Already-deleted resources are no-ops so a
// resumed run converges.
func CleanupState(ctx context.Context, s3api S3API, ddbapi DynamoDBAPI, bucket, table string) error {
	if err := emptyBucket(ctx, s3api, bucket); err != nil {
		return err
	}

	if _, err := s3api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awssdk.String(bucket)}); err != nil {
		if !awsapi.IsCode(err, "NoSuchBucket") {
			return fmt.Errorf("delete bucket %s: %w", bucket, awsapi.Classify(err))
		}
	}

	if _, err := ddbapi.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: awssdk.String(table)}); err != nil {
		if !awsapi.IsCode(err, "ResourceNotFoundException") {
			return fmt.Errorf("delete lock table %s: %w", table, awsapi.Classify(err))
		}
	}
	return nil
}

// emptyBucket removes all object versions and delete markers. Versioned
// buckets cannot be deleted until every version is gone.
func emptyBucket(ctx context.Context, api S3API, bucket string) error {
	input := &s3.ListObjectVersionsInput{Bucket: awssdk.String(bucket)}
	for {
		out, err := api.ListObjectVersions(ctx, input)
		if err != nil {
			if awsapi.IsCode(err, "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("list object versions: %w", awsapi.Classify(err))
		}

		var objects []s3types.ObjectIdentifier
		for _, v := range out.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}

		for start := 0; start < len(objects); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(objects) {
				end = len(objects)
			}
			_, err := api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: awssdk.String(bucket),
				Delete: &s3types.Delete{
					Objects: objects[start:end],
					Quiet:   awssdk.Bool(true),
				},
			})
			if err != nil {
				return fmt.Errorf("delete object versions: %w", awsapi.Classify(err))
			}
		}

		if !awssdk.ToBool(out.IsTruncated) {
			return nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}
}
