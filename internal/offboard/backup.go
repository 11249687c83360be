// Package offboard implements the decommissioning primitives: state backup,
// best-effort resource snapshots, cost reporting, confirmed cleanup, and the
// retained archive bundle.
package offboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"devaccounts/internal/awsapi"
)

// S3API is the subset of the S3 client offboarding calls.
type S3API interface {
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// BackupState downloads the latest version of every object in the state
// bucket into destDir, preserving key paths. Returns the number of objects
// copied. A bucket that no longer exists is not an error; it returns zero so
// a resumed offboarding run can proceed past an already-cleaned bucket.
func BackupState(ctx context.Context, api S3API, bucket, destDir string) (int, error) {
	copied := 0
	input := &s3.ListObjectVersionsInput{Bucket: awssdk.String(bucket)}
	for {
		out, err := api.ListObjectVersions(ctx, input)
		if err != nil {
			if awsapi.IsCode(err, "NoSuchBucket") {
				return 0, nil
			}
			return copied, fmt.Errorf("list state objects: %w", awsapi.Classify(err))
		}

		for _, v := range out.Versions {
			if !awssdk.ToBool(v.IsLatest) {
				continue
			}
			key := awssdk.ToString(v.Key)
			if err := downloadObject(ctx, api, bucket, key, destDir); err != nil {
				return copied, err
			}
			copied++
		}

		if !awssdk.ToBool(out.IsTruncated) {
			return copied, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}
}

func downloadObject(ctx context.Context, api S3API, bucket, key, destDir string) error {
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, awsapi.Classify(err))
	}
	defer out.Body.Close()

	path := filepath.Join(destDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create backup dir for %s: %w", key, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file for %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("copy object %s: %w", key, err)
	}
	return nil
}
