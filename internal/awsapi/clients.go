package awsapi

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"devaccounts/internal/domain"
)

// ManagementConfig loads the default credential chain for the management
// account (env vars, shared config, instance profile).
func ManagementConfig(ctx context.Context, region string) (awssdk.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// SessionConfig builds an SDK config from an ephemeral cross-account session.
// The credentials live only in the returned config; nothing is written to
// the process environment or any credential file.
func SessionConfig(sess domain.CrossAccountSession, region string) awssdk.Config {
	return awssdk.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			sess.AccessKeyID, sess.SecretAccessKey, sess.SessionToken),
	}
}

// NewOrganizations returns the real Organizations client.
func NewOrganizations(cfg awssdk.Config) *organizations.Client {
	return organizations.NewFromConfig(cfg)
}

// NewSTS returns the real STS client.
func NewSTS(cfg awssdk.Config) *sts.Client { return sts.NewFromConfig(cfg) }

// NewS3 returns an S3 client scoped to a cross-account session.
func NewS3(sess domain.CrossAccountSession, region string) *s3.Client {
	return s3.NewFromConfig(SessionConfig(sess, region))
}

// NewDynamoDB returns a DynamoDB client scoped to a cross-account session.
func NewDynamoDB(sess domain.CrossAccountSession, region string) *dynamodb.Client {
	return dynamodb.NewFromConfig(SessionConfig(sess, region))
}

// NewIAM returns an IAM client scoped to a cross-account session.
// IAM is a global service; the region only selects the endpoint partition.
func NewIAM(sess domain.CrossAccountSession, region string) *iam.Client {
	return iam.NewFromConfig(SessionConfig(sess, region))
}

// NewBudgets returns a Budgets client scoped to a cross-account session.
// The Budgets API lives in us-east-1 only.
func NewBudgets(sess domain.CrossAccountSession) *budgets.Client {
	return budgets.NewFromConfig(SessionConfig(sess, "us-east-1"))
}

// NewCostExplorer returns a Cost Explorer client scoped to a session.
// Cost Explorer also lives in us-east-1 only.
func NewCostExplorer(sess domain.CrossAccountSession) *costexplorer.Client {
	return costexplorer.NewFromConfig(SessionConfig(sess, "us-east-1"))
}

// NewEC2 returns an EC2 client scoped to a cross-account session.
func NewEC2(sess domain.CrossAccountSession, region string) *ec2.Client {
	return ec2.NewFromConfig(SessionConfig(sess, region))
}

// NewRDS returns an RDS client scoped to a cross-account session.
func NewRDS(sess domain.CrossAccountSession, region string) *rds.Client {
	return rds.NewFromConfig(SessionConfig(sess, region))
}
