package provision

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"devaccounts/internal/awsapi"
	"devaccounts/internal/lifecycle"
)

// lockHashKey is the single hash key the state-locking convention expects.
const lockHashKey = "LockID"

// DynamoDBAPI is the subset of the DynamoDB client the lock-table
// provisioner calls.
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// EnsureLockTable creates the state-lock table with a single string hash key.
// An existing table is verified for schema compatibility before being
// accepted as a no-op.
func EnsureLockTable(ctx context.Context, api DynamoDBAPI, name string) (Outcome, error) {
	_, err := api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   awssdk.String(name),
		BillingMode: ddbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []ddbtypes.AttributeDefinition{{
			AttributeName: awssdk.String(lockHashKey),
			AttributeType: ddbtypes.ScalarAttributeTypeS,
		}},
		KeySchema: []ddbtypes.KeySchemaElement{{
			AttributeName: awssdk.String(lockHashKey),
			KeyType:       ddbtypes.KeyTypeHash,
		}},
	})
	if err == nil {
		return OutcomeCreated, nil
	}
	if !awsapi.IsCode(err, "ResourceInUseException") {
		return "", fmt.Errorf("create lock table %q: %w", name, err)
	}

	// Table exists; make sure it is actually a lock table.
	desc, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: awssdk.String(name)})
	if err != nil {
		return "", fmt.Errorf("describe lock table %q: %w", name, err)
	}
	schema := desc.Table.KeySchema
	if len(schema) != 1 ||
		awssdk.ToString(schema[0].AttributeName) != lockHashKey ||
		schema[0].KeyType != ddbtypes.KeyTypeHash {
		return "", fmt.Errorf("%w: table %q exists with a different key schema", lifecycle.ErrConflict, name)
	}
	return OutcomeAlreadyExists, nil
}
