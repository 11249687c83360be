package offboard

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// Snapshot tag keys. The developer tag ties the snapshot back to its owner
// after the account record is gone; the offboarding tag marks it for later
// retention sweeps.
const (
	TagDeveloper   = "devaccounts:developer"
	TagOffboarding = "devaccounts:offboarding"
)

// EC2API is the subset of the EC2 client offboarding calls.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
}

// RDSAPI is the subset of the RDS client offboarding calls.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	CreateDBSnapshot(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error)
}

// SnapshotResult lists the snapshots taken in one region and any per-resource
// failures encountered along the way.
type SnapshotResult struct {
	Snapshots []string
	Warnings  []string
}

// SnapshotRegion snapshots every EBS volume and RDS instance in one region.
// Individual failures become warnings rather than aborting the run: a
// snapshot is a courtesy to the departing developer, not a precondition for
// decommissioning.
func SnapshotRegion(ctx context.Context, ec2api EC2API, rdsapi RDSAPI, developer, region string) SnapshotResult {
	var result SnapshotResult

	volInput := &ec2.DescribeVolumesInput{}
	for {
		out, err := ec2api.DescribeVolumes(ctx, volInput)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: describe volumes: %v", region, err))
			break
		}
		for _, vol := range out.Volumes {
			volID := awssdk.ToString(vol.VolumeId)
			snap, err := ec2api.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
				VolumeId:    vol.VolumeId,
				Description: awssdk.String(fmt.Sprintf("offboarding snapshot for %s", developer)),
				TagSpecifications: []ec2types.TagSpecification{{
					ResourceType: ec2types.ResourceTypeSnapshot,
					Tags: []ec2types.Tag{
						{Key: awssdk.String(TagDeveloper), Value: awssdk.String(developer)},
						{Key: awssdk.String(TagOffboarding), Value: awssdk.String("true")},
					},
				}},
			})
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: snapshot volume %s: %v", region, volID, err))
				continue
			}
			result.Snapshots = append(result.Snapshots, awssdk.ToString(snap.SnapshotId))
		}
		if out.NextToken == nil {
			break
		}
		volInput.NextToken = out.NextToken
	}

	dbInput := &rds.DescribeDBInstancesInput{}
	for {
		out, err := rdsapi.DescribeDBInstances(ctx, dbInput)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: describe db instances: %v", region, err))
			break
		}
		for _, db := range out.DBInstances {
			dbID := awssdk.ToString(db.DBInstanceIdentifier)
			snap, err := rdsapi.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
				DBInstanceIdentifier: db.DBInstanceIdentifier,
				DBSnapshotIdentifier: awssdk.String(fmt.Sprintf("%s-offboarding-%s", dbID, developer)),
			})
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: snapshot db %s: %v", region, dbID, err))
				continue
			}
			result.Snapshots = append(result.Snapshots, awssdk.ToString(snap.DBSnapshot.DBSnapshotIdentifier))
		}
		if out.Marker == nil {
			break
		}
		dbInput.Marker = out.Marker
	}

	return result
}
