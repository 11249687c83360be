package main

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"devaccounts/internal/artifacts"
	"devaccounts/internal/audit"
	"devaccounts/internal/awsapi"
	"devaccounts/internal/config"
	"devaccounts/internal/domain"
	"devaccounts/internal/inventory"
	"devaccounts/internal/observability"
	"devaccounts/internal/offboard"
	"devaccounts/internal/pipeline"
	"devaccounts/internal/provision"
)

// Execute runs the CLI.
func Execute(logger observability.Logger) error {
	return newRootCmd(logger).Execute()
}

// app holds the local wiring shared by all subcommands. Cloud clients are
// built per command because only some commands talk to AWS.
type app struct {
	cfg      *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	store    inventory.Store
	recorder audit.Recorder
}

func newRootCmd(logger observability.Logger) *cobra.Command {
	var configPath string
	a := &app{logger: logger}

	rootCmd := &cobra.Command{
		Use:          "devaccounts",
		Short:        "Provision and decommission developer sandbox accounts",
		Long:         "devaccounts drives the full lifecycle of developer sandbox accounts: creation, baseline infrastructure, guardrails, onboarding artifacts, and offboarding with archival.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			metricsCfg := observability.MetricsConfigFromEnv()
			if metricsCfg.Enabled {
				a.metrics = observability.NewMetrics(metricsCfg)
			}
			a.store, err = selectStore(a.logger, cfg.InventoryDSN)
			if err != nil {
				return fmt.Errorf("open inventory: %w", err)
			}
			a.recorder, err = selectRecorder(cmd.Context(), a.logger, a.store, cfg.InventoryDSN)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.recorder != nil {
				_ = a.recorder.Close()
			}
			if a.store != nil {
				_ = a.store.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(
		newCreateAccountCmd(a),
		newOnboardCmd(a),
		newOffboardCmd(a),
		newListCmd(a),
		newStatusCmd(a),
		newAuditCmd(a),
	)

	return rootCmd
}

// cloudStack bundles the management-account clients the pipelines need.
type cloudStack struct {
	org                 *awsapi.OrgClient
	broker              *awsapi.SessionBroker
	managementAccountID string
}

func (a *app) cloud(ctx context.Context) (*cloudStack, error) {
	awsCfg, err := awsapi.ManagementConfig(ctx, a.cfg.DefaultRegions[0])
	if err != nil {
		return nil, fmt.Errorf("load management credentials: %w", err)
	}
	stsClient := awsapi.NewSTS(awsCfg)
	ident, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolve management account: %w", err)
	}
	return &cloudStack{
		org:                 awsapi.NewOrgClient(awsapi.NewOrganizations(awsCfg), a.logger, a.cfg.RequestTimeout),
		broker:              awsapi.NewSessionBroker(stsClient, a.cfg.TrustRoleName, a.cfg.SessionDuration, a.cfg.RequestTimeout, a.logger),
		managementAccountID: awssdk.ToString(ident.Account),
	}, nil
}

func (a *app) provisioner(ctx context.Context) (*pipeline.Provisioner, error) {
	stack, err := a.cloud(ctx)
	if err != nil {
		return nil, err
	}
	renderer, err := artifacts.NewRenderer(a.cfg.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	clients := pipeline.Clients{
		S3: func(sess domain.CrossAccountSession, region string) provision.S3API {
			return awsapi.NewS3(sess, region)
		},
		DynamoDB: func(sess domain.CrossAccountSession, region string) provision.DynamoDBAPI {
			return awsapi.NewDynamoDB(sess, region)
		},
		IAM: func(sess domain.CrossAccountSession, region string) provision.IAMAPI {
			return awsapi.NewIAM(sess, region)
		},
		Budgets: func(sess domain.CrossAccountSession) provision.BudgetsAPI {
			return awsapi.NewBudgets(sess)
		},
	}
	return pipeline.NewProvisioner(a.cfg, a.store, stack.org, stack.broker, clients, renderer,
		a.recorder, a.logger, a.metrics, stack.managementAccountID), nil
}

func (a *app) offboarder(ctx context.Context) (*pipeline.Offboarder, error) {
	stack, err := a.cloud(ctx)
	if err != nil {
		return nil, err
	}
	clients := pipeline.OffboardClients{
		S3: func(sess domain.CrossAccountSession, region string) offboard.S3API {
			return awsapi.NewS3(sess, region)
		},
		DynamoDB: func(sess domain.CrossAccountSession, region string) offboard.DynamoDBAPI {
			return awsapi.NewDynamoDB(sess, region)
		},
		EC2: func(sess domain.CrossAccountSession, region string) offboard.EC2API {
			return awsapi.NewEC2(sess, region)
		},
		RDS: func(sess domain.CrossAccountSession, region string) offboard.RDSAPI {
			return awsapi.NewRDS(sess, region)
		},
		Cost: func(sess domain.CrossAccountSession) offboard.CostAPI {
			return awsapi.NewCostExplorer(sess)
		},
	}
	return pipeline.NewOffboarder(a.cfg, a.store, stack.org, stack.broker, clients,
		a.recorder, a.logger, a.metrics), nil
}
