package offboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"devaccounts/internal/awsapi"
)

// CostAPI is the subset of the Cost Explorer client offboarding calls.
type CostAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// MonthCost is one month of unblended spend.
type MonthCost struct {
	Start  string  `yaml:"start"`
	End    string  `yaml:"end"`
	Amount float64 `yaml:"amount"`
}

// CostReport is the final spend summary for an account being offboarded.
type CostReport struct {
	AccountID string      `yaml:"account_id"`
	Start     string      `yaml:"start"`
	End       string      `yaml:"end"`
	Currency  string      `yaml:"currency"`
	Total     float64     `yaml:"total"`
	Months    []MonthCost `yaml:"months"`
}

// GatherCostReport pulls monthly unblended cost for the lookback window
// ending now.
func GatherCostReport(ctx context.Context, api CostAPI, accountID string, lookback time.Duration, now time.Time) (CostReport, error) {
	end := now.UTC()
	start := end.Add(-lookback)
	report := CostReport{
		AccountID: accountID,
		Start:     start.Format("2006-01-02"),
		End:       end.Format("2006-01-02"),
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: awssdk.String(report.Start),
			End:   awssdk.String(report.End),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
	}

	for {
		out, err := api.GetCostAndUsage(ctx, input)
		if err != nil {
			return report, fmt.Errorf("get cost and usage: %w", awsapi.Classify(err))
		}

		for _, period := range out.ResultsByTime {
			metric, ok := period.Total["UnblendedCost"]
			if !ok {
				continue
			}
			amount, err := strconv.ParseFloat(awssdk.ToString(metric.Amount), 64)
			if err != nil {
				return report, fmt.Errorf("parse cost amount %q: %w", awssdk.ToString(metric.Amount), err)
			}
			if report.Currency == "" {
				report.Currency = awssdk.ToString(metric.Unit)
			}
			report.Months = append(report.Months, MonthCost{
				Start:  awssdk.ToString(period.TimePeriod.Start),
				End:    awssdk.ToString(period.TimePeriod.End),
				Amount: amount,
			})
			report.Total += amount
		}

		if out.NextPageToken == nil {
			return report, nil
		}
		input.NextPageToken = out.NextPageToken
	}
}
