package provision

import (
	"context"
	"fmt"
	"strconv"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	budgettypes "github.com/aws/aws-sdk-go-v2/service/budgets/types"

	"devaccounts/internal/awsapi"
	"devaccounts/internal/domain"
	"devaccounts/internal/lifecycle"
)

// BudgetsAPI is the subset of the Budgets client the budget provisioner calls.
type BudgetsAPI interface {
	CreateBudget(ctx context.Context, params *budgets.CreateBudgetInput, optFns ...func(*budgets.Options)) (*budgets.CreateBudgetOutput, error)
	DescribeBudget(ctx context.Context, params *budgets.DescribeBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetOutput, error)
}

// EnsureBudget creates the monthly cost budget with its staged alerts: one on
// actual spend, one on forecasted spend, both delivered to every subscriber.
// An existing budget is accepted only when its limit matches the policy.
func EnsureBudget(ctx context.Context, api BudgetsAPI, accountID string, policy domain.BudgetPolicy) (Outcome, error) {
	subscribers := make([]budgettypes.Subscriber, 0, len(policy.Subscribers))
	for _, email := range policy.Subscribers {
		subscribers = append(subscribers, budgettypes.Subscriber{
			SubscriptionType: budgettypes.SubscriptionTypeEmail,
			Address:          awssdk.String(email),
		})
	}

	notifications := []budgettypes.NotificationWithSubscribers{
		{
			Notification: &budgettypes.Notification{
				NotificationType:   budgettypes.NotificationTypeActual,
				ComparisonOperator: budgettypes.ComparisonOperatorGreaterThan,
				Threshold:          policy.ActualThresholdPct,
				ThresholdType:      budgettypes.ThresholdTypePercentage,
			},
			Subscribers: subscribers,
		},
		{
			Notification: &budgettypes.Notification{
				NotificationType:   budgettypes.NotificationTypeForecasted,
				ComparisonOperator: budgettypes.ComparisonOperatorGreaterThan,
				Threshold:          policy.ForecastThresholdPct,
				ThresholdType:      budgettypes.ThresholdTypePercentage,
			},
			Subscribers: subscribers,
		},
	}

	_, err := api.CreateBudget(ctx, &budgets.CreateBudgetInput{
		AccountId: awssdk.String(accountID),
		Budget: &budgettypes.Budget{
			BudgetName: awssdk.String(policy.Name),
			BudgetType: budgettypes.BudgetTypeCost,
			TimeUnit:   budgettypes.TimeUnitMonthly,
			BudgetLimit: &budgettypes.Spend{
				Amount: awssdk.String(fmt.Sprintf("%d", policy.MonthlyLimit)),
				Unit:   awssdk.String("USD"),
			},
		},
		NotificationsWithSubscribers: notifications,
	})
	if err != nil {
		if awsapi.IsCode(err, "DuplicateRecordException") {
			if verr := verifyBudgetLimit(ctx, api, accountID, policy); verr != nil {
				return "", verr
			}
			return OutcomeAlreadyExists, nil
		}
		return "", fmt.Errorf("create budget %q: %w", policy.Name, awsapi.Classify(err))
	}
	return OutcomeCreated, nil
}

// verifyBudgetLimit checks that an existing budget still carries the limit the
// policy asks for. A budget created before a limit change must not be silently
// reused.
func verifyBudgetLimit(ctx context.Context, api BudgetsAPI, accountID string, policy domain.BudgetPolicy) error {
	out, err := api.DescribeBudget(ctx, &budgets.DescribeBudgetInput{
		AccountId:  awssdk.String(accountID),
		BudgetName: awssdk.String(policy.Name),
	})
	if err != nil {
		return fmt.Errorf("describe budget %q: %w", policy.Name, awsapi.Classify(err))
	}
	limit := out.Budget.BudgetLimit
	if limit == nil || awssdk.ToString(limit.Unit) != "USD" {
		return fmt.Errorf("%w: budget %q exists with a different limit", lifecycle.ErrConflict, policy.Name)
	}
	// The service reports amounts as decimal strings ("100.0").
	amount, err := strconv.ParseFloat(awssdk.ToString(limit.Amount), 64)
	if err != nil || amount != float64(policy.MonthlyLimit) {
		return fmt.Errorf("%w: budget %q exists with a different limit", lifecycle.ErrConflict, policy.Name)
	}
	return nil
}
