package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"devaccounts/internal/domain"
)

func newCreateAccountCmd(a *app) *cobra.Command {
	var req domain.AccountRequest

	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create and provision a developer sandbox account",
		Long:  "create-account creates a member account, provisions its baseline infrastructure and guardrails, and writes the onboarding artifacts. Re-running after a failure resumes from the last completed step.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prov, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			acct, err := prov.Provision(cmd.Context(), req)
			if err != nil {
				return err
			}
			printAccount(cmd, acct)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.DeveloperName, "developer", "", "developer identifier (lowercase, hyphens)")
	cmd.Flags().StringVar(&req.Email, "email", "", "developer email; becomes the account root email")
	cmd.Flags().IntVar(&req.MonthlyBudget, "budget", 100, "monthly budget in USD")
	cmd.Flags().StringVar(&req.TicketID, "ticket", "", "tracking ticket reference")
	cmd.Flags().StringSliceVar(&req.Regions, "region", nil, "allowed region (repeatable; defaults from config)")
	_ = cmd.MarkFlagRequired("developer")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newOnboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard <developer>",
		Short: "Resume provisioning for an existing request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			acct, err := prov.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAccount(cmd, acct)
			return nil
		},
	}
}

func printAccount(cmd *cobra.Command, acct domain.ManagedAccount) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "developer:  %s\n", acct.DeveloperName)
	fmt.Fprintf(out, "account:    %s\n", acct.AccountID)
	fmt.Fprintf(out, "state:      %s\n", acct.State)
	if acct.RoleARN != "" {
		fmt.Fprintf(out, "role:       %s\n", acct.RoleARN)
	}
	if acct.StateBucket != "" {
		fmt.Fprintf(out, "bucket:     %s\n", acct.StateBucket)
		fmt.Fprintf(out, "lock table: %s\n", acct.LockTable)
	}
}
