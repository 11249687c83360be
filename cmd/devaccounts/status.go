package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"devaccounts/internal/audit"
	"devaccounts/internal/lifecycle"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <developer>",
		Short: "Show one account's record and recent pipeline activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, ok, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("account %q: %w", args[0], lifecycle.ErrNotFound)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(acct)
			}

			printAccount(cmd, acct)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "email:      %s\n", acct.Email)
			fmt.Fprintf(out, "budget:     $%d/month\n", acct.MonthlyBudget)
			fmt.Fprintf(out, "regions:    %v\n", acct.Regions)
			if acct.FailedStep != "" {
				fmt.Fprintf(out, "failed at:  %s (%s)\n", acct.FailedStep, acct.FailureCause)
			}

			events, _, err := a.recorder.List(cmd.Context(), audit.ListOptions{
				Developer: args[0],
				Limit:     5,
			})
			if err != nil {
				return err
			}
			if len(events) > 0 {
				fmt.Fprintln(out, "\nrecent activity:")
				for _, e := range events {
					fmt.Fprintf(out, "  %s  %s/%s  %s\n",
						e.Timestamp.Format("2006-01-02 15:04:05"), e.Pipeline, e.Step, e.Outcome)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
