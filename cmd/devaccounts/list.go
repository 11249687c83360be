package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	var exportPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accts, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			if exportPath != "" {
				data, err := yaml.Marshal(accts)
				if err != nil {
					return err
				}
				if err := os.WriteFile(exportPath, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d accounts to %s\n", len(accts), exportPath)
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(accts)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVELOPER\tACCOUNT\tSTATE\tBUDGET\tUPDATED")
			for _, acct := range accts {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%d\t%s\n",
					acct.DeveloperName, acct.AccountID, acct.State,
					acct.MonthlyBudget, acct.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the full inventory to a YAML file")
	return cmd
}
