package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"devaccounts/internal/pipeline"
)

func newOffboardCmd(a *app) *cobra.Command {
	var opts pipeline.OffboardOptions

	cmd := &cobra.Command{
		Use:   "offboard <developer>",
		Short: "Decommission a developer sandbox account",
		Long:  "offboard backs up the account's remote state, snapshots its resources, exports a final cost report, destroys the baseline infrastructure, archives everything, and suspends the account. Destroying resources requires --confirm-cleanup.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := a.offboarder(cmd.Context())
			if err != nil {
				return err
			}
			archive, err := off.Offboard(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account %s offboarded\n", archive.AccountID)
			fmt.Fprintf(out, "archive:      %s\n", archive.Dir)
			fmt.Fprintf(out, "retain until: %s\n", archive.RetainUntil.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.SkipBackup, "skip-backup", false, "skip copying remote state into the archive bundle")
	cmd.Flags().BoolVar(&opts.SkipSnapshots, "skip-snapshots", false, "skip the best-effort resource snapshots")
	cmd.Flags().BoolVar(&opts.RetainResources, "retain-resources", false, "leave the state bucket and lock table in place")
	cmd.Flags().BoolVar(&opts.ConfirmCleanup, "confirm-cleanup", false, "authorize destruction of the account's baseline resources")
	cmd.MarkFlagsMutuallyExclusive("retain-resources", "confirm-cleanup")

	return cmd
}
