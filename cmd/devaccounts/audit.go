package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devaccounts/internal/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	var opts audit.ListOptions

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the pipeline audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, total, err := a.recorder.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tDEVELOPER\tPIPELINE\tSTEP\tOUTCOME\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Developer,
					e.Pipeline, e.Step, e.Outcome, e.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total > len(events) {
				fmt.Fprintf(cmd.OutOrStdout(), "showing %d of %d events\n", len(events), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Developer, "developer", "", "filter by developer")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "filter by pipeline (provision, offboard)")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum events to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "events to skip")

	return cmd
}
