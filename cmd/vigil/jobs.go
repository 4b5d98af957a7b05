package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/infra/config"
	"vigil/internal/infra/logger"
)

func newJobsCmd(load func() (*config.Config, error)) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect materialized cron jobs",
	}

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			st, err := openStores(cfg, logger.Discard())
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.Jobs.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENABLED\tTRIGGER\tLAST RUN\tNAME")
			for _, j := range jobs {
				enabled := "yes"
				if !j.Enabled {
					enabled = "no"
					if j.DisabledReason != "" {
						enabled += " (" + j.DisabledReason + ")"
					}
				}
				last := "never"
				if j.LastRunAt != nil {
					last = j.LastRunAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.ID, enabled, j.Trigger, last, j.Name)
			}
			return w.Flush()
		},
	})
	return jobsCmd
}
