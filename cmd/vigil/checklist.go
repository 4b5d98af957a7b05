package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vigil/internal/domain"
	"vigil/internal/infra/config"
	"vigil/internal/usecase/checklist"
	"vigil/internal/usecase/scheduling"
)

func newChecklistCmd(load func() (*config.Config, error)) *cobra.Command {
	checklistCmd := &cobra.Command{
		Use:   "checklist",
		Short: "Work with the checklist document",
	}

	checklistCmd.AddCommand(&cobra.Command{
		Use:   "parse [path]",
		Short: "Print the directives found in the checklist and their job ids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			path := checklistPath(cfg)
			if len(args) == 1 {
				path = args[0]
			}

			doc, err := checklist.Read(path)
			if err != nil {
				return err
			}
			directives := checklist.NewParser(cfg.Checklist.Keywords...).Parse(doc)
			if len(directives) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No directives in %s.\n", path)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINE\tJOB ID\tTRIGGER\tVALID\tTASK")
			invalid := 0
			for _, d := range directives {
				valid := "yes"
				if _, err := scheduling.ParseCron(d.Trigger); err != nil {
					valid = "no"
					invalid++
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.Line, domain.JobID(d.Task), d.Trigger, valid, domain.JobName(d.Task))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d directive(s) with an invalid trigger", invalid)
			}
			return nil
		},
	})
	return checklistCmd
}
