package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/infra/config"
	"vigil/internal/infra/logger"
)

func newHistoryCmd(load func() (*config.Config, error)) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the conversation history",
	}

	var n int
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest turns",
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

			turns, err := st.History.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}
			for _, t := range turns {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  conv=%s  session=%s\n",
					t.Timestamp.Local().Format(time.DateTime), t.Role, t.ConversationID, t.SessionHandle.Short(8))
				for _, line := range strings.Split(t.Content, "\n") {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", line)
				}
			}
			return nil
		},
	}
	tailCmd.Flags().IntVarP(&n, "lines", "n", 20, "number of turns to show")

	historyCmd.AddCommand(tailCmd)
	return historyCmd
}
