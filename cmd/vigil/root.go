package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vigil/internal/infra/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "vigil",
		Short:         "Checklist-driven scheduler and chat front end for a coding agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config.yaml (env VIGIL_CONFIG)")

	load := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	rootCmd.AddCommand(
		newRunCmd(load),
		newJobsCmd(load),
		newChecklistCmd(load),
		newHistoryCmd(load),
		newDoctorCmd(&cfgPath),
		newSecretCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("VIGIL_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".vigil", "config.yaml")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vigil version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "vigil %s\n", version)
		},
	}
}
