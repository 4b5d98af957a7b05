package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/infra/config"
)

func newSecretCmd() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted config values",
	}

	secretCmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a value read from stdin with VIGIL_CONFIG_KEY",
		Long:  "Reads one line from stdin and prints an enc: value to paste into config.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv("VIGIL_CONFIG_KEY")
			if key == "" {
				return fmt.Errorf("VIGIL_CONFIG_KEY is not set")
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read value: %w", err)
			}
			value := strings.TrimRight(line, "\r\n")
			if value == "" {
				return fmt.Errorf("empty value")
			}
			enc, err := config.EncryptValue(value, key)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", enc)
			return nil
		},
	})
	return secretCmd
}
