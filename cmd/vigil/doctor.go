package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vigil/internal/infra/config"
	"vigil/internal/usecase/checklist"
	"vigil/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func newDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and the local environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.OutOrStdout(), *cfgPath)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(out io.Writer, cfgPath string) error {
	// Some checks work without a loadable config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Telegram token", Fn: checkTelegramToken},
		{Name: "Allow-list", Fn: checkAllowList},
		{Name: "Agent command", Fn: checkAgentCommand},
		{Name: "Data directory", Fn: checkDataDir},
		{Name: "Checklist", Fn: checkChecklist},
	}

	fmt.Fprintln(out, "vigil doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file only warns: defaults plus VIGIL_* variables may be enough.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and permissions",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkTelegramToken(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	switch {
	case cfg.Telegram.Token == "":
		return CheckResult{
			Status:  StatusFail,
			Message: "telegram.token is not set",
			Fix:     "Set telegram.token or VIGIL_TELEGRAM_TOKEN",
		}
	case strings.HasPrefix(cfg.Telegram.Token, "enc:"):
		return CheckResult{
			Status:  StatusFail,
			Message: "telegram.token is encrypted but VIGIL_CONFIG_KEY is not set",
			Fix:     "Export VIGIL_CONFIG_KEY",
		}
	}
	return CheckResult{Status: StatusPass, Message: "token configured"}
}

func checkAllowList(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.Access.AllowedConversations) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no allowed conversations",
			Fix:     "Set access.allowed_conversations or VIGIL_ALLOWED_CONVERSATIONS",
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%d conversation(s), alerts to %s",
			len(cfg.Access.AllowedConversations), cfg.Access.Recipient()),
	}
}

func checkAgentCommand(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	path, err := exec.LookPath(cfg.Agent.Command)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%q not found in PATH", cfg.Agent.Command),
			Fix:     "Install the agent CLI or set agent.command",
		}
	}
	return CheckResult{Status: StatusPass, Message: path}
}

func checkDataDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", cfg.DataDir, err),
		}
	}
	probe, err := os.CreateTemp(cfg.DataDir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", cfg.DataDir, err),
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	abs, _ := filepath.Abs(cfg.DataDir)
	return CheckResult{Status: StatusPass, Message: abs}
}

func checkChecklist(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	path := checklistPath(cfg)
	doc, err := checklist.Read(path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if strings.TrimSpace(doc) == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is missing or empty, heartbeats will be skipped", path),
		}
	}

	directives := checklist.NewParser(cfg.Checklist.Keywords...).Parse(doc)
	invalid := 0
	for _, d := range directives {
		if _, err := scheduling.ParseCron(d.Trigger); err != nil {
			invalid++
		}
	}
	if invalid > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d directive(s), %d with an invalid trigger", len(directives), invalid),
			Fix:     "Run 'vigil checklist parse' to see which",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s, %d directive(s)", path, len(directives)),
	}
}
