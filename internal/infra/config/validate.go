package config

import (
	"fmt"
	"strings"

	"vigil/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap lets callers match domain.ErrConfiguration.
func (v *ValidationError) Unwrap() error { return domain.ErrConfiguration }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateChecklist(cfg, ve)
	validateScheduler(cfg, ve)
	validateHistory(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if cfg.Progress.Window < 0 {
		ve.Add("progress.window must be >= 0")
	}
	if cfg.DataDir == "" {
		ve.Add("data_dir must not be empty")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateRuntime adds the checks that only matter when the orchestrator
// actually starts: a bot token and at least one allowed conversation.
func ValidateRuntime(cfg *Config) error {
	ve := &ValidationError{}
	if err := Validate(cfg); err != nil {
		ve.Errors = append(ve.Errors, err.(*ValidationError).Errors...)
	}
	if cfg.Telegram.Token == "" {
		ve.Add("telegram.token is required (or set VIGIL_TELEGRAM_TOKEN)")
	} else if strings.HasPrefix(cfg.Telegram.Token, encPrefix) {
		ve.Add("telegram.token is encrypted; set VIGIL_CONFIG_KEY")
	}
	if len(cfg.Access.AllowedConversations) == 0 {
		ve.Add("access.allowed_conversations must list at least one conversation")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.Command == "" {
		ve.Add("agent.command must not be empty")
	}
	if _, err := domain.ParseCapabilities(cfg.Agent.Capabilities); err != nil {
		ve.Add("agent.capabilities: %v", err)
	}
	cb := cfg.Agent.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("agent.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("agent.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateChecklist(cfg *Config, ve *ValidationError) {
	if cfg.Checklist.Path == "" {
		ve.Add("checklist.path must not be empty")
	}
	if len(cfg.Checklist.Keywords) == 0 {
		ve.Add("checklist.keywords must not be empty")
	}
	for i, kw := range cfg.Checklist.Keywords {
		if strings.TrimSpace(kw) == "" || strings.ContainsAny(kw, " \t:") {
			ve.Add("checklist.keywords[%d] %q must be a single word", i, kw)
		}
	}
	if cfg.Checklist.Watch && cfg.Checklist.Debounce <= 0 {
		ve.Add("checklist.debounce must be > 0 when watch is enabled")
	}
}

var validOrphanPolicies = map[string]bool{
	"disable": true,
	"keep":    true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if cfg.Scheduler.HeartbeatInterval <= 0 {
		ve.Add("scheduler.heartbeat_interval must be > 0")
	}
	if cfg.Scheduler.AlertSweepInterval <= 0 {
		ve.Add("scheduler.alert_sweep_interval must be > 0")
	}
	if !validOrphanPolicies[cfg.Scheduler.OrphanPolicy] {
		ve.Add("scheduler.orphan_policy %q is invalid (use disable or keep)", cfg.Scheduler.OrphanPolicy)
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	switch cfg.History.Backend {
	case "file", "sqlite":
	default:
		ve.Add("history.backend %q is invalid (use file or sqlite)", cfg.History.Backend)
	}
	if cfg.History.MaxTurns < 0 {
		ve.Add("history.max_turns must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (use text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (use noop or stdout)", cfg.Tracer.Exporter)
	}
}
