package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Agent     AgentConfig     `yaml:"agent"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Access    AccessConfig    `yaml:"access"`
	Checklist ChecklistConfig `yaml:"checklist"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	History   HistoryConfig   `yaml:"history"`
	Progress  ProgressConfig  `yaml:"progress"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// AgentConfig describes how the external agent CLI is invoked.
type AgentConfig struct {
	Command        string               `yaml:"command"`
	Args           []string             `yaml:"args"`
	Model          string               `yaml:"model,omitempty"`
	WorkingDir     string               `yaml:"working_dir"`
	Capabilities   []string             `yaml:"capabilities"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the agent runner.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token       string        `yaml:"token"`
	BaseURL     string        `yaml:"base_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// AccessConfig holds the conversation allow-list and the alert recipient.
type AccessConfig struct {
	AllowedConversations []string `yaml:"allowed_conversations"`
	// AlertRecipient defaults to the first allowed conversation.
	AlertRecipient string `yaml:"alert_recipient,omitempty"`
}

// Recipient returns the configured alert recipient.
func (a AccessConfig) Recipient() string {
	if a.AlertRecipient != "" {
		return a.AlertRecipient
	}
	if len(a.AllowedConversations) > 0 {
		return a.AllowedConversations[0]
	}
	return ""
}

// ChecklistConfig holds checklist document settings.
type ChecklistConfig struct {
	Path     string        `yaml:"path"`
	Keywords []string      `yaml:"keywords"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// SchedulerConfig holds timer settings.
type SchedulerConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	AlertSweepInterval time.Duration `yaml:"alert_sweep_interval"`
	// OrphanPolicy is "disable" or "keep" for jobs whose directive was removed.
	OrphanPolicy string `yaml:"orphan_policy"`
}

// HeartbeatConfig holds the synthesized heartbeat prompt.
// The prompt may reference {checklist} and {mailbox}.
type HeartbeatConfig struct {
	Prompt string `yaml:"prompt"`
}

// HistoryConfig holds history store settings.
type HistoryConfig struct {
	Backend  string `yaml:"backend"` // "file" or "sqlite"
	MaxTurns int    `yaml:"max_turns"`
}

// ProgressConfig holds progress notification settings.
type ProgressConfig struct {
	Window time.Duration `yaml:"window"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// DefaultHeartbeatPrompt is used when heartbeat.prompt is empty.
const DefaultHeartbeatPrompt = `Read the checklist at {checklist} and evaluate every item that is due.
If anything needs the user's attention, append a short note to {mailbox}.
If nothing needs attention, do not write to the mailbox.`

// defaultDataDir returns the persistent data directory under $HOME/.vigil.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".vigil")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Agent: AgentConfig{
			Command:      "claude",
			Args:         []string{"-p", "--output-format", "stream-json", "--verbose"},
			WorkingDir:   ".",
			Capabilities: []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch", "WebSearch"},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     60 * time.Second,
				Interval:    10 * time.Minute,
			},
		},
		Telegram: TelegramConfig{
			BaseURL:     "https://api.telegram.org",
			PollTimeout: 30 * time.Second,
		},
		Checklist: ChecklistConfig{
			Path:     "HEARTBEAT.md",
			Keywords: []string{"CRON", "TRIGGER"},
			Watch:    true,
			Debounce: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			HeartbeatInterval:  5 * time.Minute,
			AlertSweepInterval: 30 * time.Second,
			OrphanPolicy:       "disable",
		},
		Heartbeat: HeartbeatConfig{
			Prompt: DefaultHeartbeatPrompt,
		},
		History: HistoryConfig{
			Backend:  "file",
			MaxTurns: 100,
		},
		Progress: ProgressConfig{
			Window: 5 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("VIGIL_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps VIGIL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VIGIL_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("VIGIL_ALLOWED_CONVERSATIONS"); v != "" {
		cfg.Access.AllowedConversations = splitAndTrim(v, ",")
	}
	if v := os.Getenv("VIGIL_ALERT_RECIPIENT"); v != "" {
		cfg.Access.AlertRecipient = v
	}
	if v := os.Getenv("VIGIL_AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
	if v := os.Getenv("VIGIL_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("VIGIL_AGENT_WORKING_DIR"); v != "" {
		cfg.Agent.WorkingDir = v
	}
	if v := os.Getenv("VIGIL_CHECKLIST_PATH"); v != "" {
		cfg.Checklist.Path = v
	}
	if v := os.Getenv("VIGIL_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Scheduler.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("VIGIL_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("VIGIL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("VIGIL_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("VIGIL_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("VIGIL_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
