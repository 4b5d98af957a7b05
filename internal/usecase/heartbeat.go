package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"vigil/internal/domain"
	"vigil/internal/usecase/checklist"
)

// SystemRunner runs a system-level prompt. *TaskRunner implements it.
type SystemRunner interface {
	RunSystem(ctx context.Context, label, prompt string) error
}

// HeartbeatConfig wires a Heartbeat.
type HeartbeatConfig struct {
	ChecklistPath string
	MailboxPath   string
	Prompt        string // may contain {checklist} and {mailbox}
	Runner        SystemRunner
	State         domain.HeartbeatStore
	Logger        *slog.Logger
}

// Heartbeat evaluates the checklist document on a fixed interval.
type Heartbeat struct {
	cfg HeartbeatConfig
}

// NewHeartbeat creates a heartbeat runner.
func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	return &Heartbeat{cfg: cfg}
}

// Run performs one heartbeat. A missing or blank checklist skips the run
// and leaves the state untouched. Otherwise the state is stamped whatever
// the agent call returned.
func (h *Heartbeat) Run(ctx context.Context) error {
	doc, err := checklist.Read(h.cfg.ChecklistPath)
	if err != nil {
		h.cfg.Logger.Warn("heartbeat skipped, checklist unreadable", "path", h.cfg.ChecklistPath, "error", err)
		return nil
	}
	if strings.TrimSpace(doc) == "" {
		h.cfg.Logger.Debug("heartbeat skipped, checklist empty", "path", h.cfg.ChecklistPath)
		return nil
	}

	start := time.Now()
	runErr := h.cfg.Runner.RunSystem(ctx, string(KindHeartbeat), h.prompt())
	elapsed := time.Since(start)

	outcome := "ok"
	if runErr != nil {
		outcome = "error"
		h.cfg.Logger.Error("heartbeat run failed", "error", runErr, "duration", elapsed)
	}

	err = h.cfg.State.Update(ctx, func(s *domain.HeartbeatState) {
		now := time.Now()
		s.LastRunAt = &now
		if s.LastChecks == nil {
			s.LastChecks = make(map[string]any)
		}
		s.LastChecks["last_outcome"] = outcome
		s.LastChecks["duration_ms"] = elapsed.Milliseconds()
		if runErr != nil {
			s.LastChecks["last_error"] = runErr.Error()
		} else {
			delete(s.LastChecks, "last_error")
		}
	})
	if err != nil {
		h.cfg.Logger.Error("heartbeat state not persisted", "error", err)
	}
	return runErr
}

// LastRun returns when the heartbeat last completed, or nil if never.
func (h *Heartbeat) LastRun(ctx context.Context) *time.Time {
	state, err := h.cfg.State.Load(ctx)
	if err != nil {
		return nil
	}
	return state.LastRunAt
}

func (h *Heartbeat) prompt() string {
	return strings.NewReplacer(
		"{checklist}", h.cfg.ChecklistPath,
		"{mailbox}", h.cfg.MailboxPath,
	).Replace(h.cfg.Prompt)
}
