package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vigil/internal/adapter/history"
	"vigil/internal/adapter/mailbox"
	"vigil/internal/domain"
	"vigil/internal/infra/config"
	"vigil/internal/usecase/cronjob"
)

// stores groups every durable store under the data directory.
type stores struct {
	History domain.HistoryStore
	Jobs    *cronjob.FileStore
	State   *cronjob.StateStore
	Mailbox *mailbox.FileMailbox

	closeHistory func() error
}

func (s *stores) Close() error {
	if s.closeHistory != nil {
		return s.closeHistory()
	}
	return nil
}

func openStores(cfg *config.Config, log *slog.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	s := &stores{}
	switch cfg.History.Backend {
	case "sqlite":
		h, err := history.NewSQLiteStore(filepath.Join(cfg.DataDir, "history.db"), cfg.History.MaxTurns, log)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		s.History = h
		s.closeHistory = h.Close
	default:
		h, err := history.NewFileStore(filepath.Join(cfg.DataDir, "history.json"), cfg.History.MaxTurns, log)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		s.History = h
	}

	var err error
	if s.Jobs, err = cronjob.NewFileStore(cfg.DataDir, log); err != nil {
		s.Close()
		return nil, fmt.Errorf("jobs: %w", err)
	}
	if s.State, err = cronjob.NewStateStore(cfg.DataDir, log); err != nil {
		s.Close()
		return nil, fmt.Errorf("heartbeat state: %w", err)
	}
	if s.Mailbox, err = mailbox.New(cfg.DataDir); err != nil {
		s.Close()
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	return s, nil
}

// checklistPath resolves the checklist against the agent working directory,
// which is where the agent itself will look for it.
func checklistPath(cfg *config.Config) string {
	p := cfg.Checklist.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(cfg.Agent.WorkingDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
