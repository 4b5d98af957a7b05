// Package history provides durable, bounded stores for conversation turns.
package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"vigil/internal/domain"
	"vigil/internal/infra/fileutil"
)

// DefaultMaxTurns is the retention bound used when none is configured.
const DefaultMaxTurns = 100

// FileStore implements domain.HistoryStore as a single JSON document.
// Every Append rewrites the whole document; the mutex serializes writers.
type FileStore struct {
	path     string
	maxTurns int
	logger   *slog.Logger

	mu    sync.RWMutex
	turns []domain.Turn
}

var _ domain.HistoryStore = (*FileStore)(nil)

// NewFileStore opens the history document at path. A missing or corrupt
// document yields an empty history.
func NewFileStore(path string, maxTurns int, logger *slog.Logger) (*FileStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, persistErr("history.open", err)
	}
	s := &FileStore{path: path, maxTurns: maxTurns, logger: logger}
	s.turns = s.load()
	return s, nil
}

func (s *FileStore) load() []domain.Turn {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("history unreadable, starting empty", "path", s.path, "error", err)
		}
		return nil
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		s.logger.Warn("history corrupt, starting empty", "path", s.path, "error", err)
		return nil
	}
	return trim(turns, s.maxTurns)
}

// Append adds turn and discards the oldest turns beyond the bound. The
// in-memory log keeps the turn even when the write fails.
func (s *FileStore) Append(_ context.Context, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = trim(append(s.turns, turn), s.maxTurns)
	if err := fileutil.WriteJSON(s.path, s.turns); err != nil {
		return persistErr("history.append", err)
	}
	return nil
}

func (s *FileStore) MostRecentSessionHandle(_ context.Context, conversationID string) (domain.SessionHandle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.turns) - 1; i >= 0; i-- {
		t := s.turns[i]
		if t.ConversationID == conversationID && t.SessionHandle != "" {
			return t.SessionHandle, true, nil
		}
	}
	return "", false, nil
}

func (s *FileStore) Recent(_ context.Context, limit int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.turns) {
		limit = len(s.turns)
	}
	out := make([]domain.Turn, limit)
	copy(out, s.turns[len(s.turns)-limit:])
	return out, nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns), nil
}

// trim keeps the newest max turns, reusing a fresh backing array so the
// dropped prefix can be collected.
func trim(turns []domain.Turn, max int) []domain.Turn {
	if len(turns) <= max {
		return turns
	}
	out := make([]domain.Turn, max)
	copy(out, turns[len(turns)-max:])
	return out
}
