package usecase

import (
	"context"
	"log/slog"
	"sync"

	"vigil/internal/domain"
)

// SessionRegistry caches the current session handle per conversation.
// History is authoritative; the cache is filled from it on a miss.
type SessionRegistry struct {
	history domain.HistoryStore
	logger  *slog.Logger

	mu      sync.RWMutex
	handles map[string]domain.SessionHandle
	// cleared marks conversations reset since their last Set. A tombstone
	// wins over whatever handle history still carries.
	cleared map[string]bool
}

// NewSessionRegistry creates a registry backed by history.
func NewSessionRegistry(history domain.HistoryStore, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		history: history,
		logger:  logger,
		handles: make(map[string]domain.SessionHandle),
		cleared: make(map[string]bool),
	}
}

// Get returns the handle for conversationID, or "" when there is none.
// A history read failure is logged and treated as no handle.
func (r *SessionRegistry) Get(ctx context.Context, conversationID string) domain.SessionHandle {
	r.mu.RLock()
	h, ok := r.handles[conversationID]
	tomb := r.cleared[conversationID]
	r.mu.RUnlock()
	if ok {
		return h
	}
	if tomb {
		return ""
	}

	h, found, err := r.history.MostRecentSessionHandle(ctx, conversationID)
	if err != nil {
		r.logger.Warn("session lookup failed, starting fresh", "conversation_id", conversationID, "error", err)
		return ""
	}
	if !found {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Set or Clear takes precedence over the history read.
	if cur, ok := r.handles[conversationID]; ok {
		return cur
	}
	if r.cleared[conversationID] {
		return ""
	}
	r.handles[conversationID] = h
	return h
}

// Set records handle as current for conversationID.
func (r *SessionRegistry) Set(conversationID string, handle domain.SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[conversationID] = handle
	delete(r.cleared, conversationID)
}

// Clear drops the handle so the next call starts a fresh session.
func (r *SessionRegistry) Clear(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, conversationID)
	r.cleared[conversationID] = true
}

// Warm loads handles for the given conversations from history and returns
// how many were found.
func (r *SessionRegistry) Warm(ctx context.Context, conversationIDs []string) int {
	n := 0
	for _, id := range conversationIDs {
		if r.Get(ctx, id) != "" {
			n++
		}
	}
	r.logger.Info("session registry warmed", "conversations", len(conversationIDs), "with_session", n)
	return n
}
