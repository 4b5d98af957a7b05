package domain

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role constants for turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionHandle is the opaque continuation token returned by the agent runner.
// The empty handle means "no session".
type SessionHandle string

// Short returns the first n characters of the handle, or "none" when empty.
func (h SessionHandle) Short(n int) string {
	if h == "" {
		return "none"
	}
	if len(h) <= n {
		return string(h)
	}
	return string(h[:n])
}

// Turn is one recorded message. Turns are immutable once written.
type Turn struct {
	ID             string        `json:"id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	ConversationID string        `json:"conversation_id,omitempty"`
	SessionHandle  SessionHandle `json:"session_handle,omitempty"`
}

// NewTurn builds a Turn stamped with a fresh ULID and the current time.
func NewTurn(role, content, conversationID string, handle SessionHandle) Turn {
	now := time.Now()
	return Turn{
		ID:             NewID(now),
		Role:           role,
		Content:        content,
		Timestamp:      now,
		ConversationID: conversationID,
		SessionHandle:  handle,
	}
}

// NewID returns a ULID string for t.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// HistoryStore is the durable, bounded log of turns.
type HistoryStore interface {
	// Append persists a turn and discards the oldest turns beyond the retention bound.
	Append(ctx context.Context, turn Turn) error
	// MostRecentSessionHandle scans newest to oldest and returns the first
	// handle recorded for conversationID. ok is false when none exists.
	MostRecentSessionHandle(ctx context.Context, conversationID string) (SessionHandle, bool, error)
	// Recent returns up to limit of the newest turns, oldest first.
	Recent(ctx context.Context, limit int) ([]Turn, error)
	// Count returns the number of retained turns.
	Count(ctx context.Context) (int, error)
}
