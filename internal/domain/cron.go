package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Reasons recorded on disabled jobs.
const (
	// DisabledReasonOrphaned marks jobs whose directive disappeared from the checklist.
	DisabledReasonOrphaned = "absent_from_checklist"
	DisabledReasonUser     = "disabled_by_user"
)

// CronJob is a recurring task materialized from a checklist directive.
type CronJob struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Trigger        string     `json:"trigger"`
	Task           string     `json:"task"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
}

// JobID derives the deterministic job id for a task text. Identical task
// text always maps to the same id, so re-parsing never duplicates a job.
func JobID(task string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(task)))
	return hex.EncodeToString(sum[:])[:16]
}

// JobName builds a short human name from a task text.
func JobName(task string) string {
	const maxLen = 40
	name := strings.Join(strings.Fields(task), " ")
	if r := []rune(name); len(r) > maxLen {
		name = strings.TrimSpace(string(r[:maxLen])) + "…"
	}
	return name
}

// HeartbeatState is the process-wide heartbeat bookkeeping record.
type HeartbeatState struct {
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	LastChecks map[string]any `json:"last_checks,omitempty"`
}

// CronStore persists materialized cron jobs.
type CronStore interface {
	Save(ctx context.Context, job CronJob) error
	Get(ctx context.Context, id string) (*CronJob, error)
	List(ctx context.Context) ([]CronJob, error)
}

// HeartbeatStore persists the singleton HeartbeatState. Update is one
// locked read-modify-write.
type HeartbeatStore interface {
	Load(ctx context.Context) (HeartbeatState, error)
	Update(ctx context.Context, fn func(*HeartbeatState)) error
}
