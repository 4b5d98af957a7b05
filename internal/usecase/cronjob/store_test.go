package cronjob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/domain"
)

func newTestJob(task string, created time.Time) domain.CronJob {
	return domain.CronJob{
		ID:        domain.JobID(task),
		Name:      domain.JobName(task),
		Trigger:   "*/5 * * * *",
		Task:      task,
		Enabled:   true,
		CreatedAt: created,
	}
}

func TestFileStoreSaveAndGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx := context.Background()
	job := newTestJob("check disks", time.Now())

	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Task != "check disks" || got.Trigger != "*/5 * * * *" {
		t.Errorf("got %+v", got)
	}
}

func TestFileStoreGetNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, err = store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreListOrder(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	base := time.Now()
	store.Save(ctx, newTestJob("second", base.Add(time.Minute)))
	store.Save(ctx, newTestJob("first", base))

	jobs, _ := store.List(ctx)
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}
	if jobs[0].Task != "first" || jobs[1].Task != "second" {
		t.Errorf("order = %q, %q", jobs[0].Task, jobs[1].Task)
	}
}

func TestFileStorePersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, err := NewFileStore(dir, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	job := newTestJob("persisted", time.Now())
	ran := time.Now().Truncate(time.Second)
	job.LastRunAt = &ran
	store1.Save(ctx, job)

	store2, err := NewFileStore(dir, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore reload: %v", err)
	}
	got, err := store2.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, ran)
	}
}

func TestFileStoreCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jobs.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := NewFileStore(dir, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs, _ := store.List(context.Background())
	if len(jobs) != 0 {
		t.Errorf("len = %d, want 0", len(jobs))
	}
}

func TestStateStoreDefaultAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := NewStateStore(dir, newTestLogger())
	if err != nil {
		t.Fatalf("NewStateStore: %v", err)
	}

	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastRunAt != nil {
		t.Errorf("expected no last run, got %v", state.LastRunAt)
	}

	now := time.Now().Truncate(time.Second)
	err = store.Update(ctx, func(s *domain.HeartbeatState) {
		s.LastRunAt = &now
		s.LastChecks = map[string]any{"last_outcome": "ok"}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, _ := NewStateStore(dir, newTestLogger())
	state, _ = reloaded.Load(ctx)
	if state.LastRunAt == nil || !state.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", state.LastRunAt, now)
	}
	if state.LastChecks["last_outcome"] != "ok" {
		t.Errorf("LastChecks = %v", state.LastChecks)
	}
}

func TestStateStoreCorruptLoadsDefault(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "heartbeat.json"), []byte("]]"), 0o600)

	store, _ := NewStateStore(dir, newTestLogger())
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastRunAt != nil || state.LastChecks != nil {
		t.Errorf("expected zero state, got %+v", state)
	}
}
