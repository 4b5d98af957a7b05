// Package cronjob materializes checklist directives into persisted cron jobs
// and keeps the scheduler in step with them.
package cronjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vigil/internal/domain"
	"vigil/internal/usecase/checklist"
	"vigil/internal/usecase/scheduling"
)

// OrphanPolicy decides what happens to jobs whose directive is no longer in
// the checklist.
type OrphanPolicy string

const (
	// OrphanDisable disables and unschedules orphaned jobs.
	OrphanDisable OrphanPolicy = "disable"
	// OrphanKeep keeps orphaned jobs firing.
	OrphanKeep OrphanPolicy = "keep"
)

// Executor runs a system-level task. Defined here to avoid an import cycle
// with the usecase package.
type Executor interface {
	RunSystem(ctx context.Context, label, prompt string) error
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Created   int
	Scheduled int
	Invalid   int
	Orphaned  int
}

// Manager owns the job table and the scheduler's per-job entries.
type Manager struct {
	store     domain.CronStore
	scheduler *scheduling.Scheduler
	executor  Executor
	policy    OrphanPolicy
	logger    *slog.Logger

	// mu serializes reconciliation, run stamping and enable/disable so
	// read-modify-write on the store never interleaves.
	mu sync.Mutex
}

// NewManager creates a job manager. An empty policy means OrphanDisable.
func NewManager(store domain.CronStore, scheduler *scheduling.Scheduler, executor Executor, policy OrphanPolicy, logger *slog.Logger) *Manager {
	if policy == "" {
		policy = OrphanDisable
	}
	return &Manager{
		store:     store,
		scheduler: scheduler,
		executor:  executor,
		policy:    policy,
		logger:    logger,
	}
}

// Reconcile brings the job table and the scheduler in line with the parsed
// directives. It is safe to call repeatedly with the same input.
func (m *Manager) Reconcile(ctx context.Context, directives []checklist.Directive) (ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ReconcileResult

	existing, err := m.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: list jobs: %w", err)
	}
	byID := make(map[string]domain.CronJob, len(existing))
	for _, j := range existing {
		byID[j.ID] = j
	}

	// invalid holds ids whose directive is present but unparseable. Such
	// jobs keep their stored state and last valid trigger.
	present := make(map[string]bool, len(directives))
	invalid := make(map[string]bool)
	for _, d := range directives {
		id := domain.JobID(d.Task)
		if present[id] || invalid[id] {
			continue
		}
		if _, err := scheduling.ParseCron(d.Trigger); err != nil {
			res.Invalid++
			invalid[id] = true
			m.logger.Warn("invalid trigger, directive skipped",
				"line", d.Line, "trigger", d.Trigger, "task", domain.JobName(d.Task), "error", err)
			if job, ok := byID[id]; ok && job.Enabled && m.schedule(job) {
				res.Scheduled++
			}
			continue
		}
		present[id] = true

		job, ok := byID[id]
		switch {
		case !ok:
			job = domain.CronJob{
				ID:        id,
				Name:      domain.JobName(d.Task),
				Trigger:   d.Trigger,
				Task:      strings.TrimSpace(d.Task),
				Enabled:   true,
				CreatedAt: time.Now(),
			}
			if err := m.save(ctx, job); err != nil {
				continue
			}
			res.Created++
			m.logger.Info("job created", "job_id", id, "name", job.Name, "trigger", job.Trigger)

		case job.Trigger != d.Trigger || (!job.Enabled && job.DisabledReason == domain.DisabledReasonOrphaned):
			if job.Trigger != d.Trigger {
				m.scheduler.RemoveJob(id)
				m.logger.Info("job trigger changed", "job_id", id, "from", job.Trigger, "to", d.Trigger)
				job.Trigger = d.Trigger
			}
			if !job.Enabled && job.DisabledReason == domain.DisabledReasonOrphaned {
				job.Enabled = true
				job.DisabledReason = ""
				m.logger.Info("job restored to checklist", "job_id", id)
			}
			if err := m.save(ctx, job); err != nil {
				continue
			}
		}
		byID[id] = job

		if job.Enabled && m.schedule(job) {
			res.Scheduled++
		}
	}

	for _, j := range existing {
		if present[j.ID] || invalid[j.ID] {
			continue
		}
		job := byID[j.ID]
		switch m.policy {
		case OrphanKeep:
			if job.Enabled && m.schedule(job) {
				res.Scheduled++
			}
		default:
			if !job.Enabled {
				continue
			}
			job.Enabled = false
			job.DisabledReason = domain.DisabledReasonOrphaned
			m.scheduler.RemoveJob(job.ID)
			if err := m.save(ctx, job); err != nil {
				continue
			}
			res.Orphaned++
			m.logger.Info("job disabled, absent from checklist", "job_id", job.ID, "name", job.Name)
		}
	}

	m.logger.Info("checklist reconciled",
		"directives", len(directives),
		"created", res.Created,
		"scheduled", res.Scheduled,
		"invalid", res.Invalid,
		"orphaned", res.Orphaned,
	)
	return res, nil
}

// schedule registers job with the scheduler unless it is already there.
// It reports whether a new entry was added.
func (m *Manager) schedule(job domain.CronJob) bool {
	if m.scheduler.HasJob(job.ID) {
		return false
	}
	id := job.ID
	err := m.scheduler.AddJob(id, job.Trigger, func(ctx context.Context) error {
		return m.Execute(ctx, id)
	})
	if err != nil {
		m.logger.Warn("job not scheduled", "job_id", id, "trigger", job.Trigger, "error", err)
		return false
	}
	return true
}

func (m *Manager) save(ctx context.Context, job domain.CronJob) error {
	if err := m.store.Save(ctx, job); err != nil {
		m.logger.Error("job not persisted", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// Execute runs a job's task as a system-level call and stamps LastRunAt
// whether or not the call succeeded.
func (m *Manager) Execute(ctx context.Context, id string) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("execute job: %w", err)
	}

	start := time.Now()
	runErr := m.executor.RunSystem(ctx, "cron:"+job.Name, job.Task)
	if runErr != nil {
		m.logger.Error("job run failed", "job_id", id, "error", runErr, "duration", time.Since(start))
	} else {
		m.logger.Info("job run completed", "job_id", id, "duration", time.Since(start))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-read so a concurrent reconcile or toggle is not overwritten.
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("stamp job: %w", err))
	}
	now := time.Now()
	current.LastRunAt = &now
	if err := m.store.Save(ctx, *current); err != nil {
		m.logger.Error("last run not persisted", "job_id", id, "error", err)
	}
	return runErr
}

// SetEnabled enables or disables a job by id or unique id prefix.
func (m *Manager) SetEnabled(ctx context.Context, idOrPrefix string, enabled bool) (*domain.CronJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.resolve(ctx, idOrPrefix)
	if err != nil {
		return nil, err
	}

	job.Enabled = enabled
	if enabled {
		job.DisabledReason = ""
	} else {
		job.DisabledReason = domain.DisabledReasonUser
	}
	if err := m.store.Save(ctx, *job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if enabled {
		m.schedule(*job)
	} else {
		m.scheduler.RemoveJob(job.ID)
	}
	m.logger.Info("job toggled", "job_id", job.ID, "enabled", enabled)
	return job, nil
}

func (m *Manager) resolve(ctx context.Context, idOrPrefix string) (*domain.CronJob, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, fmt.Errorf("%w: job id required", domain.ErrInvalidInput)
	}
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *domain.CronJob
	for i := range jobs {
		if jobs[i].ID == idOrPrefix {
			return &jobs[i], nil
		}
		if strings.HasPrefix(jobs[i].ID, idOrPrefix) {
			if match != nil {
				return nil, fmt.Errorf("%w: job id prefix %q is ambiguous", domain.ErrInvalidInput, idOrPrefix)
			}
			match = &jobs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("job %q: %w", idOrPrefix, domain.ErrNotFound)
	}
	return match, nil
}

// List returns all persisted jobs.
func (m *Manager) List(ctx context.Context) ([]domain.CronJob, error) {
	return m.store.List(ctx)
}

// EnabledCount returns how many jobs are enabled.
func (m *Manager) EnabledCount(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if j.Enabled {
			n++
		}
	}
	return n, nil
}

// NextRun returns the next scheduled fire time of a job, if any.
func (m *Manager) NextRun(id string) *time.Time {
	return m.scheduler.NextRun(id)
}
