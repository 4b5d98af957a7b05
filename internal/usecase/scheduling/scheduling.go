// Package scheduling owns every time-based trigger: fixed-interval entries
// (heartbeat, alert sweep) and one cron entry per materialized job.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vigil/internal/domain"
)

// cronParser accepts the standard five-field syntax plus descriptors (@daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Func is the work a scheduled entry performs.
type Func func(ctx context.Context) error

// Scheduler runs entries on a single cron.Cron. Every entry is wrapped with
// Recover and SkipIfStillRunning, so a slow run is never overlapped by its
// own next tick. Runs get no deadline of their own; they inherit the
// scheduler context, which Stop cancels.
type Scheduler struct {
	cron   *cron.Cron
	chain  cron.Chain
	logger *slog.Logger

	mu        sync.Mutex
	intervals map[string]cron.Job // name → wrapped job, for RunNow
	jobs      map[string]cron.EntryID
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:      cron.New(cron.WithParser(cronParser), cron.WithLogger(cl)),
		chain:     cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		logger:    logger,
		intervals: make(map[string]cron.Job),
		jobs:      make(map[string]cron.EntryID),
	}
}

// ParseCron validates a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", domain.ErrInvalidTrigger)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTrigger, expr, err)
	}
	return sched, nil
}

// AddInterval registers a named entry that fires every d.
func (s *Scheduler) AddInterval(name string, d time.Duration, fn Func) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: interval for %q must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intervals[name]; exists {
		return fmt.Errorf("scheduler: interval %q already registered", name)
	}
	job := s.wrap("interval", name, fn)
	s.cron.Schedule(&constantDelay{delay: d}, job)
	s.intervals[name] = job
	s.logger.Info("interval added", "name", name, "every", d)
	return nil
}

// RunNow fires a registered interval entry immediately in the background.
// If the entry is already running, the extra run is skipped.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.intervals[name]
	started := s.started
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("scheduler: %w: interval %q", domain.ErrNotFound, name)
	}
	if !started {
		return fmt.Errorf("scheduler: not running")
	}
	go job.Run()
	return nil
}

// AddJob schedules fn under id using a cron expression.
func (s *Scheduler) AddJob(id, expr string, fn Func) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("scheduler: job %q already scheduled", id)
	}
	s.jobs[id] = s.cron.Schedule(sched, s.wrap("job", id, fn))
	s.logger.Info("job scheduled", "job_id", id, "trigger", expr)
	return nil
}

// RemoveJob unschedules id. It reports whether the job was scheduled.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.jobs, id)
	s.logger.Info("job unscheduled", "job_id", id)
	return true
}

// HasJob reports whether id is scheduled.
func (s *Scheduler) HasJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// NextRun returns the next run time for a job, or nil if it is not
// scheduled or the scheduler has not started.
func (s *Scheduler) NextRun(id string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) wrap(kind, name string, fn Func) cron.Job {
	logger := s.logger
	return s.chain.Then(cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		running := s.started
		s.mu.Unlock()

		if !running {
			logger.Debug("scheduler stopped, skipping run", "kind", kind, "name", name)
			return
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			logger.Warn("scheduled run failed",
				"kind", kind,
				"name", name,
				"error", err,
				"duration", time.Since(start))
			return
		}
		logger.Debug("scheduled run completed",
			"kind", kind,
			"name", name,
			"duration", time.Since(start))
	}))
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// cronLogger routes robfig/cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
