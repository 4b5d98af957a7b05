package cronjob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"vigil/internal/domain"
	"vigil/internal/infra/fileutil"
)

// FileStore implements domain.CronStore with JSON file persistence.
// The whole table is rewritten on every Save.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[string]domain.CronJob
}

var _ domain.CronStore = (*FileStore)(nil)

// NewFileStore creates a new file-backed cron store. An unreadable or
// corrupt jobs.json starts the table empty.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cronstore: create dir: %w", err)
	}

	s := &FileStore{
		dir:    dir,
		logger: logger,
		jobs:   make(map[string]domain.CronJob),
	}
	s.load()
	return s, nil
}

func (s *FileStore) Save(_ context.Context, job domain.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	return s.saveJobs()
}

func (s *FileStore) Get(_ context.Context, id string) (*domain.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("cronstore: job %q: %w", id, domain.ErrNotFound)
	}
	return &job, nil
}

// List returns jobs oldest first.
func (s *FileStore) List(_ context.Context) ([]domain.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

func (s *FileStore) sorted() []domain.CronJob {
	jobs := make([]domain.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// --- persistence ---

func (s *FileStore) jobsPath() string { return filepath.Join(s.dir, "jobs.json") }

func (s *FileStore) load() {
	data, err := os.ReadFile(s.jobsPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("jobs unreadable, starting empty", "path", s.jobsPath(), "error", err)
		}
		return
	}
	var jobs []domain.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.logger.Warn("jobs corrupt, starting empty", "path", s.jobsPath(), "error", err)
		return
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
}

func (s *FileStore) saveJobs() error {
	if err := fileutil.WriteJSON(s.jobsPath(), s.sorted()); err != nil {
		return fmt.Errorf("cronstore: %w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// StateStore implements domain.HeartbeatStore as heartbeat.json.
type StateStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ domain.HeartbeatStore = (*StateStore)(nil)

// NewStateStore creates a heartbeat state store under dir.
func NewStateStore(dir string, logger *slog.Logger) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("statestore: create dir: %w", err)
	}
	return &StateStore{path: filepath.Join(dir, "heartbeat.json"), logger: logger}, nil
}

// Load returns the persisted state, or the zero state if none is readable.
func (s *StateStore) Load(_ context.Context) (domain.HeartbeatState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

// Update applies fn to the current state and persists the result in one
// locked read-modify-write.
func (s *StateStore) Update(_ context.Context, fn func(*domain.HeartbeatState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	fn(&state)
	if err := fileutil.WriteJSON(s.path, state); err != nil {
		return fmt.Errorf("statestore: %w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *StateStore) read() domain.HeartbeatState {
	var state domain.HeartbeatState
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("heartbeat state unreadable, using default", "error", err)
		}
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("heartbeat state corrupt, using default", "error", err)
		return domain.HeartbeatState{}
	}
	return state
}
