package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vigil/internal/adapter/history"
	"vigil/internal/domain"
)

// --- Shared test doubles ---

// fakeAgent replays a script per call. When gate is non-nil every call
// waits for it to close before emitting.
type fakeAgent struct {
	mu        sync.Mutex
	calls     []domain.AgentRequest
	script    func(n int, req domain.AgentRequest) []domain.StreamElement
	invokeErr error
	gate      chan struct{}
}

func (a *fakeAgent) Invoke(_ context.Context, req domain.AgentRequest) (<-chan domain.StreamElement, error) {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, req)
	a.mu.Unlock()

	if a.invokeErr != nil {
		return nil, a.invokeErr
	}
	var els []domain.StreamElement
	if a.script != nil {
		els = a.script(n, req)
	}
	ch := make(chan domain.StreamElement, len(els))
	go func() {
		defer close(ch)
		if a.gate != nil {
			<-a.gate
		}
		for _, el := range els {
			ch <- el
		}
	}()
	return ch, nil
}

func (a *fakeAgent) Name() string { return "fake" }

func (a *fakeAgent) Calls() []domain.AgentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AgentRequest(nil), a.calls...)
}

func textAndSession(text, session string) func(int, domain.AgentRequest) []domain.StreamElement {
	return func(int, domain.AgentRequest) []domain.StreamElement {
		return []domain.StreamElement{
			{Kind: domain.ElementText, Text: text},
			{Kind: domain.ElementSessionHandle, Session: domain.SessionHandle(session)},
		}
	}
}

type sentText struct {
	Recipient string
	Text      string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentText
	progress []string
	updates  []string
	typing   int
	sendErr  error
}

func (m *fakeMessenger) Start(context.Context, domain.MessageHandler) error { return nil }
func (m *fakeMessenger) Stop(context.Context) error                         { return nil }
func (m *fakeMessenger) Name() string                                       { return "fake" }

func (m *fakeMessenger) SendText(_ context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentText{Recipient: recipient, Text: text})
	return nil
}

func (m *fakeMessenger) SendProgress(_ context.Context, _, text string) (domain.ProgressHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, text)
	return domain.ProgressHandle(fmt.Sprintf("p%d", len(m.progress))), nil
}

func (m *fakeMessenger) UpdateProgress(_ context.Context, _ string, _ domain.ProgressHandle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, text)
	return nil
}

func (m *fakeMessenger) SendTyping(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *fakeMessenger) Sent() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}

func (m *fakeMessenger) Updates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.updates...)
}

func (m *fakeMessenger) Progress() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.progress...)
}

type fakeJobs struct {
	jobs    []domain.CronJob
	toggled map[string]bool
}

func (f *fakeJobs) List(context.Context) ([]domain.CronJob, error) { return f.jobs, nil }

func (f *fakeJobs) EnabledCount(context.Context) (int, error) {
	n := 0
	for _, j := range f.jobs {
		if j.Enabled {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) SetEnabled(_ context.Context, id string, enabled bool) (*domain.CronJob, error) {
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			f.jobs[i].Enabled = enabled
			if f.toggled == nil {
				f.toggled = make(map[string]bool)
			}
			f.toggled[id] = enabled
			return &f.jobs[i], nil
		}
	}
	return nil, fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
}

func (f *fakeJobs) NextRun(string) *time.Time { return nil }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHistory(t *testing.T) *history.FileStore {
	t.Helper()
	h, err := history.NewFileStore(filepath.Join(t.TempDir(), "history.json"), 100, newTestLogger())
	require.NoError(t, err)
	return h
}

// harness wires a router over real history and registry with fakes at the edges.
type harness struct {
	agent     *fakeAgent
	messenger *fakeMessenger
	history   *history.FileStore
	registry  *SessionRegistry
	locker    *SessionLocker
	runner    *TaskRunner
	jobs      *fakeJobs
	router    *Router
	triggered int
}

func newHarness(t *testing.T, agent *fakeAgent) *harness {
	t.Helper()
	h := &harness{
		agent:     agent,
		messenger: &fakeMessenger{},
		history:   newTestHistory(t),
		locker:    NewSessionLocker(),
		jobs:      &fakeJobs{},
	}
	h.registry = NewSessionRegistry(h.history, newTestLogger())
	h.runner = NewTaskRunner(TaskRunnerConfig{
		Agent:    agent,
		History:  h.history,
		Registry: h.registry,
		Locker:   h.locker,
		Progress: h.messenger,
		Logger:   newTestLogger(),
	})
	h.router = NewRouter(RouterConfig{
		Runner:   h.runner,
		Registry: h.registry,
		History:  h.history,
		Jobs:     h.jobs,
		TriggerHeartbeat: func() error {
			h.triggered++
			return nil
		},
		Messenger:            h.messenger,
		AllowedConversations: []string{"42"},
		BotUsername:          func() string { return "vigil_bot" },
		Logger:               newTestLogger(),
	})
	return h
}
