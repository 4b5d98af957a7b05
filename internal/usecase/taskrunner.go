package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"vigil/internal/domain"
	"vigil/internal/infra/tracer"
)

// DefaultReply is recorded when the agent finishes without any text.
const DefaultReply = "Done."

// TaskKind labels what triggered a run.
type TaskKind string

const (
	KindUser      TaskKind = "user"
	KindHeartbeat TaskKind = "heartbeat"
	KindCron      TaskKind = "cron"
)

// Task is one agent invocation request. ConversationID empty means a
// system-level run: no serialization, no history, no progress.
type Task struct {
	Prompt         string
	ConversationID string
	// SessionHandle continues a specific session. When empty and the task is
	// conversation-scoped, the registry's handle is used.
	SessionHandle domain.SessionHandle
	Kind          TaskKind
	Label         string
}

// Result is the aggregated outcome of a run.
type Result struct {
	Text          string
	SessionHandle domain.SessionHandle
	ToolCalls     int
}

// TaskRunnerConfig wires a TaskRunner.
type TaskRunnerConfig struct {
	Agent          domain.AgentRunner
	History        domain.HistoryStore
	Registry       *SessionRegistry
	Locker         *SessionLocker
	Progress       ProgressNotifier // nil disables progress messages
	ProgressWindow time.Duration
	WorkingDir     string
	Capabilities   []domain.Capability
	Logger         *slog.Logger
}

// TaskRunner is the single path to the agent runner.
type TaskRunner struct {
	cfg    TaskRunnerConfig
	logger *slog.Logger
}

// NewTaskRunner creates a task runner.
func NewTaskRunner(cfg TaskRunnerConfig) *TaskRunner {
	if cfg.Locker == nil {
		cfg.Locker = NewSessionLocker()
	}
	if cfg.ProgressWindow <= 0 {
		cfg.ProgressWindow = DefaultProgressWindow
	}
	return &TaskRunner{cfg: cfg, logger: cfg.Logger}
}

// Run invokes the agent for task and aggregates its stream. Calls for the
// same conversation are serialized in arrival order.
func (tr *TaskRunner) Run(ctx context.Context, task Task) (res Result, err error) {
	if task.Kind == "" {
		task.Kind = KindUser
	}
	ctx, span := tracer.StartSpan(ctx, "taskrunner.run",
		trace.WithAttributes(
			tracer.StringAttr("task.kind", string(task.Kind)),
			tracer.StringAttr("conversation.id", task.ConversationID),
		),
	)
	defer func() {
		span.SetAttributes(tracer.IntAttr("agent.tool_calls", res.ToolCalls))
		tracer.End(span, err)
	}()

	conv := task.ConversationID
	if conv != "" {
		unlock, lockErr := tr.cfg.Locker.Lock(ctx, conv)
		if lockErr != nil {
			return Result{}, lockErr
		}
		defer unlock()
	}

	prior := task.SessionHandle
	if prior == "" && conv != "" && tr.cfg.Registry != nil {
		prior = tr.cfg.Registry.Get(ctx, conv)
	}

	start := time.Now()
	res, err = tr.stream(ctx, task, prior)
	if err != nil {
		tr.logger.Warn("agent run failed",
			"kind", task.Kind,
			"conversation_id", conv,
			"session", prior.Short(8),
			"duration", time.Since(start),
			"error", err,
		)
		return res, err
	}

	tr.logger.Info("agent run completed",
		"kind", task.Kind,
		"conversation_id", conv,
		"session", res.SessionHandle.Short(8),
		"tool_calls", res.ToolCalls,
		"duration", time.Since(start),
	)

	if conv == "" {
		return res, nil
	}

	if res.SessionHandle != prior && res.SessionHandle != "" && tr.cfg.Registry != nil {
		tr.cfg.Registry.Set(conv, res.SessionHandle)
	}
	text := res.Text
	if strings.TrimSpace(text) == "" {
		text = DefaultReply
		res.Text = text
	}
	tr.appendTurn(ctx, domain.NewTurn(domain.RoleUser, task.Prompt, conv, prior))
	tr.appendTurn(ctx, domain.NewTurn(domain.RoleAssistant, text, conv, res.SessionHandle))
	return res, nil
}

// stream opens the agent call and consumes it to the end.
func (tr *TaskRunner) stream(ctx context.Context, task Task, prior domain.SessionHandle) (Result, error) {
	res := Result{SessionHandle: prior}

	elements, err := tr.cfg.Agent.Invoke(ctx, domain.AgentRequest{
		Prompt:        task.Prompt,
		SessionHandle: prior,
		WorkingDir:    tr.cfg.WorkingDir,
		Capabilities:  tr.cfg.Capabilities,
	})
	if err != nil {
		return res, fmt.Errorf("invoke %s: %w", tr.cfg.Agent.Name(), err)
	}

	var progress *progressReporter
	if task.ConversationID != "" && tr.cfg.Progress != nil {
		progress = newProgressReporter(ctx, tr.cfg.Progress, task.ConversationID, tr.cfg.ProgressWindow, tr.logger)
		defer progress.Finish()
	}

	var (
		text      strings.Builder
		streamErr error
	)
	for el := range elements {
		switch el.Kind {
		case domain.ElementText:
			text.WriteString(el.Text)
		case domain.ElementToolStarted:
			res.ToolCalls++
			if progress != nil {
				progress.Observe(el.Tool)
			}
		case domain.ElementSessionHandle:
			if el.Session != "" {
				res.SessionHandle = el.Session
			}
		case domain.ElementError:
			streamErr = el.Err
		default:
			streamErr = fmt.Errorf("%w: unknown stream element %v", domain.ErrAgentInvocation, el.Kind)
		}
	}
	res.Text = text.String()

	if streamErr != nil {
		if !errors.Is(streamErr, domain.ErrAgentInvocation) && !errors.Is(streamErr, domain.ErrCircuitOpen) {
			streamErr = fmt.Errorf("%w: %v", domain.ErrAgentInvocation, streamErr)
		}
		return res, streamErr
	}
	return res, nil
}

func (tr *TaskRunner) appendTurn(ctx context.Context, turn domain.Turn) {
	if tr.cfg.History == nil {
		return
	}
	if err := tr.cfg.History.Append(ctx, turn); err != nil {
		tr.logger.Error("turn not persisted", "conversation_id", turn.ConversationID, "role", turn.Role, "error", err)
	}
}

// RunSystem runs prompt as a system-level task. The reply text is only
// logged; findings reach the user through the alert mailbox.
func (tr *TaskRunner) RunSystem(ctx context.Context, label, prompt string) error {
	kind := KindCron
	if label == string(KindHeartbeat) {
		kind = KindHeartbeat
	}
	res, err := tr.Run(ctx, Task{Prompt: prompt, Kind: kind, Label: label})
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Text) == "" {
		tr.logger.Debug("system run produced no text", "label", label)
		return nil
	}
	tr.logger.Debug("system run reply", "label", label, "text", truncate(res.Text, 200))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
