package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vigil/internal/domain"
)

// Fixed replies.
const (
	ReplyUnauthorized       = "Unauthorized."
	ReplyFailure            = "Sorry, something went wrong while processing your message."
	ReplyHeartbeatTriggered = "Heartbeat triggered."
)

// JobService is the job table as seen by chat commands. *cronjob.Manager
// implements it.
type JobService interface {
	List(ctx context.Context) ([]domain.CronJob, error)
	EnabledCount(ctx context.Context) (int, error)
	SetEnabled(ctx context.Context, idOrPrefix string, enabled bool) (*domain.CronJob, error)
	NextRun(id string) *time.Time
}

// typingSender is implemented by messengers that can show a typing indicator.
type typingSender interface {
	SendTyping(ctx context.Context, recipient string) error
}

// RouterConfig wires a Router.
type RouterConfig struct {
	Runner               *TaskRunner
	Registry             *SessionRegistry
	History              domain.HistoryStore
	Jobs                 JobService
	Heartbeat            *Heartbeat
	TriggerHeartbeat     func() error
	Messenger            domain.Messenger
	AllowedConversations []string
	// BotUsername returns the bot's own name for /cmd@name addressing.
	BotUsername func() string
	Logger      *slog.Logger
}

// Router dispatches inbound messages: allow-list check, chat commands,
// and everything else through the task runner.
type Router struct {
	cfg     RouterConfig
	allowed map[string]bool
	logger  *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	allowed := make(map[string]bool, len(cfg.AllowedConversations))
	for _, id := range cfg.AllowedConversations {
		allowed[strings.TrimSpace(id)] = true
	}
	return &Router{cfg: cfg, allowed: allowed, logger: cfg.Logger}
}

// Handle is a domain.MessageHandler: it computes the reply and sends it.
// A failed send is logged and not retried.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) error {
	reply := r.Reply(ctx, msg)
	if reply == "" {
		return nil
	}
	if err := r.cfg.Messenger.SendText(ctx, msg.ConversationID, reply); err != nil {
		r.logger.Error("reply not delivered", "conversation_id", msg.ConversationID, "error", err)
		return err
	}
	return nil
}

// Reply returns the text to send back for msg, or "" for nothing.
func (r *Router) Reply(ctx context.Context, msg domain.InboundMessage) string {
	if !r.allowed[msg.ConversationID] {
		r.logger.Warn("unauthorized message", "conversation_id", msg.ConversationID, "sender", msg.SenderName)
		return ReplyUnauthorized
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "/") {
		if reply, ok := r.command(ctx, msg.ConversationID, text); ok {
			return reply
		}
	}

	if ts, ok := r.cfg.Messenger.(typingSender); ok {
		if err := ts.SendTyping(ctx, msg.ConversationID); err != nil {
			r.logger.Debug("typing indicator failed", "error", err)
		}
	}

	res, err := r.cfg.Runner.Run(ctx, Task{
		Prompt:         msg.Content,
		ConversationID: msg.ConversationID,
		Kind:           KindUser,
	})
	if err != nil {
		r.logger.Error("message handling failed",
			"conversation_id", msg.ConversationID,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		return ReplyFailure
	}
	return res.Text
}

// command handles a slash command. ok is false when text is addressed to
// another bot and should be ignored.
func (r *Router) command(ctx context.Context, conv, text string) (reply string, ok bool) {
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if r.cfg.BotUsername != nil {
			if own := r.cfg.BotUsername(); own != "" && !strings.EqualFold(own, target) {
				return "", true
			}
		}
	}

	switch name {
	case "reset":
		r.cfg.Registry.Clear(conv)
		r.logger.Info("session reset", "conversation_id", conv)
		return "Session reset. Your next message starts a new conversation.", true
	case "status":
		return r.status(ctx, conv), true
	case "heartbeat":
		if err := r.cfg.TriggerHeartbeat(); err != nil {
			r.logger.Warn("heartbeat trigger failed", "error", err)
			return "Heartbeat could not be triggered.", true
		}
		return ReplyHeartbeatTriggered, true
	case "jobs":
		return r.jobs(ctx), true
	case "enable", "disable":
		return r.toggle(ctx, name == "enable", args), true
	case "help", "start":
		return helpText, true
	default:
		return fmt.Sprintf("Unknown command /%s. Send /help for the list.", name), true
	}
}

const helpText = `Commands:
/status - session, last heartbeat and job summary
/reset - start a new agent session
/heartbeat - run the checklist evaluation now
/jobs - list scheduled jobs
/enable <id> - enable a job
/disable <id> - disable a job
Anything else is sent to the agent.`

func (r *Router) status(ctx context.Context, conv string) string {
	handle := r.cfg.Registry.Get(ctx, conv)

	last := "never"
	if r.cfg.Heartbeat != nil {
		if t := r.cfg.Heartbeat.LastRun(ctx); t != nil {
			last = t.Format(time.RFC3339)
		}
	}

	enabled, err := r.cfg.Jobs.EnabledCount(ctx)
	if err != nil {
		r.logger.Warn("job count failed", "error", err)
	}

	turns, err := r.cfg.History.Count(ctx)
	if err != nil {
		r.logger.Warn("history count failed", "error", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", handle.Short(8))
	fmt.Fprintf(&b, "Last heartbeat: %s\n", last)
	fmt.Fprintf(&b, "Enabled jobs: %d\n", enabled)
	fmt.Fprintf(&b, "History turns: %d", turns)
	return b.String()
}

func (r *Router) jobs(ctx context.Context) string {
	jobs, err := r.cfg.Jobs.List(ctx)
	if err != nil {
		r.logger.Error("list jobs failed", "error", err)
		return ReplyFailure
	}
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}

	var b strings.Builder
	for i, j := range jobs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
			if j.DisabledReason != "" {
				state += " (" + j.DisabledReason + ")"
			}
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", j.Name, shortID(j.ID), state)
		fmt.Fprintf(&b, "  trigger: %s", j.Trigger)
		if j.LastRunAt != nil {
			fmt.Fprintf(&b, "\n  last run: %s", j.LastRunAt.Format(time.RFC3339))
		}
		if next := r.cfg.Jobs.NextRun(j.ID); next != nil {
			fmt.Fprintf(&b, "\n  next run: %s", next.Format(time.RFC3339))
		}
	}
	return b.String()
}

func (r *Router) toggle(ctx context.Context, enable bool, args []string) string {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	if len(args) != 1 {
		return fmt.Sprintf("Usage: /%s <job id>", verb)
	}
	job, err := r.cfg.Jobs.SetEnabled(ctx, args[0], enable)
	if err != nil {
		switch domain.ErrorCodeOf(err) {
		case domain.CodeNotFound:
			return fmt.Sprintf("No job matches %q.", args[0])
		case domain.CodeInvalidInput:
			return fmt.Sprintf("Job id %q is ambiguous.", args[0])
		}
		r.logger.Error("toggle job failed", "job_id", args[0], "error", err)
		return ReplyFailure
	}
	return fmt.Sprintf("Job %s %sd.", job.Name, verb)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
