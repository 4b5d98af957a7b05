package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vigil/internal/domain"
)

// DefaultProgressWindow is the minimum spacing between progress notifications.
const DefaultProgressWindow = 5 * time.Second

// ProgressNotifier shows an in-place status message. domain.Messenger
// satisfies it.
type ProgressNotifier interface {
	SendProgress(ctx context.Context, recipient, text string) (domain.ProgressHandle, error)
	UpdateProgress(ctx context.Context, recipient string, handle domain.ProgressHandle, text string) error
}

// progressReporter coalesces tool activity into at most one notification
// per window. Activity seen inside a window is shown when the window ends.
type progressReporter struct {
	ctx       context.Context
	notifier  ProgressNotifier
	recipient string
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu      sync.Mutex
	handle  domain.ProgressHandle
	failed  bool
	last    string
	shown   string
	calls   int
	timer   *time.Timer
	pending *rate.Reservation
	due     time.Time
	stopped bool
}

func newProgressReporter(ctx context.Context, notifier ProgressNotifier, recipient string, window time.Duration, logger *slog.Logger) *progressReporter {
	if window <= 0 {
		window = DefaultProgressWindow
	}
	return &progressReporter{
		ctx:       ctx,
		notifier:  notifier,
		recipient: recipient,
		limiter:   rate.NewLimiter(rate.Every(window), 1),
		logger:    logger,
	}
}

// Observe records a tool invocation.
func (p *progressReporter) Observe(tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.failed {
		return
	}
	p.calls++
	p.last = tool
	if p.timer != nil {
		return // a flush is already due
	}

	r := p.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		p.pending = r
		p.due = time.Now().Add(d)
		p.timer = time.AfterFunc(d, p.flush)
		return
	}
	p.publishLocked()
}

func (p *progressReporter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	p.pending = nil
	if p.stopped {
		return
	}
	p.publishLocked()
}

// Finish stops the reporter. A pending update is shown only if its window
// has already ended; otherwise it is dropped and the reply follows.
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	if p.timer == nil {
		return
	}
	p.timer.Stop()
	p.timer = nil
	if time.Now().Before(p.due) {
		p.pending.Cancel()
	} else if p.handle != "" && !p.failed {
		p.publishLocked()
	}
	p.pending = nil
}

func (p *progressReporter) publishLocked() {
	text := progressText(p.last, p.calls)
	if text == p.shown {
		return
	}

	if p.handle == "" {
		h, err := p.notifier.SendProgress(p.ctx, p.recipient, text)
		if err != nil {
			// Progress is cosmetic; stop trying for this call.
			p.failed = true
			p.logger.Debug("progress message not sent", "conversation_id", p.recipient, "error", err)
			return
		}
		p.handle = h
		p.shown = text
		return
	}

	if err := p.notifier.UpdateProgress(p.ctx, p.recipient, p.handle, text); err != nil {
		p.logger.Debug("progress update failed", "conversation_id", p.recipient, "error", err)
		return
	}
	p.shown = text
}

func progressText(tool string, calls int) string {
	if calls == 1 {
		return fmt.Sprintf("Working: %s", tool)
	}
	return fmt.Sprintf("Working: %s (%d tool calls)", tool, calls)
}
