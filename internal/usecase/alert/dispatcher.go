// Package alert forwards the alert mailbox to the designated recipient.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vigil/internal/domain"
)

// Sender delivers text to a recipient. domain.Messenger satisfies it.
type Sender interface {
	SendText(ctx context.Context, recipient, text string) error
}

// Dispatcher drains the mailbox on each sweep.
type Dispatcher struct {
	mailbox   domain.Mailbox
	sender    Sender
	recipient string
	logger    *slog.Logger

	mu sync.Mutex // one sweep at a time
}

// NewDispatcher creates a dispatcher delivering to recipient.
func NewDispatcher(mailbox domain.Mailbox, sender Sender, recipient string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		mailbox:   mailbox,
		sender:    sender,
		recipient: recipient,
		logger:    logger,
	}
}

// Sweep claims the mailbox content and delivers it as one message. On a
// delivery failure the content is kept for the next sweep.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	content, err := d.mailbox.Claim(ctx)
	if err != nil {
		d.logger.Error("mailbox claim failed", "path", d.mailbox.Path(), "error", err)
		return err
	}
	if content == "" {
		return nil
	}

	if err := d.sender.SendText(ctx, d.recipient, content); err != nil {
		if relErr := d.mailbox.Release(ctx); relErr != nil {
			d.logger.Error("mailbox release failed", "error", relErr)
		}
		d.logger.Warn("alert delivery failed, will retry next sweep",
			"recipient", d.recipient, "bytes", len(content), "error", err)
		return fmt.Errorf("alert sweep: %w: %v", domain.ErrDelivery, err)
	}

	if err := d.mailbox.Ack(ctx); err != nil {
		// The message went out; a failed ack may resend it next sweep.
		d.logger.Error("mailbox ack failed after delivery", "error", err)
		return err
	}
	d.logger.Info("alert delivered", "recipient", d.recipient, "bytes", len(content))
	return nil
}
