package domain

import "context"

// InboundMessage is a text message received from the messenger.
type InboundMessage struct {
	ConversationID string
	Content        string
	SenderName     string
}

// MessageHandler is the callback the messenger invokes for inbound text.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// ProgressHandle identifies an in-place status message.
type ProgressHandle string

// Messenger is the chat transport.
type Messenger interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, recipient, text string) error
	SendProgress(ctx context.Context, recipient, text string) (ProgressHandle, error)
	UpdateProgress(ctx context.Context, recipient string, handle ProgressHandle, text string) error
	Name() string
}

// Mailbox is the append-only alert side channel. Claim moves the current
// content aside for delivery; Ack discards the claimed copy and Release
// keeps it for the next claim.
type Mailbox interface {
	Append(ctx context.Context, text string) error
	Claim(ctx context.Context) (string, error)
	Ack(ctx context.Context) error
	Release(ctx context.Context) error
	Path() string
}
