// Package channel implements domain.Messenger for chat transports.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vigil/internal/domain"
)

// telegramMaxMessage is the Bot API limit for one message, in characters.
const telegramMaxMessage = 4096

// TelegramOption configures the Telegram messenger.
type TelegramOption func(*Telegram)

// WithBaseURL points the messenger at a different Bot API endpoint.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithPollTimeout sets the long-polling timeout passed to getUpdates.
func WithPollTimeout(d time.Duration) TelegramOption {
	return func(t *Telegram) {
		if d > 0 {
			t.pollTimeout = d
		}
	}
}

// WithRetryDelay sets the pause after a failed getUpdates call.
func WithRetryDelay(d time.Duration) TelegramOption {
	return func(t *Telegram) { t.retryDelay = d }
}

// Telegram implements domain.Messenger for the Telegram Bot API via long-polling.
// Inbound messages for one chat are handled one at a time in arrival order;
// different chats are handled concurrently.
type Telegram struct {
	token       string
	logger      *slog.Logger
	client      *http.Client
	baseURL     string
	pollTimeout time.Duration
	retryDelay  time.Duration

	offset      int64
	botUsername string
	done        chan struct{}
	stopOnce    sync.Once
	queue       *serialDispatcher
}

var _ domain.Messenger = (*Telegram)(nil)

// NewTelegram creates a Telegram messenger.
func NewTelegram(token string, logger *slog.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:       token,
		logger:      logger,
		baseURL:     "https://api.telegram.org",
		pollTimeout: 30 * time.Second,
		retryDelay:  5 * time.Second,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	// The HTTP timeout must outlive the server-side long-poll.
	t.client = &http.Client{Timeout: t.pollTimeout + 30*time.Second}
	return t
}

// Name implements domain.Messenger.
func (t *Telegram) Name() string { return "telegram" }

// BotUsername is the bot's @username once Start has identified it.
func (t *Telegram) BotUsername() string { return t.botUsername }

// Start begins long-polling for updates. Non-blocking (starts in goroutine).
func (t *Telegram) Start(ctx context.Context, handler domain.MessageHandler) error {
	if me, err := t.getMe(ctx); err == nil {
		t.botUsername = me
		t.logger.Info("telegram bot identified", "username", me)
	} else {
		t.logger.Warn("telegram getMe failed", "error", err)
	}

	t.queue = newSerialDispatcher(func(msg domain.InboundMessage) {
		if err := handler(ctx, msg); err != nil {
			t.logger.Error("telegram handler error", "error", err, "conversation_id", msg.ConversationID)
		}
	})
	go t.pollLoop(ctx)
	t.logger.Info("telegram messenger started")
	return nil
}

// Stop signals the polling loop to stop and waits for in-flight handlers.
func (t *Telegram) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.done) })
	if t.queue == nil {
		return nil
	}
	return t.queue.wait(ctx)
}

// SendText delivers text, split into several messages when it exceeds the
// transport limit.
func (t *Telegram) SendText(ctx context.Context, recipient, text string) error {
	for _, part := range splitMessage(text, telegramMaxMessage) {
		if _, err := t.sendMessage(ctx, recipient, part); err != nil {
			return err
		}
	}
	return nil
}

// SendProgress sends a status message that can later be edited in place.
func (t *Telegram) SendProgress(ctx context.Context, recipient, text string) (domain.ProgressHandle, error) {
	id, err := t.sendMessage(ctx, recipient, truncateRunes(text, telegramMaxMessage))
	if err != nil {
		return "", err
	}
	return domain.ProgressHandle(strconv.FormatInt(id, 10)), nil
}

// UpdateProgress edits a status message created by SendProgress.
func (t *Telegram) UpdateProgress(ctx context.Context, recipient string, handle domain.ProgressHandle, text string) error {
	id, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad progress handle %q", domain.ErrInvalidInput, handle)
	}
	err = t.call(ctx, "editMessageText", telegramEditRequest{
		ChatID:    recipient,
		MessageID: id,
		Text:      truncateRunes(text, telegramMaxMessage),
	}, nil)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// SendTyping shows the typing indicator in the chat.
func (t *Telegram) SendTyping(ctx context.Context, recipient string) error {
	return t.call(ctx, "sendChatAction", telegramChatAction{ChatID: recipient, Action: "typing"}, nil)
}

func (t *Telegram) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-time.After(t.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
				continue
			}
			msg := domain.InboundMessage{
				ConversationID: strconv.FormatInt(u.Message.Chat.ID, 10),
				Content:        u.Message.Text,
			}
			if u.Message.From != nil {
				name := u.Message.From.FirstName
				if u.Message.From.LastName != "" {
					name += " " + u.Message.From.LastName
				}
				msg.SenderName = name
			}
			t.queue.enqueue(msg)
		}
	}
}

// --- Telegram Bot API types ---

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from,omitempty"`
	Chat      telegramChat  `json:"chat"`
	Text      string        `json:"text"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramSendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramEditRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type telegramChatAction struct {
	ChatID string `json:"chat_id"`
	Action string `json:"action"`
}

// telegramResponse is the Bot API envelope.
type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *Telegram) getMe(ctx context.Context) (string, error) {
	var me telegramUser
	if err := t.call(ctx, "getMe", nil, &me); err != nil {
		return "", err
	}
	if me.Username == "" {
		return "", fmt.Errorf("getMe returned no username")
	}
	return me.Username, nil
}

func (t *Telegram) getUpdates(ctx context.Context) ([]telegramUpdate, error) {
	var updates []telegramUpdate
	req := map[string]any{
		"offset":          t.offset,
		"timeout":         int(t.pollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	if err := t.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) (int64, error) {
	var sent telegramMessage
	if err := t.call(ctx, "sendMessage", telegramSendRequest{ChatID: chatID, Text: text}, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// call POSTs payload as JSON to the named Bot API method and decodes the
// result into out when non-nil. Failures wrap domain.ErrDelivery.
func (t *Telegram) call(ctx context.Context, method string, payload, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)

	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: telegram %s: %v", domain.ErrDelivery, method, redact(err.Error(), t.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("%w: telegram %s: read response: %v", domain.ErrDelivery, method, err)
	}

	var env telegramResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: telegram %s: status %d: unmarshal: %v", domain.ErrDelivery, method, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.OK {
		return fmt.Errorf("%w: telegram %s error %d: %s", domain.ErrDelivery, method, resp.StatusCode, env.Description)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%w: telegram %s: decode result: %v", domain.ErrDelivery, method, err)
		}
	}
	return nil
}

// redact strips the bot token from transport errors, which embed the URL.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
