// ABOUTME: Webhook update handling: auth, dedupe, commands, and prompt relay.
// ABOUTME: Bridges Telegram messages into agent exchanges and streams replies back.

package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/herald-gateway/internal/config"
	"github.com/2389/herald-gateway/internal/dedupe"
	"github.com/2389/herald-gateway/internal/executor"
	"github.com/2389/herald-gateway/internal/format"
	"github.com/2389/herald-gateway/internal/history"
)

// typingRefresh is how often the typing indicator is re-sent during a long
// exchange; Telegram expires it after about five seconds.
const typingRefresh = 4 * time.Second

const greeting = "Hi! Send me a message and I'll pass it to the agent. " +
	"Use /reset to start a fresh conversation."

// PromptExecutor runs prompts against per-chat agent sessions.
type PromptExecutor interface {
	Execute(ctx context.Context, prompt string, chatID int64, onPartial executor.PartialFunc) executor.Result
	Reset(ctx context.Context, chatID int64)
}

// Transcript records exchanged messages.
type Transcript interface {
	SaveMessage(ctx context.Context, chatID int64, role, content string) error
}

// Handler processes inbound Telegram updates.
type Handler struct {
	exec    PromptExecutor
	tg      Sender
	history Transcript
	seen    *dedupe.Tracker
	allowed map[int64]bool
	logger  *slog.Logger
}

func NewHandler(cfg config.TelegramConfig, exec PromptExecutor, tg Sender, transcripts Transcript, seen *dedupe.Tracker) *Handler {
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = true
	}

	return &Handler{
		exec:    exec,
		tg:      tg,
		history: transcripts,
		seen:    seen,
		allowed: allowed,
		logger:  slog.Default().With("component", "webhook"),
	}
}

// Middleware drops duplicate and unauthorized updates before they reach the
// message handler. An empty allow-list rejects everyone; the gateway must
// never fall open when the operator forgets to configure users.
func (h *Handler) Middleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil || update.Message == nil || update.Message.From == nil {
			return
		}
		if h.seen != nil && h.seen.Seen(update.ID) {
			h.logger.Debug("duplicate update dropped", "update_id", update.ID)
			return
		}
		if !h.allowed[update.Message.From.ID] {
			h.logger.Warn("unauthorized message dropped",
				"user_id", update.Message.From.ID,
				"chat_id", update.Message.Chat.ID)
			return
		}
		next(ctx, b, update)
	}
}

// Handle is the default update handler: commands are dispatched, everything
// else becomes a prompt for the chat's agent session.
func (h *Handler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, chatID, text)
		return
	}
	h.handlePrompt(ctx, chatID, text)
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, command string) {
	switch strings.Fields(command)[0] {
	case "/start":
		h.send(ctx, chatID, format.Message{Text: greeting})

	case "/reset":
		h.exec.Reset(ctx, chatID)
		h.logger.Info("conversation reset", "chat_id", chatID)
		h.send(ctx, chatID, format.Message{Text: "Conversation reset. The next message starts fresh."})

	default:
		h.send(ctx, chatID, format.Message{Text: "Unknown command. I know /start and /reset."})
	}
}

func (h *Handler) handlePrompt(ctx context.Context, chatID int64, prompt string) {
	h.logger.Info("prompt received", "chat_id", chatID, "chars", len(prompt))
	h.record(ctx, chatID, history.RoleUser, prompt)

	done := make(chan struct{})
	go h.typingLoop(ctx, chatID, done)

	res := h.exec.Execute(ctx, prompt, chatID, func(ctx context.Context, partial string) error {
		return h.deliver(ctx, chatID, partial)
	})
	close(done)

	if !res.Success {
		h.logger.Error("exchange failed", "chat_id", chatID, "error", res.Error)
		h.send(ctx, chatID, format.RenderError(res.Error))
		return
	}

	h.record(ctx, chatID, history.RoleAssistant, res.Output)
	if err := h.deliver(ctx, chatID, res.Output); err != nil {
		h.logger.Error("reply delivery failed", "chat_id", chatID, "error", err)
	}
}

// typingLoop keeps the typing indicator alive until the exchange finishes.
func (h *Handler) typingLoop(ctx context.Context, chatID int64, done <-chan struct{}) {
	h.tg.SendTyping(ctx, chatID)

	ticker := time.NewTicker(typingRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tg.SendTyping(ctx, chatID)
		}
	}
}

// deliver renders agent markdown and sends every chunk in order.
func (h *Handler) deliver(ctx context.Context, chatID int64, text string) error {
	for _, msg := range format.Render(text) {
		if err := h.tg.SendMessage(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) send(ctx context.Context, chatID int64, msg format.Message) {
	if err := h.tg.SendMessage(ctx, chatID, msg); err != nil {
		h.logger.Error("send failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) record(ctx context.Context, chatID int64, role, content string) {
	if h.history == nil {
		return
	}
	if err := h.history.SaveMessage(ctx, chatID, role, content); err != nil {
		h.logger.Warn("transcript write failed", "chat_id", chatID, "error", err)
	}
}
