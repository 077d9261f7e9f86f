// ABOUTME: Telegram bot client wrapper with outbound rate limiting.
// ABOUTME: Sends rendered messages and exposes the webhook handler.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/2389/herald-gateway/internal/config"
	"github.com/2389/herald-gateway/internal/format"
)

// Sender is the outbound surface used by the webhook handler and heartbeat
// delivery.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg format.Message) error
	SendTyping(ctx context.Context, chatID int64)
}

// Telegram wraps the bot client with a send rate limiter. Telegram throttles
// bots that send too fast; the limiter keeps multi-chunk replies under the
// per-chat ceiling.
type Telegram struct {
	bot     *bot.Bot
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTelegram builds the bot client in webhook mode. Update handling options
// (default handler, middlewares) come from the caller.
func NewTelegram(cfg config.TelegramConfig, opts ...bot.Option) (*Telegram, error) {
	opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst),
		logger:  slog.Default().With("component", "telegram"),
	}, nil
}

// WebhookHandler returns the HTTP handler Telegram posts updates to.
func (t *Telegram) WebhookHandler() http.Handler {
	return t.bot.WebhookHandler()
}

// StartWebhook processes queued webhook updates. Blocks until ctx is
// canceled.
func (t *Telegram) StartWebhook(ctx context.Context) {
	t.bot.StartWebhook(ctx)
}

// RegisterWebhook tells Telegram where to deliver updates.
func (t *Telegram) RegisterWebhook(ctx context.Context, url, secret string) error {
	ok, err := t.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         url,
		SecretToken: secret,
	})
	if err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("setting webhook: telegram rejected %s", url)
	}
	t.logger.Info("webhook registered", "url", url)
	return nil
}

// SendMessage delivers one rendered chunk, waiting on the rate limiter
// first. HTML messages that Telegram's parser rejects are retried in plain
// mode so content is never silently lost.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, msg format.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	}
	if msg.HTML {
		params.ParseMode = models.ParseModeHTML
	}

	_, err := t.bot.SendMessage(ctx, params)
	if err != nil && msg.HTML {
		t.logger.Warn("html send failed, retrying plain", "chat_id", chatID, "error", err)
		_, err = t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   msg.Text,
		})
	}
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendTyping shows the typing indicator. Failures are only logged; the
// indicator is cosmetic.
func (t *Telegram) SendTyping(ctx context.Context, chatID int64) {
	_, err := t.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil {
		t.logger.Debug("typing indicator failed", "chat_id", chatID, "error", err)
	}
}
