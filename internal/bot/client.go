package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

var allowedUpdates = tgbot.AllowedUpdates{
	"message",
	"callback_query",
}

// Client owns the long-polling connection to Telegram.
type Client struct {
	bot    *tgbot.Bot
	logger *zap.Logger
}

// NewClient builds the Telegram client. handler receives every update; it may be
// bound after construction since the gateway needs the client first.
func NewClient(token string, pollTimeout time.Duration, handler tgbot.HandlerFunc, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	b, err := tgbot.New(token,
		tgbot.WithAllowedUpdates(allowedUpdates),
		tgbot.WithHTTPClient(pollTimeout, &http.Client{Timeout: pollTimeout + 10*time.Second}),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update == nil {
				return
			}
			handler(ctx, b, update)
		}),
		tgbot.WithErrorsHandler(func(err error) {
			if err != nil {
				logger.Error("telegram polling error", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	return &Client{bot: b, logger: logger}, nil
}

// Bot exposes the underlying API client for the outbound gateway.
func (c *Client) Bot() *tgbot.Bot { return c.bot }

// Start receives updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.logger.Info("starting telegram long polling", zap.Strings("allowed_updates", allowedUpdates))
	c.bot.Start(ctx)
	c.logger.Info("telegram polling stopped")
}
