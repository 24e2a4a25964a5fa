// Package bot adapts the Telegram Bot API to the conversation layer.
package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	errors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/pkg/config"
)

// Bot wraps telebot.Bot with the outbound sink and inbound router.
type Bot struct {
	telebot *telebot.Bot
	sink    *Sink
	router  *Router
	log     *slog.Logger
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.BotConfig, log *slog.Logger) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Token,
		OnError: func(err error, c telebot.Context) {
			attrs := []any{slog.Any("error", err)}
			if c != nil && c.Sender() != nil {
				attrs = append(attrs, slog.Int64("user_id", c.Sender().ID))
			}
			log.Error("telegram update failed", attrs...)
		},
	}

	if cfg.Mode == "webhook" {
		webhook := &telebot.Webhook{Listen: cfg.WebhookListen}
		if cfg.WebhookURL != "" {
			webhook.Endpoint = &telebot.WebhookEndpoint{PublicURL: cfg.WebhookURL}
		}
		settings.Poller = webhook
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return &Bot{
		telebot: tb,
		sink:    NewSink(tb, log),
		log:     log,
	}, nil
}

// Sink returns the outbound message sink.
func (b *Bot) Sink() *Sink {
	return b.sink
}

// Mount routes text and callback updates to d. Recovery, error reporting
// and logging always run first; extra middlewares follow in order.
func (b *Bot) Mount(d Dispatcher, errHandler *errors.Handler, extra ...telebot.MiddlewareFunc) {
	router := NewRouter(d, b.sink, b.log)
	router.Use(RecoveryMiddleware(b.log, errHandler))
	router.Use(ErrorHandlingMiddleware(errHandler))
	router.Use(LoggingMiddleware(b.log))
	for _, mw := range extra {
		router.Use(mw)
	}
	b.router = router

	b.telebot.Handle(telebot.OnText, router.Route)
	b.telebot.Handle(telebot.OnCallback, router.Route)
}

// Start runs the telegram bot event loop. It blocks until Stop is called.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.log.Info("telegram bot started", slog.String("username", b.telebot.Me.Username))
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}
