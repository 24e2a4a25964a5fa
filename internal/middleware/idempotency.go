package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/idempotency"
)

// Idempotency drops updates whose key was already seen within ttl.
// Guard failures let the update through.
func Idempotency(guard idempotency.Guard, ttl time.Duration, log *slog.Logger) telebot.MiddlewareFunc {
	if guard == nil {
		return func(next telebot.HandlerFunc) telebot.HandlerFunc {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			key := UpdateKey(c)
			if key == "" {
				return next(c)
			}

			first, err := guard.Claim(context.Background(), key, ttl)
			if err != nil {
				log.Warn("update guard unavailable", slog.String("key", key), slog.Any("error", err))
				return next(c)
			}
			if !first {
				log.Info("duplicate update dropped", slog.String("key", key))
				return nil
			}

			return next(c)
		}
	}
}

// UpdateKey identifies an update across redeliveries.
func UpdateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if cb := c.Callback(); cb != nil {
		if cb.ID != "" {
			return fmt.Sprintf("cb:%s", cb.ID)
		}

		if cb.Message != nil {
			chatID := int64(0)
			if cb.Message.Chat != nil {
				chatID = cb.Message.Chat.ID
			}
			return fmt.Sprintf("cb-msg:%d:%d", chatID, cb.Message.ID)
		}
	}

	if msg := c.Message(); msg != nil {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		if msg.ID != 0 {
			return fmt.Sprintf("msg:%d:%d", chatID, msg.ID)
		}
	}

	return ""
}
