package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/ratelimit"
	"github.com/Proton-105/claim-bot/pkg/metrics"
)

// RateLimitMiddleware enforces per-user rate limits for incoming Telegram updates.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
	now     func() time.Time
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
		now:     time.Now,
	}
}

// Handle rejects updates over the per-user limit with a rate limit AppError.
// Limiter failures let the update through.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if m.limiter == nil || !m.rules.Enabled() {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil || m.rules.IsWhitelisted(sender.ID) {
			return next(c)
		}

		userID := sender.ID
		limit, window, err := m.rules.PerUser()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}

		result, err := m.limiter.Check(context.Background(), fmt.Sprintf("user:%d", userID), limit, window)
		switch {
		case errors.Is(err, ratelimit.ErrLimitExceeded):
			metrics.RecordRateLimitRejection("per_user")
			m.log.Warn("rate limit exceeded", slog.Int64("user_id", userID))
			return apperrors.NewRateLimitError(result.RetryAfter(m.now()))
		case err != nil:
			m.log.Warn("rate limiter error", slog.Int64("user_id", userID), slog.Any("error", err))
		}

		return next(c)
	}
}
