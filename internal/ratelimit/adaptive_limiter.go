package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitBackendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_backend_errors_total",
		Help: "Total number of primary backend errors that forced the in-memory fallback.",
	})
)

func init() {
	prometheus.MustRegister(rateLimitChecksTotal, rateLimitBackendErrorsTotal)
}

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

var _ Limiter = (*AdaptiveLimiter)(nil)

// NewAdaptiveLimiter creates a limiter that adapts between Redis and in-memory backends.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check evaluates the limit using the primary backend. On a backend error the
// fallback is consulted with half the limit.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	result, err := a.primary.Check(ctx, key, limit, window)
	if err == nil || errors.Is(err, ErrLimitExceeded) {
		rateLimitChecksTotal.WithLabelValues("primary", resultLabel(result)).Inc()
		return result, err
	}

	rateLimitBackendErrorsTotal.Inc()
	a.log.Warn("primary limiter failed, falling back to in-memory", slog.String("key", key), slog.Any("error", err))

	fallbackLimit := limit / 2
	if fallbackLimit <= 0 {
		fallbackLimit = 1
	}

	result, err = a.fallback.Check(ctx, key, fallbackLimit, window)
	if err == nil || errors.Is(err, ErrLimitExceeded) {
		rateLimitChecksTotal.WithLabelValues("fallback", resultLabel(result)).Inc()
	}
	return result, err
}

// Sweep forwards to whichever backends can sweep.
func (a *AdaptiveLimiter) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	total := 0
	var errs []error
	for _, l := range []Limiter{a.primary, a.fallback} {
		if s, ok := l.(Sweeper); ok {
			n, err := s.Sweep(ctx, maxAge)
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return total, errors.Join(errs...)
}

func resultLabel(r *Result) string {
	if r != nil && r.Allowed {
		return "allowed"
	}
	return "rejected"
}
