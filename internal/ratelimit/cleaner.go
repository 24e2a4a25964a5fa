package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner periodically sweeps idle limiter state.
type Cleaner struct {
	sweeper  Sweeper
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(sweeper Sweeper, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		sweeper:  sweeper,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run sweeps every interval until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.sweeper == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of keys removed.
func (c *Cleaner) Sweep(ctx context.Context) int {
	removed, err := c.sweeper.Sweep(ctx, c.maxAge)
	if err != nil {
		c.log.Error("rate limit sweep failed", slog.Any("error", err))
	}
	if removed > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", removed))
	}
	return removed
}
