package state

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner removes idle workflow states on a schedule.
type Cleaner struct {
	storage   Storage
	log       *slog.Logger
	ttl       time.Duration
	interval  time.Duration
	isRunning func(userID int64) bool
	now       func() time.Time
}

// NewCleaner constructs a Cleaner. Users for whom isRunning reports true are never cleared.
func NewCleaner(storage Storage, log *slog.Logger, ttl, interval time.Duration, isRunning func(userID int64) bool) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if isRunning == nil {
		isRunning = func(int64) bool { return false }
	}

	return &Cleaner{
		storage:   storage,
		log:       log,
		ttl:       ttl,
		interval:  interval,
		isRunning: isRunning,
		now:       time.Now,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.storage == nil || c.ttl <= 0 || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("state cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep clears every state idle for longer than the TTL and returns how many were cleared.
func (c *Cleaner) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	states, err := c.storage.GetAllStates(ctx)
	if err != nil {
		c.log.Error("state cleaner failed to list states", slog.Any("error", err))
		return 0
	}

	cleared := 0
	now := c.now()
	for _, st := range states {
		if ctx.Err() != nil {
			break
		}
		if st == nil || now.Sub(st.UpdatedAt) <= c.ttl || c.isRunning(st.UserID) {
			continue
		}

		if err := c.storage.ClearState(ctx, st.UserID); err != nil {
			c.log.Error("state cleaner failed to clear state", slog.Int64("user_id", st.UserID), slog.Any("error", err))
			continue
		}
		cleared++
		c.log.Info("state session cleared", slog.Int64("user_id", st.UserID))
	}

	return cleared
}
