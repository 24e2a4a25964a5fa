package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "claim:ratelimit:"

// RedisLimiter implements Limiter using Redis sorted sets and a sliding window.
// Scores are unix milliseconds.
type RedisLimiter struct {
	client *redis.Client
	log    *slog.Logger
	now    func() time.Time
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Sweeper = (*RedisLimiter)(nil)
)

// NewRedisLimiter creates a Redis-backed Limiter implementation.
func NewRedisLimiter(client *redis.Client, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

// Check evaluates the rate limit for a given key using a sliding window algorithm.
// A rejected request is removed again so it does not extend the window.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := l.now()
	if limit <= 0 {
		return &Result{Allowed: false, ResetAt: now.Add(window)}, ErrLimitExceeded
	}

	redisKey := redisKeyPrefix + key
	member := uuid.NewString()
	cutoff := now.Add(-window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("rate limiter pipeline failed", slog.String("key", key), slog.Any("error", err))
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	count := countCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			l.log.Warn("failed to drop rejected request", slog.String("key", key), slog.Any("error", err))
		}
		count--
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}

	result := &Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}
	if !allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

// Sweep trims entries older than maxAge from every limiter key and deletes emptied keys.
func (l *RedisLimiter) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	if l.client == nil || maxAge <= 0 {
		return 0, nil
	}

	cutoff := strconv.FormatInt(l.now().Add(-maxAge).UnixMilli(), 10)
	removed := 0

	var cursor uint64
	for {
		keys, next, err := l.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan rate limit keys: %w", err)
		}

		for _, key := range keys {
			pipe := l.client.TxPipeline()
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			cardCmd := pipe.ZCard(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				l.log.Warn("cleanup pipeline failed", slog.String("key", key), slog.Any("error", err))
				continue
			}

			if cardCmd.Val() == 0 {
				if err := l.client.Del(ctx, key).Err(); err != nil {
					l.log.Warn("failed to delete empty rate limit key", slog.String("key", key), slog.Any("error", err))
					continue
				}
				removed++
			}
		}

		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
