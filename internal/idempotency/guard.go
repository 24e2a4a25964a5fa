// Package idempotency suppresses repeated processing of the same inbound update.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records keys and reports whether the caller is the first to see one.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisGuard shares seen keys between replicas.
type RedisGuard struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(client *redis.Client, log *slog.Logger) *RedisGuard {
	if log == nil {
		log = slog.Default()
	}
	return &RedisGuard{client: client, log: log}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := g.client.SetNX(ctx, redisKey(key), 1, ttl).Result()
	if err != nil {
		g.log.Error("failed to record update key", slog.String("key", key), slog.Any("error", err))
		return false, fmt.Errorf("claim update key: %w", err)
	}
	return first, nil
}

func redisKey(key string) string {
	return "claim:update:" + key
}

// MemoryGuard keeps seen keys in process until they expire.
type MemoryGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > ttl {
		g.sweepLocked(now)
		g.lastSweep = now
	}

	if expires, ok := g.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked keys, expired ones included until the next sweep.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *MemoryGuard) sweepLocked(now time.Time) {
	for key, expires := range g.seen {
		if !now.Before(expires) {
			delete(g.seen, key)
		}
	}
}
