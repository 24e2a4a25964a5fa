package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps a sliding window of request times per key in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Sweeper = (*MemoryLimiter)(nil)
)

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check admits the request when fewer than limit requests fell inside the window.
// Rejected requests are not recorded.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	reqs := keepRecent(m.buckets[key], now.Add(-window))
	allowed := len(reqs) < limit
	if allowed {
		reqs = append(reqs, now)
	}
	m.buckets[key] = reqs

	remaining := limit - len(reqs)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{Allowed: allowed, Remaining: remaining, ResetAt: now.Add(window)}
	if len(reqs) > 0 {
		result.ResetAt = reqs[0].Add(window)
	}
	if !allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

// Sweep removes keys whose newest request is older than maxAge.
func (m *MemoryLimiter) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, reqs := range m.buckets {
		if len(reqs) == 0 || reqs[len(reqs)-1].Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed, nil
}

func keepRecent(reqs []time.Time, windowStart time.Time) []time.Time {
	firstIdx := 0
	for firstIdx < len(reqs) && !reqs[firstIdx].After(windowStart) {
		firstIdx++
	}

	if firstIdx == 0 {
		return reqs
	}
	if firstIdx >= len(reqs) {
		return reqs[:0]
	}

	copy(reqs, reqs[firstIdx:])
	return reqs[:len(reqs)-firstIdx]
}
