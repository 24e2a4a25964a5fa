package claim

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// ActivatedKeysName names the set of keys confirmed activated.
	ActivatedKeysName = "activated"
	// BlockedKeysName names the operator-maintained set of keys never sent to the endpoint.
	BlockedKeysName = "blocked"

	redisKeySetPattern = "claim:keys:%s"
)

// KeySet is a set of phone keys shared by all jobs.
type KeySet interface {
	Contains(ctx context.Context, key string) (bool, error)
	// Add inserts key and reports whether it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes key and reports whether it was present.
	Remove(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryKeySet is a process-local KeySet.
type MemoryKeySet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewMemoryKeySet creates an empty MemoryKeySet.
func NewMemoryKeySet(keys ...string) *MemoryKeySet {
	s := &MemoryKeySet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

func (s *MemoryKeySet) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemoryKeySet) Add(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

func (s *MemoryKeySet) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; !ok {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

func (s *MemoryKeySet) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keys), nil
}

// RedisKeySet stores a KeySet in a Redis set so replicas share it.
type RedisKeySet struct {
	client *redis.Client
	key    string
}

// NewRedisKeySet binds a KeySet to the Redis set for name.
func NewRedisKeySet(client *redis.Client, name string) *RedisKeySet {
	return &RedisKeySet{client: client, key: fmt.Sprintf(redisKeySetPattern, name)}
}

func (s *RedisKeySet) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("check key set %s: %w", s.key, err)
	}
	return ok, nil
}

func (s *RedisKeySet) Add(ctx context.Context, key string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("add to key set %s: %w", s.key, err)
	}
	return added > 0, nil
}

func (s *RedisKeySet) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := s.client.SRem(ctx, s.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("remove from key set %s: %w", s.key, err)
	}
	return removed > 0, nil
}

func (s *RedisKeySet) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count key set %s: %w", s.key, err)
	}
	return int(n), nil
}
