package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore records completed workflow executions as key → trip id
// with a TTL. SetIfAbsent must be atomic so concurrent executions of the
// same key commit exactly one result.
type IdempotencyStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetIfAbsent stores value under key with the given TTL unless the key
	// already exists. It returns the winning value either way.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (winner string, stored bool, err error)
}

// ─── Redis implementation ───────────────────────────────────

const idempotencyKeyPrefix = "wf:trip:"

// RedisIdempotencyStore backs the workflow idempotency contract with Redis
// SET NX + TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore wraps a connected Redis client.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisIdempotencyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	stored, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, value, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency setnx %s: %w", key, err)
	}
	if stored {
		return value, true, nil
	}
	winner, _, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	return winner, false, nil
}

// ─── In-memory implementation ───────────────────────────────

// MemoryIdempotencyStore implements the same contract in-process, for
// tests and single-node runs without Redis.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryIdempotencyEntry
}

type memoryIdempotencyEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryIdempotencyEntry)}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryIdempotencyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && now().Before(entry.expiresAt) {
		return entry.value, false, nil
	}
	s.entries[key] = memoryIdempotencyEntry{value: value, expiresAt: now().Add(ttl)}
	return value, true, nil
}
