package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis key the rate-limit state is stored under.
const DefaultRedisKey = "edsm:rate_limit:state"

// StateStore persists the last observed rate-limit state.
type StateStore interface {
	// Load returns the stored state, or nil if none is stored.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps the state for the lifetime of the process.
type MemoryStore struct {
	state *State
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements StateStore.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save implements StateStore.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	if state == nil {
		m.state = nil
		return nil
	}
	s := *state
	m.state = &s
	return nil
}

// RedisStore keeps the state in Redis so consecutive runs (or several
// machines sharing an API key) honour the same rate-limit window. The key
// expires when the window resets.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed state store. An empty key selects
// DefaultRedisKey.
func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: redisClient, key: key}
}

// Load implements StateStore.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	data, err := r.redis.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get rate limit state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode rate limit state: %w", err)
	}
	return &state, nil
}

// Save implements StateStore.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return r.redis.Del(ctx, r.key).Err()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}

	// Keep the state a little past the reset so a reader right at the
	// boundary still sees it
	ttl := time.Until(state.ResetAt) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}

	if err := r.redis.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set rate limit state: %w", err)
	}
	return nil
}
