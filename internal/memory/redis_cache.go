package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis. Expiry is left to Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) stateKey(conversationID string) string {
	return fmt.Sprintf("lgdl:state:%s", conversationID)
}

func (r *RedisCache) Get(ctx context.Context, conversationID string) (*PersistentState, bool, error) {
	data, err := r.client.Get(ctx, r.stateKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state from Redis: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("failed to parse state data: %w", err)
	}
	if state.ExtractedContext == nil {
		state.ExtractedContext = make(map[string]any)
	}
	return &state, true, nil
}

func (r *RedisCache) Set(ctx context.Context, state *PersistentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := r.client.Set(ctx, r.stateKey(state.ConversationID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state to Redis: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.stateKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Cleanup is a no-op: keys carry their own TTL.
func (r *RedisCache) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// Ping verifies the Redis connection is alive.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
