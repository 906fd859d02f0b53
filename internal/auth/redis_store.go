package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"filecrate/internal/redisutil"
)

// RedisTokenStore persists tokens in Redis, delegating expiry to the server's
// per-key TTL.
type RedisTokenStore struct {
	client redis.UniversalClient
}

// NewRedisTokenStore connects a token store to the configured Redis endpoint.
func NewRedisTokenStore(cfg redisutil.ClientConfig) (*RedisTokenStore, error) {
	client, err := redisutil.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisTokenStore{client: client}, nil
}

// NewRedisTokenStoreWithClient wraps an existing Redis client. The caller
// retains ownership of the client lifecycle.
func NewRedisTokenStoreWithClient(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

// Set stores value under key with the provided TTL, overwriting any existing
// entry.
func (s *RedisTokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	if _, err := s.client.Do(ctx, "SET", key, value, "EX", strconv.FormatInt(seconds, 10)).Result(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves the value for key; expired keys are reported absent.
func (s *RedisTokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	reply, err := s.client.Do(ctx, "GET", key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	switch value := reply.(type) {
	case string:
		return value, true, nil
	case []byte:
		return string(value), true, nil
	case nil:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("redis get: unexpected reply type %T", reply)
	}
}

// Delete removes the entry for key. Unknown keys are not an error.
func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Do(ctx, "DEL", key).Result(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping verifies the backing Redis endpoint is reachable.
func (s *RedisTokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client connections.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
