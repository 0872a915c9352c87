package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using a Redis hash.
// Each pipeline id is a field of the hash, its value the decimal watermark.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := progress.NewRedisStore(client, "claims:progress")
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// RedisOption configures the Redis progress store
type RedisOption func(*RedisStore)

// WithRedisTTL sets a TTL on the progress hash, refreshed on every Save.
// After the TTL expires the next run starts from the beginning.
// Default is 0 (no expiration).
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a new Redis-backed progress store.
//
// The client may be a standalone, cluster or universal client.
func NewRedisStore(client redis.Cmdable, key string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save records n as the watermark of pipeline id.
func (s *RedisStore) Save(ctx context.Context, id string, n int64) error {
	if err := s.client.HSet(ctx, s.key, id, strconv.FormatInt(n, 10)).Err(); err != nil {
		return fmt.Errorf("progress: redis save %s: %w", id, err)
	}

	if s.ttl > 0 {
		s.client.Expire(ctx, s.key, s.ttl)
	}
	return nil
}

// Load returns the last saved watermark of pipeline id, or 0 if none exists.
func (s *RedisStore) Load(ctx context.Context, id string) (int64, error) {
	value, err := s.client.HGet(ctx, s.key, id).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("progress: redis load %s: %w", id, err)
	}
	return parseWatermark(value)
}

// Delete removes the watermark of pipeline id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key, id).Err()
}

// GetAll returns every stored watermark keyed by pipeline id.
// Fields that do not parse as integers are skipped.
func (s *RedisStore) GetAll(ctx context.Context) (map[string]int64, error) {
	result, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	watermarks := make(map[string]int64, len(result))
	for id, value := range result {
		n, err := parseWatermark(value)
		if err != nil {
			continue
		}
		watermarks[id] = n
	}
	return watermarks, nil
}

func parseWatermark(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("progress: invalid watermark %q: %w", value, err)
	}
	return n, nil
}
