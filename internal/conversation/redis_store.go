package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces conversation keys.
const DefaultRedisPrefix = "lepak:conv:"

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	// Client is the Redis client (required).
	Client *redis.Client

	// Prefix for keys (default: DefaultRedisPrefix).
	Prefix string

	// TTL expires logs without a purge run (default: 8 days).
	TTL time.Duration
}

// RedisStore keeps each log as one JSON string value with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = (DefaultRetentionDays + 1) * 24 * time.Hour
	}
	return &RedisStore{client: cfg.Client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.UserID + ":" + key.Date
}

// Get fetches the log for key.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]Turn, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	return turns, nil
}

// Set writes the log for key and refreshes its TTL.
func (s *RedisStore) Set(ctx context.Context, key Key, turns []Turn) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if turns == nil {
		turns = []Turn{}
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the log for key.
func (s *RedisStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

// PurgeBefore scans the key space under the prefix and removes logs dated
// before cutoff.
func (s *RedisStore) PurgeBefore(ctx context.Context, cutoff string) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}

		var stale []string
		for _, k := range keys {
			i := strings.LastIndexByte(k, ':')
			if i < 0 {
				continue
			}
			if date := k[i+1:]; date < cutoff {
				stale = append(stale, k)
			}
		}

		if len(stale) > 0 {
			n, err := s.client.Del(ctx, stale...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
