package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/database"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown conversation backend")

// OpenConfig selects and configures a Store.
type OpenConfig struct {
	Backend string

	// Dir is the file backend's directory.
	Dir string

	// RedisURL is the redis backend's address, e.g. redis://localhost:6379/0.
	RedisURL string

	// Database configures the postgres backend.
	Database database.Config

	// RetentionDays sizes the redis key TTL (default: DefaultRetentionDays).
	RetentionDays int

	Logger zerolog.Logger
}

// Open builds the configured store. The returned close function releases
// any connections and is never nil.
func Open(ctx context.Context, cfg OpenConfig) (Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), noop, nil

	case BackendFile:
		s, err := NewFileStore(cfg.Dir, cfg.Logger)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}

		retention := cfg.RetentionDays
		if retention <= 0 {
			retention = DefaultRetentionDays
		}
		s := NewRedisStore(RedisStoreConfig{
			Client: client,
			TTL:    time.Duration(retention+1) * 24 * time.Hour,
		})
		return s, func() { _ = client.Close() }, nil

	case BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
