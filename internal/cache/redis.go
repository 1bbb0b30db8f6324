package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisScanBatch = 500
	// redisUpgradeAttempts bounds optimistic retries when a key keeps changing under WATCH.
	redisUpgradeAttempts = 8
)

// RedisStore keeps entries under a key prefix, optionally zstd compressed.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    time.Duration
	codec  codec
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(logger *zap.Logger, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		logger: logger.Named("cache.store.redis"),
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		codec:  codec{compress: cfg.Compress},
	}, nil
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.codec.decode(key, data)
}

// Set implements Store.Set
func (s *RedisStore) Set(ctx context.Context, key string, e *Entry) error {
	data, err := s.codec.encode(e)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Upgrade implements Store.Upgrade with WATCH and MULTI on the key.
func (s *RedisStore) Upgrade(ctx context.Context, key string, e *Entry) (bool, error) {
	data, err := s.codec.encode(e)
	if err != nil {
		return false, err
	}

	full := s.prefix + key
	var written bool
	upgrade := func(tx *redis.Tx) error {
		written = false
		cur, err := tx.Get(ctx, full).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			old, derr := s.codec.decode(key, cur)
			if derr != nil {
				s.logger.Warn("replacing unreadable cache entry", zap.String("key", key), zap.Error(derr))
			} else if old.Depth > e.Depth {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, data, s.ttl)
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}

	for i := 0; i < redisUpgradeAttempts; i++ {
		err = s.client.Watch(ctx, upgrade, full)
		if !errors.Is(err, redis.TxFailedErr) {
			return written, err
		}
	}
	return false, fmt.Errorf("cache key %s kept changing: %w", key, err)
}

// Clear implements Store.Clear. Only keys under the prefix are removed.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", redisScanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Debug("cleared redis cache", zap.Int("keys", removed))
	return nil
}

// Close implements Store.Close
func (s *RedisStore) Close() error {
	return s.client.Close()
}
