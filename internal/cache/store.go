// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/ManuGH/photocast/internal/log"
)

// ErrNotFound is returned by a Store for a missing or expired frame.
var ErrNotFound = errors.New("frame not found")

// Store is a persistent second-level frame store shared across restarts.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "frame:"

// OpenStore creates the second-level store selected by cfg.Backend. The memory
// backend has no second level and returns a nil Store.
func OpenStore(cfg config.CacheConfig) (Store, error) {
	logger := log.WithComponent("cache")
	switch cfg.Backend {
	case "", config.CacheMemory:
		return nil, nil
	case config.CacheBadger:
		s, err := OpenBadgerStore(cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("open badger frame store: %w", err)
		}
		logger.Info().Str(log.FieldEvent, "cache.store_opened").Str("backend", "badger").
			Str(log.FieldPath, cfg.Dir).Msg("frame store opened")
		return s, nil
	case config.CacheRedis:
		s, err := NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str(log.FieldEvent, "cache.store_opened").Str("backend", "redis").
			Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("frame store opened")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func storeKey(key string) string { return keyPrefix + key }

func ttlOrZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
