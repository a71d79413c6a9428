package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pipesync/internal/config"
)

// Open builds the KV selected by cfg.Cache.Driver. The returned close
// function releases any connection it holds.
func Open(ctx context.Context, cfg *config.Config) (KV, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Cache.Driver {
	case "memory":
		return NewMemoryKV(), noop, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisKV(rdb), rdb.Close, nil
	case "file", "":
		kv, err := NewFileKV(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return kv, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
}
