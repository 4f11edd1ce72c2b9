package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/troy-samuels/tutor-space-sub004/core/config"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
)

// Cache is the short-lived key/value store shared by services. Distinct from
// the durable calendar cache in postgres: values here are cheap memoizations
// that may vanish at any time.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) (Cache, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}

	return &redisCache{client: client}, client, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("cache get failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *redisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// NoopCache satisfies Cache when redis is not configured (tests, local dev).
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) (string, bool)            { return "", false }
func (NoopCache) Set(ctx context.Context, key, value string, ttl time.Duration) {}
func (NoopCache) Delete(ctx context.Context, key string)                        {}
