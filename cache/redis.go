package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient stores JSON-encoded values in an external redis.
type redisClient struct {
	rdb        *redis.Client
	prefix     string
	defaultTTL time.Duration
}

func newRedis(opts Options) (*redisClient, error) {
	cfg, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	return &redisClient{
		rdb:        redis.NewClient(cfg),
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
	}, nil
}

func (c *redisClient) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// Values written by other tooling may not be JSON; surface them as-is.
		return raw, true, nil
	}
	return value, true, nil
}

func (c *redisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err()
}

func (c *redisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// Close releases the redis connection pool.
func (c *redisClient) Close() error {
	return c.rdb.Close()
}
