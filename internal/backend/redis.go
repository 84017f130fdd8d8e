package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is the networked key-value variant. Each worker gets its own
// single-connection client; requests are plain GET and SET.
type Redis struct {
	cfg Config
}

// NewRedis creates a redis backend for cfg.RedisAddr.
func NewRedis(cfg Config) *Redis {
	return &Redis{cfg: cfg}
}

func (*Redis) Kind() Kind { return KindRedis }

func (b *Redis) client(poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        b.cfg.RedisAddr,
		Password:    b.cfg.RedisPassword,
		DB:          b.cfg.RedisDB,
		DialTimeout: b.cfg.DialTimeout,
		PoolSize:    poolSize,
		MaxRetries:  -1, // failures surface to the worker instead of being retried
	})
}

func (b *Redis) Connect(ctx context.Context) (Conn, error) {
	c := b.client(1)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("redis %s: %w", b.cfg.RedisAddr, connError(err))
	}
	return &redisConn{c: c}, nil
}

// Prepare flushes every key so the run starts cold.
func (b *Redis) Prepare(ctx context.Context) error {
	c := b.client(1)
	defer c.Close() //nolint:errcheck // best-effort close
	if err := c.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("redis flushall: %w", connError(err))
	}
	return nil
}

func (*Redis) Close() error { return nil }

type redisConn struct {
	c *redis.Client
}

func (c *redisConn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, connError(err))
	}
	return v, true, nil
}

func (c *redisConn) Set(ctx context.Context, key string, value []byte) error {
	if err := c.c.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, connError(err))
	}
	return nil
}

func (c *redisConn) Close() error {
	return c.c.Close()
}
