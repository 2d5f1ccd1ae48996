// Package factory builds cache instances of either backend from one set of options.
package factory

import (
	"context"
	"time"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/cache/inmemory"
	"exnotify.dev/pkg/exnotify/cache/redis"
	"exnotify.dev/pkg/exnotify/metrics"
)

const (
	TypeInMemory = "inmemory"
	TypeRedis    = "redis"
)

// config holds the configuration for creating cache instances.
type config struct {
	inMemoryOptions []inmemory.Option
	redisOptions    []redis.Option
}

type Option func(*config)

// WithLogger sets the logger of either backend.
func WithLogger(logger cache.Logger) Option {
	return func(c *config) {
		c.inMemoryOptions = append(c.inMemoryOptions, inmemory.WithLogger(logger))
		c.redisOptions = append(c.redisOptions, redis.WithLogger(logger))
	}
}

func WithMetrics(m metrics.Manager) Option {
	return func(c *config) {
		c.inMemoryOptions = append(c.inMemoryOptions, inmemory.WithMetrics(m))
		c.redisOptions = append(c.redisOptions, redis.WithMetrics(m))
	}
}

// WithMaxItems bounds an in-memory cache.
func WithMaxItems(maxItems int) Option {
	return func(c *config) {
		c.inMemoryOptions = append(c.inMemoryOptions, inmemory.WithMaxItems(maxItems))
	}
}

// WithClock sets the clock an in-memory cache expires records against.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.inMemoryOptions = append(c.inMemoryOptions, inmemory.WithClock(now))
	}
}

// WithRedisAddr sets the connection address for a Redis cache.
func WithRedisAddr(addr string) Option {
	return func(c *config) {
		c.redisOptions = append(c.redisOptions, redis.WithAddr(addr))
	}
}

func WithRedisPassword(password string) Option {
	return func(c *config) {
		c.redisOptions = append(c.redisOptions, redis.WithPassword(password))
	}
}

func WithRedisDB(db int) Option {
	return func(c *config) {
		c.redisOptions = append(c.redisOptions, redis.WithDB(db))
	}
}

// WithKeyPattern sets the pattern a Redis cache clears.
func WithKeyPattern(pattern string) Option {
	return func(c *config) {
		c.redisOptions = append(c.redisOptions, redis.WithKeyPattern(pattern))
	}
}

// NewInMemoryCache creates a new in-memory cache named name.
func NewInMemoryCache(ctx context.Context, name string, opts ...Option) (cache.Cache, error) {
	cfg := &config{
		inMemoryOptions: []inmemory.Option{inmemory.WithName(name)},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return inmemory.NewInMemoryCache(ctx, cfg.inMemoryOptions...)
}

// NewRedisCache creates a new Redis-backed cache named name. It fails if Redis cannot be
// reached.
func NewRedisCache(ctx context.Context, name string, opts ...Option) (cache.Cache, error) {
	cfg := &config{
		redisOptions: []redis.Option{redis.WithName(name)},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return redis.NewRedisCache(ctx, cfg.redisOptions...)
}

// NewCache creates a cache of cacheType ("inmemory" or "redis"). Any other type, including
// the empty string, is "inmemory".
func NewCache(ctx context.Context, cacheType, name string, opts ...Option) (cache.Cache, error) {
	switch cacheType {
	case TypeRedis:
		return NewRedisCache(ctx, name, opts...)
	default:
		return NewInMemoryCache(ctx, name, opts...)
	}
}
