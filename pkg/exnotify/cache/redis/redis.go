// Package redis provides a cache.Cache shared across processes. Each record is a Redis hash
// updated by a Lua script, so increments of one key are atomic across every client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/metrics"
)

const (
	defaultKeyPattern = "exception:*"
	scanBatch         = 100
	pingTimeout       = 5 * time.Second
	maxDatabase       = 255
)

var (
	// ErrNilClient is returned when the Redis client is not initialized.
	ErrNilClient = errors.New("redis client is nil")
	// ErrAddressEmpty is returned when an empty address is provided.
	ErrAddressEmpty = errors.New("address cannot be empty")
	// ErrInvalidDatabaseNumber is returned when a database number outside the valid range is provided.
	ErrInvalidDatabaseNumber = errors.New("database number must be between 0 and 255")
	errMalformedReply        = errors.New("malformed increment reply")
)

// incrementScript applies one occurrence to the hash at KEYS[1].
// ARGV: now (unix ms), window (ms), policy (0 fixed, 1 sliding).
// Returns {count, first_seen, last_seen}.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local sliding = ARGV[3] == '1'

local v = redis.call('HMGET', KEYS[1], 'count', 'first_seen', 'last_seen')
local count = tonumber(v[1] or '0') or 0
local first = tonumber(v[2] or '0') or 0
local last = tonumber(v[3] or '0') or 0

local base = first
if sliding then
  base = last
end

if count == 0 or now - base >= window then
  count = 1
  first = now
else
  count = count + 1
end

redis.call('HSET', KEYS[1], 'count', count, 'first_seen', first, 'last_seen', now)

local ttl = window
if not sliding then
  ttl = first + window - now
end
if ttl < 1 then
  ttl = 1
end
redis.call('PEXPIRE', KEYS[1], ttl)

return {count, first, now}
`)

type redisCache struct {
	client     *redis.Client
	options    *redis.Options
	keyPattern string
	name       string
	logger     cache.Logger
	metrics    *cache.Metrics
}

type Option func(*redisCache) error

// WithAddr sets the network address of the Redis server (e.g., "localhost:6379").
func WithAddr(addr string) Option {
	return func(c *redisCache) error {
		if addr == "" {
			return ErrAddressEmpty
		}

		c.options.Addr = addr

		return nil
	}
}

// WithPassword sets the password for authenticating with the Redis server.
func WithPassword(password string) Option {
	return func(c *redisCache) error {
		c.options.Password = password

		return nil
	}
}

// WithDB sets the Redis database number to use.
// The database number must be between 0 and 255.
func WithDB(db int) Option {
	return func(c *redisCache) error {
		if db < 0 || db > maxDatabase {
			return ErrInvalidDatabaseNumber
		}

		c.options.DB = db

		return nil
	}
}

// WithKeyPattern sets the SCAN pattern Clear deletes. It must match every key the
// grouping store writes and nothing else.
func WithKeyPattern(pattern string) Option {
	return func(c *redisCache) error {
		if pattern != "" {
			c.keyPattern = pattern
		}

		return nil
	}
}

// WithName sets a descriptive name for the cache instance.
// This name is used in logs and metrics to identify the cache.
func WithName(name string) Option {
	return func(c *redisCache) error {
		if name != "" {
			c.name = name
		}

		return nil
	}
}

func WithLogger(logger cache.Logger) Option {
	return func(c *redisCache) error {
		if logger != nil {
			c.logger = logger
		}

		return nil
	}
}

func WithMetrics(m metrics.Manager) Option {
	return func(c *redisCache) error {
		c.metrics = cache.NewMetrics(m)

		return nil
	}
}

// NewRedisCache connects to Redis and pings it. By default it connects to "localhost:6379".
func NewRedisCache(ctx context.Context, opts ...Option) (cache.Cache, error) {
	c := &redisCache{
		options:    &redis.Options{},
		keyPattern: defaultKeyPattern,
		name:       "default-redis",
		logger:     cache.NewNopLogger(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to configure redis cache: %w", err)
		}
	}

	c.client = redis.NewClient(c.options)
	c.client.AddHook(&queryLogger{logger: c.logger})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.client.Ping(pingCtx).Err(); err != nil {
		_ = c.client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if err := redisotel.InstrumentTracing(c.client); err != nil {
		c.logger.Warnf("could not instrument redis cache '%s' with tracing: %v", c.name, err)
	}

	c.logger.Infof("Redis cache '%s' initialized on %s, DB %d", c.name, c.options.Addr, c.options.DB)

	return c, nil
}

func (c *redisCache) Increment(ctx context.Context, key string, now time.Time, window time.Duration,
	policy cache.WindowPolicy) (cache.Record, error) {
	start := time.Now()

	if err := cache.Validate(key, window); err != nil {
		c.logger.Errorf("Increment failed: %v", err)
		return cache.Record{}, err
	}

	sliding := "0"
	if policy == cache.SlidingWindow {
		sliding = "1"
	}

	res, err := incrementScript.Run(ctx, c.client, []string{key}, now.UnixMilli(), window.Milliseconds(), sliding).Int64Slice()
	if err != nil {
		c.logger.Errorf("Redis increment failed for key '%s': %v", key, err)
		return cache.Record{}, err
	}

	if len(res) != 3 { //nolint:mnd // count, first_seen, last_seen
		return cache.Record{}, fmt.Errorf("%w: %v", errMalformedReply, res)
	}

	rec := cache.Record{
		Count:     res[0],
		FirstSeen: time.UnixMilli(res[1]).UTC(),
		LastSeen:  time.UnixMilli(res[2]).UTC(),
	}

	c.metrics.Increment(ctx, c.name, rec)
	c.metrics.Latency(ctx, c.name, "increment", start)

	return rec, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (cache.Record, bool, error) {
	start := time.Now()

	if key == "" {
		return cache.Record{}, false, cache.ErrEmptyKey
	}

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Errorf("Redis HGETALL failed for key '%s': %v", key, err)
		return cache.Record{}, false, err
	}

	defer c.metrics.Latency(ctx, c.name, "get", start)

	if len(fields) == 0 {
		return cache.Record{}, false, nil
	}

	rec, err := parseRecord(fields)
	if err != nil {
		return cache.Record{}, false, fmt.Errorf("record %s: %w", key, err)
	}

	return rec, true, nil
}

func parseRecord(fields map[string]string) (cache.Record, error) {
	count, err := strconv.ParseInt(fields["count"], 10, 64)
	if err != nil {
		return cache.Record{}, err
	}

	first, err := strconv.ParseInt(fields["first_seen"], 10, 64)
	if err != nil {
		return cache.Record{}, err
	}

	last, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return cache.Record{}, err
	}

	return cache.Record{
		Count:     count,
		FirstSeen: time.UnixMilli(first).UTC(),
		LastSeen:  time.UnixMilli(last).UTC(),
	}, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if key == "" {
		return cache.ErrEmptyKey
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Errorf("Redis Del failed for key '%s': %v", key, err)
		return err
	}

	c.metrics.Latency(ctx, c.name, "delete", start)

	return nil
}

// Clear deletes every key matching the key pattern. Unlike FLUSHDB it leaves keys of
// other applications sharing the database untouched.
func (c *redisCache) Clear(ctx context.Context) error {
	start := time.Now()

	var (
		cursor  uint64
		deleted int64
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keyPattern, scanBatch).Result()
		if err != nil {
			c.logger.Errorf("Redis SCAN failed for pattern '%s': %v", c.keyPattern, err)
			return err
		}

		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.Errorf("Redis Del failed while clearing '%s': %v", c.name, err)
				return err
			}

			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Warnf("Cleared %d records from '%s'", deleted, c.name)
	c.metrics.Items(c.name, 0)
	c.metrics.Latency(ctx, c.name, "clear", start)

	return nil
}

// Close closes the connection to the Redis server.
func (c *redisCache) Close(context.Context) error {
	if c.client == nil {
		return ErrNilClient
	}

	if err := c.client.Close(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil
		}

		c.logger.Errorf("Failed to close redis client: %v", err)

		return err
	}

	c.logger.Infof("Redis cache '%s' closed", c.name)

	return nil
}
