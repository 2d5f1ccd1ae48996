// Package inmemory provides a process-local cache.Cache bounded by an LRU.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/metrics"
)

const (
	defaultMaxItems        = 10000
	defaultCleanupInterval = time.Minute
)

var (
	// ErrInvalidMaxItems is returned when a negative max items is configured.
	ErrInvalidMaxItems = errors.New("maxItems must be non-negative")
	// ErrInvalidCleanupInterval is returned when a non-positive cleanup interval is configured.
	ErrInvalidCleanupInterval = errors.New("cleanup interval must be positive")
	ErrCacheClosed            = errors.New("cache is closed")
)

type entry struct {
	record    cache.Record
	expiresAt time.Time
}

type inMemoryCache struct {
	// mu guards lru and closed: simplelru is not safe for concurrent use, and a single
	// critical section per increment makes the read-modify-write of a record atomic.
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	closed bool

	maxItems        int
	cleanupInterval time.Duration
	now             func() time.Time

	name    string
	logger  cache.Logger
	metrics *cache.Metrics

	quit chan struct{}
	done chan struct{}
}

type Option func(*inMemoryCache) error

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(c *inMemoryCache) error {
		if name != "" {
			c.name = name
		}

		return nil
	}
}

// WithMaxItems bounds the number of records. The least recently incremented record is
// evicted when the bound is exceeded. Zero means unbounded.
func WithMaxItems(maxItems int) Option {
	return func(c *inMemoryCache) error {
		if maxItems < 0 {
			return ErrInvalidMaxItems
		}

		c.maxItems = maxItems

		return nil
	}
}

// WithCleanupInterval sets how often expired records are swept.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *inMemoryCache) error {
		if interval <= 0 {
			return ErrInvalidCleanupInterval
		}

		c.cleanupInterval = interval

		return nil
	}
}

// WithClock sets the clock used to expire records in Get and in the sweeper. Increment
// always uses the instant it is given.
func WithClock(now func() time.Time) Option {
	return func(c *inMemoryCache) error {
		if now != nil {
			c.now = now
		}

		return nil
	}
}

func WithLogger(logger cache.Logger) Option {
	return func(c *inMemoryCache) error {
		if logger != nil {
			c.logger = logger
		}

		return nil
	}
}

func WithMetrics(m metrics.Manager) Option {
	return func(c *inMemoryCache) error {
		c.metrics = cache.NewMetrics(m)

		return nil
	}
}

// NewInMemoryCache creates a cache and starts its sweeper. Close stops the sweeper.
func NewInMemoryCache(ctx context.Context, opts ...Option) (cache.Cache, error) {
	c := &inMemoryCache{
		maxItems:        defaultMaxItems,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
		name:            "default-inmemory",
		logger:          cache.NewNopLogger(),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to configure in-memory cache: %w", err)
		}
	}

	size := c.maxItems
	if size == 0 {
		size = math.MaxInt
	}

	lru, err := simplelru.NewLRU[string, *entry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory cache: %w", err)
	}

	c.lru = lru

	go c.sweep(ctx)

	c.logger.Infof("In-memory cache '%s' initialized, maxItems=%d, cleanup every %v", c.name, c.maxItems, c.cleanupInterval)

	return c, nil
}

func (c *inMemoryCache) Increment(ctx context.Context, key string, now time.Time, window time.Duration,
	policy cache.WindowPolicy) (cache.Record, error) {
	start := time.Now()

	if err := cache.Validate(key, window); err != nil {
		c.logger.Errorf("Increment failed: %v", err)
		return cache.Record{}, err
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return cache.Record{}, ErrCacheClosed
	}

	var prev cache.Record

	// Get marks the record most recently used.
	e, found := c.lru.Get(key)
	if found {
		prev = e.record
	}

	rec := cache.Next(prev, found, now, window, policy)
	expiresAt := rec.ExpiresAt(window, policy)

	evicted := false

	if found {
		e.record, e.expiresAt = rec, expiresAt
	} else {
		evicted = c.lru.Add(key, &entry{record: rec, expiresAt: expiresAt})
	}

	size := c.lru.Len()

	c.mu.Unlock()

	if evicted {
		c.metrics.Evict(ctx, c.name, "lru")
	}

	c.logger.Debugf("Increment %s on '%s': count=%d", key, c.name, rec.Count)

	c.metrics.Increment(ctx, c.name, rec)
	c.metrics.Items(c.name, size)
	c.metrics.Latency(ctx, c.name, "increment", start)

	return rec, nil
}

func (c *inMemoryCache) Get(ctx context.Context, key string) (cache.Record, bool, error) {
	start := time.Now()

	if key == "" {
		return cache.Record{}, false, cache.ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.metrics.Latency(ctx, c.name, "get", start)

	// reads do not refresh recency, only increments do.
	e, ok := c.lru.Peek(key)
	if !ok {
		return cache.Record{}, false, nil
	}

	if !c.now().Before(e.expiresAt) {
		return cache.Record{}, false, nil
	}

	return e.record, true, nil
}

func (c *inMemoryCache) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if key == "" {
		return cache.ErrEmptyKey
	}

	c.mu.Lock()

	c.lru.Remove(key)
	size := c.lru.Len()

	c.mu.Unlock()

	c.logger.Debugf("Deleted %s from '%s'", key, c.name)
	c.metrics.Items(c.name, size)
	c.metrics.Latency(ctx, c.name, "delete", start)

	return nil
}

func (c *inMemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()

	c.logger.Warnf("Cleared all records from '%s'", c.name)
	c.metrics.Items(c.name, 0)

	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (c *inMemoryCache) Close(context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	<-c.done

	c.logger.Infof("In-memory cache '%s' closed", c.name)

	return nil
}

func (c *inMemoryCache) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired(ctx)
		case <-c.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *inMemoryCache) removeExpired(ctx context.Context) {
	now := c.now()

	c.mu.Lock()

	var removed int

	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && !now.Before(e.expiresAt) {
			c.lru.Remove(key)

			removed++
		}
	}

	size := c.lru.Len()

	c.mu.Unlock()

	for range removed {
		c.metrics.Evict(ctx, c.name, "expired")
	}

	if removed > 0 {
		c.logger.Debugf("Swept %d expired records from '%s'", removed, c.name)
		c.metrics.Items(c.name, size)
	}
}
