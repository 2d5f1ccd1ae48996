// Package grouping counts recurrences of a fingerprint inside a time window.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const DefaultKeyPrefix = "exception:"

var ErrInvalidWindow = errors.New("grouping window must be positive")

// Window policies, re-exported so callers of this package need not import cache.
const (
	FixedWindow   = cache.FixedWindow
	SlidingWindow = cache.SlidingWindow
)

// Store is the grouping counter over a cache.Cache.
type Store struct {
	cache  cache.Cache
	prefix string
	policy cache.WindowPolicy
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now as the source of occurrence instants.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyPrefix namespaces the keys written to the cache.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithPolicy(p cache.WindowPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

func NewStore(c cache.Cache, opts ...Option) *Store {
	s := &Store{
		cache:  c,
		prefix: DefaultKeyPrefix,
		policy: FixedWindow,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Increment counts one occurrence of fp and returns the post-increment record. Under the
// fixed policy a record whose window elapsed since FirstSeen starts over at 1.
func (s *Store) Increment(ctx context.Context, fp occurrence.Fingerprint, window time.Duration) (cache.Record, error) {
	if window <= 0 {
		return cache.Record{}, fmt.Errorf("%w: %v", ErrInvalidWindow, window)
	}

	rec, err := s.cache.Increment(ctx, s.key(fp), s.now(), window, s.policy)
	if err != nil {
		return cache.Record{}, fmt.Errorf("grouping %s: %w", fp, err)
	}

	return rec, nil
}

// Get returns the current record of fp without counting an occurrence.
func (s *Store) Get(ctx context.Context, fp occurrence.Fingerprint) (cache.Record, bool, error) {
	return s.cache.Get(ctx, s.key(fp))
}

// Reset forgets fp, so its next occurrence counts as the first.
func (s *Store) Reset(ctx context.Context, fp occurrence.Fingerprint) error {
	return s.cache.Delete(ctx, s.key(fp))
}

func (s *Store) Policy() cache.WindowPolicy {
	return s.policy
}

func (s *Store) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}

func (s *Store) key(fp occurrence.Fingerprint) string {
	return s.prefix + string(fp)
}
