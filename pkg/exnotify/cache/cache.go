// Package cache defines the counter cache behind error grouping. Backends live in the
// inmemory and redis sub-packages and are usually built through factory.NewCache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyKey is returned when an operation is attempted with an empty key.
	ErrEmptyKey = errors.New("key cannot be empty")
	// ErrNonPositiveWindow is returned by Increment for a window <= 0.
	ErrNonPositiveWindow = errors.New("window must be positive")
	ErrUnknownWindowPolicy = errors.New("unknown window policy")
)

// Record is the grouping state of one key.
type Record struct {
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// WindowPolicy decides when a record starts over.
type WindowPolicy int

const (
	// FixedWindow restarts a record once window has elapsed since FirstSeen.
	FixedWindow WindowPolicy = iota
	// SlidingWindow restarts a record once window has elapsed since LastSeen, so a
	// steadily recurring error keeps counting.
	SlidingWindow
)

func (p WindowPolicy) String() string {
	if p == SlidingWindow {
		return "sliding"
	}

	return "fixed"
}

func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed":
		return FixedWindow, nil
	case "sliding":
		return SlidingWindow, nil
	default:
		return FixedWindow, fmt.Errorf("%w: %q", ErrUnknownWindowPolicy, s)
	}
}

// Cache stores one Record per key. Increment must be atomic per key: concurrent
// increments of one key are never lost.
type Cache interface {
	// Increment adds one occurrence at now and returns the updated record. A record
	// whose window has elapsed under policy starts over at Count 1.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration, policy WindowPolicy) (Record, error)
	// Get returns the record stored under key, if it has not expired.
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	// Clear removes every grouping record held by the cache.
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Expired reports whether at now the window of r has elapsed under policy.
func (r Record) Expired(now time.Time, window time.Duration, policy WindowPolicy) bool {
	return !now.Before(r.ExpiresAt(window, policy))
}

// ExpiresAt is the instant at which r starts over under policy.
func (r Record) ExpiresAt(window time.Duration, policy WindowPolicy) time.Time {
	if policy == SlidingWindow {
		return r.LastSeen.Add(window)
	}

	return r.FirstSeen.Add(window)
}

// Next applies one occurrence at now to prev. found is false when there is no record yet.
func Next(prev Record, found bool, now time.Time, window time.Duration, policy WindowPolicy) Record {
	if !found || prev.Count == 0 || prev.Expired(now, window, policy) {
		return Record{Count: 1, FirstSeen: now, LastSeen: now}
	}

	return Record{Count: prev.Count + 1, FirstSeen: prev.FirstSeen, LastSeen: now}
}

// Validate checks the arguments shared by every Increment implementation.
func Validate(key string, window time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	if window <= 0 {
		return ErrNonPositiveWindow
	}

	return nil
}
