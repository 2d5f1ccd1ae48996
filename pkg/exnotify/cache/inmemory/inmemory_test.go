package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/metrics"
)

// makeCache initializes the cache and fails the test on error.
func makeCache(ctx context.Context, t *testing.T, opts ...Option) *inMemoryCache {
	t.Helper()

	ci, err := NewInMemoryCache(ctx, opts...)
	require.NoError(t, err, "failed to initialize cache")

	c := ci.(*inMemoryCache)

	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIncrement_FixedWindow(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t, WithName("grouping"))

	steps := []struct {
		at        time.Duration
		count     int64
		firstSeen time.Duration
	}{
		{0, 1, 0},
		{10 * time.Second, 2, 0},
		{59 * time.Second, 3, 0},
		{60 * time.Second, 1, 60 * time.Second},
		{70 * time.Second, 2, 60 * time.Second},
	}

	for i, s := range steps {
		rec, err := c.Increment(ctx, "k", t0.Add(s.at), time.Minute, cache.FixedWindow)

		require.NoError(t, err, "TEST[%d], Failed.\n", i)
		assert.Equal(t, s.count, rec.Count, "TEST[%d], Failed.\n", i)
		assert.Equal(t, t0.Add(s.firstSeen), rec.FirstSeen, "TEST[%d], Failed.\n", i)
		assert.Equal(t, t0.Add(s.at), rec.LastSeen, "TEST[%d], Failed.\n", i)
	}
}

func TestIncrement_SlidingWindow(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t)

	for i, at := range []time.Duration{0, 50 * time.Second, 100 * time.Second, 150 * time.Second} {
		rec, err := c.Increment(ctx, "k", t0.Add(at), time.Minute, cache.SlidingWindow)

		require.NoError(t, err)
		assert.Equal(t, int64(i+1), rec.Count, "TEST[%d], Failed.\n", i)
		assert.Equal(t, t0, rec.FirstSeen, "TEST[%d], Failed.\n", i)
	}

	rec, err := c.Increment(ctx, "k", t0.Add(211*time.Second), time.Minute, cache.SlidingWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count)
}

func TestIncrement_Concurrent(t *testing.T) {
	const n = 200

	ctx := t.Context()
	c := makeCache(ctx, t, WithClock(func() time.Time { return t0 }))

	var wg sync.WaitGroup

	wg.Add(n)

	for range n {
		go func() {
			defer wg.Done()

			_, err := c.Increment(ctx, "hot", t0, time.Hour, cache.FixedWindow)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	rec, found, err := c.Get(ctx, "hot")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(n), rec.Count)
}

func TestIncrement_InvalidArguments(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t)

	_, err := c.Increment(ctx, "", t0, time.Minute, cache.FixedWindow)
	require.ErrorIs(t, err, cache.ErrEmptyKey)

	_, err = c.Increment(ctx, "k", t0, 0, cache.FixedWindow)
	require.ErrorIs(t, err, cache.ErrNonPositiveWindow)
}

func TestGet_Expiry(t *testing.T) {
	ctx := t.Context()
	now := t0
	c := makeCache(ctx, t, WithClock(func() time.Time { return now }))

	_, err := c.Increment(ctx, "k", t0, time.Minute, cache.FixedWindow)
	require.NoError(t, err)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	now = t0.Add(time.Minute)

	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCapacityEviction(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t, WithMaxItems(2), WithClock(func() time.Time { return t0 }))

	for _, k := range []string{"k1", "k2", "k1", "k3"} {
		_, err := c.Increment(ctx, k, t0, time.Minute, cache.FixedWindow)
		require.NoError(t, err)
	}

	_, found, _ := c.Get(ctx, "k2")
	assert.False(t, found, "least recently incremented key is evicted")

	rec, found, _ := c.Get(ctx, "k1")
	assert.True(t, found)
	assert.Equal(t, int64(2), rec.Count)

	_, found, _ = c.Get(ctx, "k3")
	assert.True(t, found)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t, WithClock(func() time.Time { return t0 }))

	for _, k := range []string{"x", "y", "z"} {
		_, err := c.Increment(ctx, k, t0, time.Minute, cache.FixedWindow)
		require.NoError(t, err)
	}

	require.NoError(t, c.Delete(ctx, "x"))
	require.ErrorIs(t, c.Delete(ctx, ""), cache.ErrEmptyKey)

	_, found, _ := c.Get(ctx, "x")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))

	for _, k := range []string{"y", "z"} {
		_, found, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, found)
	}

	rec, err := c.Increment(ctx, "y", t0, time.Minute, cache.FixedWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count)
}

func TestSweeperRemovesExpired(t *testing.T) {
	ctx := t.Context()

	var (
		mu  sync.Mutex
		now = t0
	)

	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}

	c := makeCache(ctx, t, WithCleanupInterval(5*time.Millisecond), WithClock(clock))

	_, err := c.Increment(ctx, "old", t0, time.Second, cache.FixedWindow)
	require.NoError(t, err)

	mu.Lock()
	now = t0.Add(2 * time.Second)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.lru.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	_, err := c.Increment(ctx, "k", t0, time.Minute, cache.FixedWindow)
	require.ErrorIs(t, err, ErrCacheClosed)
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		opt Option
		err error
	}{
		{WithMaxItems(-1), ErrInvalidMaxItems},
		{WithCleanupInterval(0), ErrInvalidCleanupInterval},
	}

	for i, tc := range tests {
		c, err := NewInMemoryCache(t.Context(), tc.opt)

		require.ErrorIs(t, err, tc.err, "TEST[%d], Failed.\n", i)
		assert.Nil(t, c, "TEST[%d], Failed.\n", i)
	}
}

func TestWithMetricsAndLogger(t *testing.T) {
	ctx := t.Context()
	logger := logging.NewMockLogger(logging.ERROR)
	m := metrics.NewMetricsManager("exnotify", prometheus.NewRegistry(), logger)

	c := makeCache(ctx, t, WithName("metered"), WithLogger(logger), WithMetrics(m), WithMaxItems(1))

	_, err := c.Increment(ctx, "a", t0, time.Minute, cache.FixedWindow)
	require.NoError(t, err)

	_, err = c.Increment(ctx, "b", t0, time.Minute, cache.FixedWindow)
	require.NoError(t, err)

	assert.Equal(t, 1, c.lru.Len())
	assert.NotNil(t, c.metrics)
}

func TestCapacityEviction_ReadsDoNotRefresh(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t, WithMaxItems(2), WithClock(func() time.Time { return t0 }))

	for _, k := range []string{"k1", "k2"} {
		_, err := c.Increment(ctx, k, t0, time.Minute, cache.FixedWindow)
		require.NoError(t, err)
	}

	_, found, _ := c.Get(ctx, "k1")
	require.True(t, found)

	_, err := c.Increment(ctx, "k3", t0, time.Minute, cache.FixedWindow)
	require.NoError(t, err)

	_, found, _ = c.Get(ctx, "k1")
	assert.False(t, found, "a read keeps k1 the least recently incremented key")
}

func TestUnboundedCache(t *testing.T) {
	ctx := t.Context()
	c := makeCache(ctx, t, WithMaxItems(0), WithClock(func() time.Time { return t0 }))

	for i := range 50 {
		_, err := c.Increment(ctx, fmt.Sprintf("k%d", i), t0, time.Minute, cache.FixedWindow)
		require.NoError(t, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	assert.Equal(t, 50, c.lru.Len())
}
