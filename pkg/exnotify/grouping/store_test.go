package grouping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/cache/factory"
	"exnotify.dev/pkg/exnotify/occurrence"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = t
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T, clock *fakeClock) map[string]cache.Cache {
	t.Helper()

	s := miniredis.RunT(t)

	mem, err := factory.NewCache(t.Context(), factory.TypeInMemory, "grouping", factory.WithClock(clock.Now))
	require.NoError(t, err)

	rds, err := factory.NewCache(t.Context(), factory.TypeRedis, "grouping", factory.WithRedisAddr(s.Addr()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = mem.Close(context.Background())
		_ = rds.Close(context.Background())
	})

	return map[string]cache.Cache{"inmemory": mem, "redis": rds}
}

func TestStore_Increment_Concurrent(t *testing.T) {
	const n = 100

	clock := &fakeClock{now: t0}

	for name, c := range backends(t, clock) {
		s := NewStore(c, WithClock(clock.Now))
		fp := occurrence.New(errors.New("connection reset")).Fingerprint()

		var wg sync.WaitGroup

		wg.Add(n)

		for range n {
			go func() {
				defer wg.Done()

				_, err := s.Increment(t.Context(), fp, time.Hour)
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		rec, found, err := s.Get(t.Context(), fp)
		require.NoError(t, err, name)
		require.True(t, found, name)
		assert.Equal(t, int64(n), rec.Count, name)
	}
}

func TestStore_WindowExpiry(t *testing.T) {
	clock := &fakeClock{now: t0}

	for name, c := range backends(t, clock) {
		clock.Set(t0)

		s := NewStore(c, WithClock(clock.Now))
		fp := occurrence.Fingerprint("kind:abc")

		steps := []struct {
			at        time.Duration
			count     int64
			firstSeen time.Duration
		}{
			{0, 1, 0},
			{10 * time.Second, 2, 0},
			{20 * time.Second, 3, 0},
			{60 * time.Second, 1, 60 * time.Second},
			{65 * time.Second, 2, 60 * time.Second},
		}

		for i, st := range steps {
			clock.Set(t0.Add(st.at))

			rec, err := s.Increment(t.Context(), fp, time.Minute)

			require.NoError(t, err, "TEST[%d], Failed.\n%s", i, name)
			assert.Equal(t, st.count, rec.Count, "TEST[%d], Failed.\n%s", i, name)
			assert.True(t, t0.Add(st.firstSeen).Equal(rec.FirstSeen), "TEST[%d], Failed.\n%s", i, name)
		}
	}
}

func TestStore_SlidingPolicy(t *testing.T) {
	clock := &fakeClock{now: t0}

	for name, c := range backends(t, clock) {
		s := NewStore(c, WithClock(clock.Now), WithPolicy(SlidingWindow), WithKeyPrefix("sliding:"))

		for i, at := range []time.Duration{0, 45 * time.Second, 90 * time.Second, 135 * time.Second} {
			clock.Set(t0.Add(at))

			rec, err := s.Increment(t.Context(), "fp", time.Minute)

			require.NoError(t, err, name)
			assert.Equal(t, int64(i+1), rec.Count, "TEST[%d], Failed.\n%s", i, name)
		}

		assert.Equal(t, SlidingWindow, s.Policy())
	}
}

func TestStore_Reset(t *testing.T) {
	clock := &fakeClock{now: t0}

	for name, c := range backends(t, clock) {
		s := NewStore(c, WithClock(clock.Now))

		_, err := s.Increment(t.Context(), "fp-reset", time.Minute)
		require.NoError(t, err, name)

		require.NoError(t, s.Reset(t.Context(), "fp-reset"), name)

		_, found, err := s.Get(t.Context(), "fp-reset")
		require.NoError(t, err, name)
		assert.False(t, found, name)

		rec, err := s.Increment(t.Context(), "fp-reset", time.Minute)
		require.NoError(t, err, name)
		assert.Equal(t, int64(1), rec.Count, name)
	}
}

func TestStore_InvalidWindow(t *testing.T) {
	clock := &fakeClock{now: t0}

	for name, c := range backends(t, clock) {
		s := NewStore(c)

		_, err := s.Increment(t.Context(), "fp", 0)
		require.ErrorIs(t, err, ErrInvalidWindow, name)
	}
}

type failingCache struct {
	cache.Cache
}

var errCacheDown = errors.New("cache down")

func (failingCache) Increment(context.Context, string, time.Time, time.Duration, cache.WindowPolicy) (cache.Record, error) {
	return cache.Record{}, errCacheDown
}

func TestStore_CacheError(t *testing.T) {
	s := NewStore(failingCache{})

	_, err := s.Increment(t.Context(), "fp", time.Minute)

	require.ErrorIs(t, err, errCacheDown)
}

func TestStore_KeyPrefix(t *testing.T) {
	assert.Equal(t, "exception:fp", NewStore(nil).key("fp"))
	assert.Equal(t, "app:fp", NewStore(nil, WithKeyPrefix("app:")).key("fp"))
}
