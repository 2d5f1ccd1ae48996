package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"exnotify.dev/pkg/exnotify/metrics"
)

func TestNext(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	window := time.Minute

	tests := []struct {
		desc   string
		prev   Record
		found  bool
		now    time.Time
		policy WindowPolicy
		want   Record
	}{
		{"first occurrence", Record{}, false, t0, FixedWindow, Record{1, t0, t0}},
		{"inside window", Record{1, t0, t0}, true, t0.Add(10 * time.Second), FixedWindow,
			Record{2, t0, t0.Add(10 * time.Second)}},
		{"fixed window elapsed", Record{5, t0, t0.Add(50 * time.Second)}, true, t0.Add(window), FixedWindow,
			Record{1, t0.Add(window), t0.Add(window)}},
		{"sliding window kept alive", Record{5, t0, t0.Add(50 * time.Second)}, true, t0.Add(window), SlidingWindow,
			Record{6, t0, t0.Add(window)}},
		{"sliding window elapsed", Record{5, t0, t0.Add(time.Second)}, true, t0.Add(time.Second + window), SlidingWindow,
			Record{1, t0.Add(time.Second + window), t0.Add(time.Second + window)}},
	}

	for i, tc := range tests {
		got := Next(tc.prev, tc.found, tc.now, window, tc.policy)

		assert.Equal(t, tc.want, got, "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestParseWindowPolicy(t *testing.T) {
	p, err := ParseWindowPolicy("Sliding")
	require.NoError(t, err)
	assert.Equal(t, SlidingWindow, p)
	assert.Equal(t, "sliding", p.String())

	p, err = ParseWindowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FixedWindow, p)
	assert.Equal(t, "fixed", p.String())

	_, err = ParseWindowPolicy("tumbling")
	require.ErrorIs(t, err, ErrUnknownWindowPolicy)
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Validate("", time.Second), ErrEmptyKey)
	require.ErrorIs(t, Validate("k", 0), ErrNonPositiveWindow)
	require.ErrorIs(t, Validate("k", -time.Second), ErrNonPositiveWindow)
	require.NoError(t, Validate("k", time.Second))
}

func TestMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := metrics.NewMockManager(ctrl)
	ctx := context.Background()

	m.EXPECT().NewCounter(metricIncrements, gomock.Any(), "cache_name", "result")
	m.EXPECT().NewCounter(metricEvictions, gomock.Any(), "cache_name", "reason")
	m.EXPECT().NewGauge(metricItems, gomock.Any(), "cache_name")
	m.EXPECT().NewHistogram(metricLatency, gomock.Any(), nil, "cache_name", "operation")

	m.EXPECT().IncrementCounter(ctx, metricIncrements, "cache_name", "grouping", "result", "new")
	m.EXPECT().IncrementCounter(ctx, metricIncrements, "cache_name", "grouping", "result", "hit")
	m.EXPECT().IncrementCounter(ctx, metricEvictions, "cache_name", "grouping", "reason", "expired")
	m.EXPECT().SetGauge(metricItems, float64(3), "cache_name", "grouping")
	m.EXPECT().RecordHistogram(ctx, metricLatency, gomock.Any(), "cache_name", "grouping", "operation", "increment")

	cm := NewMetrics(m)
	cm.Increment(ctx, "grouping", Record{Count: 1})
	cm.Increment(ctx, "grouping", Record{Count: 2})
	cm.Evict(ctx, "grouping", "expired")
	cm.Items("grouping", 3)
	cm.Latency(ctx, "grouping", "increment", time.Now())
}

func TestMetrics_Nil(t *testing.T) {
	var cm *Metrics

	assert.Nil(t, NewMetrics(nil))
	assert.NotPanics(t, func() {
		cm.Increment(context.Background(), "x", Record{})
		cm.Evict(context.Background(), "x", "lru")
		cm.Items("x", 1)
		cm.Latency(context.Background(), "x", "get", time.Now())
	})
}
