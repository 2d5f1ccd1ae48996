package cache

import (
	"context"
	"time"

	"exnotify.dev/pkg/exnotify/metrics"
)

// Logger is the minimal logging interface the cache backends need.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards all messages.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}

const (
	metricIncrements = "cache_increments_total"
	metricEvictions  = "cache_evictions_total"
	metricItems      = "cache_items"
	metricLatency    = "cache_operation_latency_seconds"
)

// Metrics records cache activity on a metrics.Manager. A nil *Metrics records nothing.
type Metrics struct {
	manager metrics.Manager
}

// NewMetrics registers the cache metrics on m. Registering twice on the same manager is
// harmless.
func NewMetrics(m metrics.Manager) *Metrics {
	if m == nil {
		return nil
	}

	m.NewCounter(metricIncrements, "Grouping increments by outcome.", "cache_name", "result")
	m.NewCounter(metricEvictions, "Records evicted from the cache.", "cache_name", "reason")
	m.NewGauge(metricItems, "Records currently held by the cache.", "cache_name")
	m.NewHistogram(metricLatency, "Latency of cache operations in seconds.", nil, "cache_name", "operation")

	return &Metrics{manager: m}
}

// Increment records the outcome of an increment: "new" for a record that started (or
// restarted) at 1 and "hit" otherwise.
func (m *Metrics) Increment(ctx context.Context, name string, r Record) {
	if m == nil {
		return
	}

	result := "hit"
	if r.Count == 1 {
		result = "new"
	}

	m.manager.IncrementCounter(ctx, metricIncrements, "cache_name", name, "result", result)
}

func (m *Metrics) Evict(ctx context.Context, name, reason string) {
	if m == nil {
		return
	}

	m.manager.IncrementCounter(ctx, metricEvictions, "cache_name", name, "reason", reason)
}

func (m *Metrics) Items(name string, n int) {
	if m == nil {
		return
	}

	m.manager.SetGauge(metricItems, float64(n), "cache_name", name)
}

func (m *Metrics) Latency(ctx context.Context, name, operation string, start time.Time) {
	if m == nil {
		return
	}

	m.manager.RecordHistogram(ctx, metricLatency, time.Since(start).Seconds(), "cache_name", name, "operation", operation)
}
