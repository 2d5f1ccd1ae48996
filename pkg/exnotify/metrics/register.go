// Package metrics provides the prometheus-backed metrics manager used by the dispatch engine,
// the grouping caches and the notifiers.
package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Errors are logged rather than returned so call sites stay one line long.

type Manager interface {
	NewCounter(name, desc string, labels ...string)
	NewHistogram(name, desc string, buckets []float64, labels ...string)
	NewGauge(name, desc string, labels ...string)

	IncrementCounter(ctx context.Context, name string, labels ...string)
	RecordHistogram(ctx context.Context, name string, value float64, labels ...string)
	SetGauge(name string, value float64, labels ...string)
}

type Logger interface {
	Errorf(format string, args ...any)
}

type metricsManager struct {
	namespace  string
	registerer prometheus.Registerer
	logger     Logger

	mu         sync.RWMutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
}

type vec[T any] struct {
	collector T
	labels    []string
}

// NewMetricsManager returns a Manager registering its collectors on registerer. A nil
// registerer means prometheus.DefaultRegisterer.
func NewMetricsManager(namespace string, registerer prometheus.Registerer, logger Logger) Manager {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &metricsManager{
		namespace:  namespace,
		registerer: registerer,
		logger:     logger,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
	}
}

// NewCounter registers a monotonically increasing counter.
//
//	Usage: m.NewCounter("notifications_total", "Notifications sent", "notifier", "status")
func (m *metricsManager) NewCounter(name, desc string, labels ...string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: m.namespace, Name: name, Help: desc}, labels)

	if existing, ok := m.register(name, c).(*prometheus.CounterVec); ok {
		m.mu.Lock()
		m.counters[name] = &vec[*prometheus.CounterVec]{collector: existing, labels: labels}
		m.mu.Unlock()
	}
}

// NewHistogram registers a histogram. Nil buckets fall back to prometheus.DefBuckets.
func (m *metricsManager) NewHistogram(name, desc string, buckets []float64, labels ...string) {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: m.namespace, Name: name, Help: desc,
		Buckets: buckets}, labels)

	if existing, ok := m.register(name, h).(*prometheus.HistogramVec); ok {
		m.mu.Lock()
		m.histograms[name] = &vec[*prometheus.HistogramVec]{collector: existing, labels: labels}
		m.mu.Unlock()
	}
}

func (m *metricsManager) NewGauge(name, desc string, labels ...string) {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: desc}, labels)

	if existing, ok := m.register(name, g).(*prometheus.GaugeVec); ok {
		m.mu.Lock()
		m.gauges[name] = &vec[*prometheus.GaugeVec]{collector: existing, labels: labels}
		m.mu.Unlock()
	}
}

// IncrementCounter increments a registered counter. labels are key/value pairs, as in
// IncrementCounter(ctx, "notifications_total", "notifier", "email", "status", "ok").
func (m *metricsManager) IncrementCounter(_ context.Context, name string, labels ...string) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()

	if !ok {
		m.logger.Errorf("%v", metricsNotRegistered{metricsName: name})

		return
	}

	values, err := labelValues(name, c.labels, labels)
	if err != nil {
		m.logger.Errorf("%v", err)

		return
	}

	c.collector.WithLabelValues(values...).Inc()
}

func (m *metricsManager) RecordHistogram(_ context.Context, name string, value float64, labels ...string) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.logger.Errorf("%v", metricsNotRegistered{metricsName: name})

		return
	}

	values, err := labelValues(name, h.labels, labels)
	if err != nil {
		m.logger.Errorf("%v", err)

		return
	}

	h.collector.WithLabelValues(values...).Observe(value)
}

func (m *metricsManager) SetGauge(name string, value float64, labels ...string) {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()

	if !ok {
		m.logger.Errorf("%v", metricsNotRegistered{metricsName: name})

		return
	}

	values, err := labelValues(name, g.labels, labels)
	if err != nil {
		m.logger.Errorf("%v", err)

		return
	}

	g.collector.WithLabelValues(values...).Set(value)
}

// register registers c and returns the collector to use: c itself, or the identical
// collector registered earlier (two managers sharing one registerer). It returns nil when
// registration failed.
func (m *metricsManager) register(name string, c prometheus.Collector) prometheus.Collector {
	err := m.registerer.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}

	m.logger.Errorf("%v", metricsAlreadyRegistered{metricsName: name, err: err})

	return nil
}
