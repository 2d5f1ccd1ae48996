package exnotify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/metrics"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
	"exnotify.dev/pkg/exnotify/trigger"
)

const (
	DefaultGroupingPeriod = 5 * time.Minute
	DefaultMaxItems       = 10000
)

type settings struct {
	grouping    bool
	period      time.Duration
	cache       cache.Cache
	cacheType   string
	maxItems    int
	redisAddr   string
	redisPass   string
	redisDB     int
	keyPrefix   string
	policy      cache.WindowPolicy
	now         func() time.Time
	trigger     trigger.Trigger
	strategy    occurrence.Strategy
	timeout     time.Duration
	rateLimit   int
	passThrough bool
	options     notifier.Options

	logger     logging.Logger
	metrics    metrics.Manager
	registerer prometheus.Registerer

	notifiers []namedSpec
}

type namedSpec struct {
	name string
	spec any
}

type Option func(*settings)

// WithGrouping turns grouping on with the given window. A non-positive period fails New
// with grouping.ErrInvalidWindow.
func WithGrouping(period time.Duration) Option {
	return func(s *settings) {
		s.grouping = true
		s.period = period
	}
}

// WithCache groups over c instead of an in-memory cache. Shutdown closes c.
func WithCache(c cache.Cache) Option {
	return func(s *settings) {
		s.cache = c
	}
}

// WithRedis groups over Redis at addr.
func WithRedis(addr, password string, db int) Option {
	return func(s *settings) {
		s.cacheType = "redis"
		s.redisAddr = addr
		s.redisPass = password
		s.redisDB = db
	}
}

// WithMaxItems bounds the in-memory grouping cache.
func WithMaxItems(n int) Option {
	return func(s *settings) {
		s.maxItems = n
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		s.keyPrefix = prefix
	}
}

func WithWindowPolicy(p cache.WindowPolicy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithClock sets the clock of grouping, and of the in-memory cache built by New.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

func WithTrigger(t trigger.Trigger) Option {
	return func(s *settings) {
		s.trigger = t
	}
}

func WithFingerprintStrategy(st occurrence.Strategy) Option {
	return func(s *settings) {
		s.strategy = st
	}
}

func WithNotifierTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithRateLimit caps notifications per minute across all errors. Zero disables the cap.
func WithRateLimit(perMinute int) Option {
	return func(s *settings) {
		s.rateLimit = perMinute
	}
}

// WithPassThroughSuppressed controls whether requests answered with "X-Cascade: pass"
// are ignored (the default) or notified.
func WithPassThroughSuppressed(suppressed bool) Option {
	return func(s *settings) {
		s.passThrough = suppressed
	}
}

// WithOptions sets the notifier options the middleware dispatches with.
func WithOptions(opts notifier.Options) Option {
	return func(s *settings) {
		s.options = opts.Clone()
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

func WithMetrics(m metrics.Manager) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithRegisterer registers the exnotify metrics on r. It is ignored when WithMetrics is
// given.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = r
	}
}

// WithNotifier registers a notifier at construction, exactly as Register would.
func WithNotifier(name string, spec any) Option {
	return func(s *settings) {
		s.notifiers = append(s.notifiers, namedSpec{name: name, spec: spec})
	}
}
