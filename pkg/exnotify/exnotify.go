/*
Package exnotify notifies the failures of HTTP handlers and background jobs to a set of
named notifiers, optionally grouping recurring errors so that a storm of one failure sends
one notification.

	n, err := exnotify.New(ctx,
		exnotify.WithGrouping(time.Minute),
		exnotify.WithTrigger(trigger.FirstAndEveryNth(100)),
		exnotify.WithNotifier("ops", notifier.Config{Kind: "slack", Options: notifier.Options{"url": hook}}),
	)

	router.Use(n.HTTP)
*/
package exnotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/cache/factory"
	"exnotify.dev/pkg/exnotify/dispatch"
	"exnotify.dev/pkg/exnotify/grouping"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/metrics"
	"exnotify.dev/pkg/exnotify/middleware"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/notifier/email"
	"exnotify.dev/pkg/exnotify/notifier/kafka"
	"exnotify.dev/pkg/exnotify/notifier/mqtt"
	"exnotify.dev/pkg/exnotify/notifier/nats"
	"exnotify.dev/pkg/exnotify/notifier/sns"
	"exnotify.dev/pkg/exnotify/notifier/webhook"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const groupingCacheName = "exnotify-grouping"

type ExceptionNotifier struct {
	registry   *notifier.Registry
	engine     *dispatch.Engine
	store      *grouping.Store
	middleware *middleware.Middleware
	logger     logging.Logger

	shutdown sync.Once
	closeErr error
}

// New builds an ExceptionNotifier. Notifiers given with WithNotifier are registered before
// it returns; the first failing registration fails New.
func New(ctx context.Context, opts ...Option) (*ExceptionNotifier, error) {
	s := &settings{
		period:      DefaultGroupingPeriod,
		maxItems:    DefaultMaxItems,
		keyPrefix:   grouping.DefaultKeyPrefix,
		policy:      cache.FixedWindow,
		passThrough: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.NewLogger(logging.INFO)
	}

	if s.metrics == nil {
		reg := s.registerer
		if reg == nil {
			reg = prometheus.NewRegistry()
		}

		s.metrics = metrics.NewMetricsManager("exnotify", reg, s.logger)
	}

	n := &ExceptionNotifier{registry: notifier.NewRegistry(), logger: s.logger}

	registerKinds(n.registry, s.logger)

	for _, ns := range s.notifiers {
		if err := n.registry.Register(ns.name, ns.spec); err != nil {
			_ = n.registry.Close()

			return nil, err
		}
	}

	engineOpts := []dispatch.Option{
		dispatch.WithTrigger(s.trigger),
		dispatch.WithFingerprintStrategy(s.strategy),
		dispatch.WithNotifierTimeout(s.timeout),
		dispatch.WithRateLimit(s.rateLimit),
		dispatch.WithLogger(s.logger),
		dispatch.WithMetrics(s.metrics),
	}

	if s.grouping {
		store, err := newStore(ctx, s)
		if err != nil {
			_ = n.registry.Close()

			return nil, err
		}

		n.store = store

		engineOpts = append(engineOpts, dispatch.WithGrouping(store, s.period))
	}

	engine, err := dispatch.New(n.registry, engineOpts...)
	if err != nil {
		_ = n.Shutdown(ctx)

		return nil, err
	}

	n.engine = engine
	n.middleware = middleware.New(engine,
		middleware.WithPassThroughSuppressed(s.passThrough),
		middleware.WithOptions(s.options),
		middleware.WithLogger(s.logger),
	)

	return n, nil
}

func newStore(ctx context.Context, s *settings) (*grouping.Store, error) {
	if s.period <= 0 {
		return nil, fmt.Errorf("%w: %v", grouping.ErrInvalidWindow, s.period)
	}

	c := s.cache

	if c == nil {
		cacheOpts := []factory.Option{
			factory.WithLogger(s.logger),
			factory.WithMetrics(s.metrics),
			factory.WithMaxItems(s.maxItems),
			factory.WithKeyPattern(s.keyPrefix + "*"),
		}

		if s.now != nil {
			cacheOpts = append(cacheOpts, factory.WithClock(s.now))
		}

		if s.cacheType == factory.TypeRedis {
			cacheOpts = append(cacheOpts, factory.WithRedisAddr(s.redisAddr),
				factory.WithRedisPassword(s.redisPass), factory.WithRedisDB(s.redisDB))
		}

		var err error

		c, err = factory.NewCache(ctx, s.cacheType, groupingCacheName, cacheOpts...)
		if err != nil {
			return nil, err
		}
	}

	return grouping.NewStore(c,
		grouping.WithClock(s.now),
		grouping.WithKeyPrefix(s.keyPrefix),
		grouping.WithPolicy(s.policy),
	), nil
}

// registerKinds makes the built-in notifiers available to configuration-based
// registrations.
func registerKinds(r *notifier.Registry, logger logging.Logger) {
	r.RegisterKind(email.Kind, email.New)
	r.RegisterKind(webhook.Kind, webhook.New)
	r.RegisterKind(webhook.FormatSlack, webhook.Constructor(webhook.FormatSlack))
	r.RegisterKind(webhook.FormatTeams, webhook.Constructor(webhook.FormatTeams))
	r.RegisterKind(webhook.FormatDiscord, webhook.Constructor(webhook.FormatDiscord))
	r.RegisterKind(sns.Kind, sns.Constructor(logger))
	r.RegisterKind(kafka.Kind, kafka.Constructor(logger))
	r.RegisterKind(nats.Kind, nats.Constructor(logger))
	r.RegisterKind(mqtt.Kind, mqtt.Constructor(logger))
}

// Register binds name to a notifier. See notifier.Registry.Register for the accepted specs.
func (n *ExceptionNotifier) Register(name string, spec any) error {
	return n.registry.Register(name, spec)
}

// Unregister removes name. Unknown names are ignored.
func (n *ExceptionNotifier) Unregister(name string) {
	n.registry.Unregister(name)
}

// RegisterKind adds a constructor for configuration-based registrations.
func (n *ExceptionNotifier) RegisterKind(kind string, c notifier.Constructor) {
	n.registry.RegisterKind(kind, c)
}

// Notifiers returns the registered notifier names.
func (n *ExceptionNotifier) Notifiers() []string {
	return n.registry.Names()
}

type notifyCall struct {
	occurrence []occurrence.Option
	options    notifier.Options
	names      []string
	background bool
}

type NotifyOption func(*notifyCall)

// WithRequest records r with the occurrence. The occurrence is no longer a background one.
func WithRequest(r *http.Request) NotifyOption {
	return func(c *notifyCall) {
		c.occurrence = append(c.occurrence, occurrence.WithRequest(r))
		c.background = false
	}
}

// WithData attaches data to the occurrence.
func WithData(data map[string]any) NotifyOption {
	return func(c *notifyCall) {
		c.occurrence = append(c.occurrence, occurrence.WithData(data))
	}
}

// WithNotifyOptions passes opts to every notifier.
func WithNotifyOptions(opts notifier.Options) NotifyOption {
	return func(c *notifyCall) {
		c.options = opts
	}
}

// To restricts the notification to the named notifiers.
func To(names ...string) NotifyOption {
	return func(c *notifyCall) {
		c.names = append([]string{}, names...)
	}
}

// NotifyException notifies err outside of the middleware, as a background occurrence
// unless WithRequest is given. A nil err is not notified.
func (n *ExceptionNotifier) NotifyException(ctx context.Context, err error, opts ...NotifyOption) dispatch.Result {
	if err == nil {
		return dispatch.Result{}
	}

	c := &notifyCall{background: true}

	for _, opt := range opts {
		opt(c)
	}

	occOpts := c.occurrence
	if c.background {
		occOpts = append(occOpts, occurrence.WithBackground())
	}

	o := occurrence.New(err, occOpts...)

	if c.names != nil {
		return n.engine.DispatchTo(ctx, o, c.options, c.names)
	}

	return n.engine.Dispatch(ctx, o, c.options)
}

// Middleware returns the interception middleware bound to this notifier.
func (n *ExceptionNotifier) Middleware() *middleware.Middleware {
	return n.middleware
}

// HTTP wraps next with the interception middleware. It fits mux.Router.Use.
func (n *ExceptionNotifier) HTTP(next http.Handler) http.Handler {
	return n.middleware.HTTP(next)
}

// Job wraps a background job so its failures are notified.
func (n *ExceptionNotifier) Job(name string, job func(ctx context.Context) error) func(ctx context.Context) error {
	return n.middleware.Job(name, job)
}

// Engine returns the dispatch engine.
func (n *ExceptionNotifier) Engine() *dispatch.Engine {
	return n.engine
}

// Grouping returns the grouping store, or nil when grouping is off.
func (n *ExceptionNotifier) Grouping() *grouping.Store {
	return n.store
}

// Shutdown closes every notifier holding connections and the grouping cache. Calls after
// the first return the first result.
func (n *ExceptionNotifier) Shutdown(ctx context.Context) error {
	n.shutdown.Do(func() {
		var errs []error

		if err := n.registry.Close(); err != nil {
			errs = append(errs, err)
		}

		if n.store != nil {
			if err := n.store.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		n.closeErr = errors.Join(errs...)

		if n.closeErr != nil {
			n.logger.Errorf("error shutting down exception notifier: %v", n.closeErr)
		}
	})

	return n.closeErr
}
