// Package dispatch fans an occurrence out to the registered notifiers, after grouping has
// decided whether it should be notified at all.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"exnotify.dev/pkg/exnotify/grouping"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/metrics"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
	"exnotify.dev/pkg/exnotify/trigger"
)

const (
	DefaultNotifierTimeout = 10 * time.Second

	metricOccurrences   = "occurrences_total"
	metricSuppressed    = "suppressed_total"
	metricNotifications = "notifications_total"
	metricDuration      = "notifier_duration_seconds"

	reasonTrigger   = "trigger"
	reasonRateLimit = "rate_limit"
)

// Outcome is the result of one selected notifier.
type Outcome struct {
	Name string
	// Err is nil on success, otherwise a *NotifierFailure.
	Err      error
	Duration time.Duration
	// Attempted is true for every selected name, including one that did not resolve:
	// that failure is logged like any other.
	Attempted bool
}

// Result is the result of one dispatch.
type Result struct {
	// Delivered is true when at least one notifier was attempted, whatever its outcome.
	Delivered bool
	// Suppressed is true when grouping or the rate limit held the notification back.
	Suppressed  bool
	Count       int64
	Fingerprint occurrence.Fingerprint
	Outcomes    []Outcome
}

// Failures returns the outcomes that failed.
func (r Result) Failures() []Outcome {
	var failed []Outcome

	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}

	return failed
}

type Engine struct {
	registry *notifier.Registry
	store    *grouping.Store
	window   time.Duration
	trigger  trigger.Trigger
	strategy occurrence.Strategy
	timeout  time.Duration
	limiter  *rate.Limiter

	logger  logging.Logger
	metrics metrics.Manager
	tracer  trace.Tracer
}

type Option func(*Engine)

// WithGrouping enables grouping of occurrences over store with the given window.
func WithGrouping(store *grouping.Store, window time.Duration) Option {
	return func(e *Engine) {
		e.store = store
		e.window = window
	}
}

// WithTrigger sets the trigger evaluated against grouped counts. Without grouping the
// trigger is not consulted.
func WithTrigger(t trigger.Trigger) Option {
	return func(e *Engine) {
		e.trigger = t
	}
}

func WithFingerprintStrategy(s occurrence.Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithNotifierTimeout bounds each notifier. A notifier still running after d is abandoned
// and recorded as failed with ErrNotifierTimeout.
func WithNotifierTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRateLimit caps notifications to perMinute across all errors. Occurrences over the
// cap are counted but suppressed. Zero disables the cap.
func WithRateLimit(perMinute int) Option {
	return func(e *Engine) {
		if perMinute <= 0 {
			e.limiter = nil
			return
		}

		e.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), max(1, perMinute/10)) //nolint:mnd // 10% burst
	}
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m metrics.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New returns an engine dispatching to the notifiers of registry.
func New(registry *notifier.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		registry: registry,
		timeout:  DefaultNotifierTimeout,
		tracer:   otel.GetTracerProvider().Tracer("exnotify"),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil && e.window <= 0 {
		return nil, fmt.Errorf("%w: %v", grouping.ErrInvalidWindow, e.window)
	}

	if e.logger == nil {
		e.logger = logging.NewLogger(logging.INFO)
	}

	if e.metrics == nil {
		e.metrics = metrics.NewMetricsManager("exnotify", prometheus.NewRegistry(), e.logger)
	}

	e.registerMetrics()

	return e, nil
}

func (e *Engine) registerMetrics() {
	e.metrics.NewCounter(metricOccurrences, "Occurrences dispatched, by kind.", "kind")
	e.metrics.NewCounter(metricSuppressed, "Occurrences counted but not notified, by reason.", "reason")
	e.metrics.NewCounter(metricNotifications, "Notifier invocations, by notifier and status.", "notifier", "status")
	e.metrics.NewHistogram(metricDuration, "Notifier latency in seconds.",
		[]float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}, "notifier")
}

// Dispatch notifies every registered notifier of o, unless grouping suppresses it.
func (e *Engine) Dispatch(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) Result {
	return e.dispatch(ctx, o, opts, nil, false)
}

// DispatchTo notifies only the named notifiers. A nil names selects every registered
// notifier, an empty one selects none.
func (e *Engine) DispatchTo(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options, names []string) Result {
	return e.dispatch(ctx, o, opts, names, names != nil)
}

func (e *Engine) dispatch(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options, names []string,
	override bool) Result {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "exnotify-dispatch")
	defer span.End()

	res := Result{Count: 1, Fingerprint: o.FingerprintWith(e.strategy)}

	span.SetAttributes(
		attribute.String("exnotify.kind", o.Kind()),
		attribute.String("exnotify.fingerprint", string(res.Fingerprint)),
	)

	e.metrics.IncrementCounter(ctx, metricOccurrences, "kind", o.Kind())

	if reason := e.suppress(ctx, &res); reason != "" {
		res.Suppressed = true

		e.metrics.IncrementCounter(ctx, metricSuppressed, "reason", reason)
		span.SetAttributes(attribute.String("exnotify.suppressed", reason))
		e.logDispatch(o, &res, reason, start)

		return res
	}

	targets := names
	if !override {
		targets = e.registry.Names()
	}

	opts = opts.Clone()
	opts[notifier.OptionFingerprint] = string(res.Fingerprint)

	res.Outcomes = e.fanOut(ctx, o, opts, targets)

	for _, out := range res.Outcomes {
		if out.Attempted {
			res.Delivered = true
			break
		}
	}

	span.SetAttributes(attribute.Bool("exnotify.delivered", res.Delivered), attribute.Int64("exnotify.count", res.Count))
	e.logDispatch(o, &res, "", start)

	return res
}

// suppress counts the occurrence and returns why it must not be notified, if it must not.
// A failing store does not suppress: the occurrence is notified as if it were the first.
func (e *Engine) suppress(ctx context.Context, res *Result) string {
	if e.store != nil {
		rec, err := e.store.Increment(ctx, res.Fingerprint, e.window)
		if err != nil {
			e.logger.Errorf("error grouping failed, notifying without it: %v", err)
		} else {
			res.Count = rec.Count
		}

		if !trigger.ShouldNotify(res.Count, e.trigger) {
			return reasonTrigger
		}
	}

	if e.limiter != nil && !e.limiter.Allow() {
		e.logger.Warnf("notification rate limit reached, suppressing %s", res.Fingerprint)

		return reasonRateLimit
	}

	return ""
}

// fanOut invokes each target in its own goroutine, started in target order, and waits
// until every one has returned or been abandoned. Notifiers run concurrently, so only the
// order of the outcomes follows the targets.
func (e *Engine) fanOut(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options, targets []string) []Outcome {
	outcomes := make([]Outcome, len(targets))

	var g errgroup.Group

	for i, name := range targets {
		n, err := e.registry.Resolve(name)
		if err != nil {
			outcomes[i] = e.fail(ctx, name, err, 0, nil)
			outcomes[i].Attempted = true

			continue
		}

		cloned := opts.Clone()

		g.Go(func() error {
			outcomes[i] = e.invoke(ctx, name, n, o, cloned)
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

func (e *Engine) invoke(ctx context.Context, name string, n notifier.Notifier, o *occurrence.Occurrence,
	opts notifier.Options) Outcome {
	ctx, span := e.tracer.Start(ctx, "exnotify-notify", trace.WithAttributes(attribute.String("exnotify.notifier", name)))
	defer span.End()

	start := time.Now()

	nctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		err   error
		stack []occurrence.Frame
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if re := recover(); re != nil {
				p := occurrence.FromPanic(re)
				done <- result{err: &panicError{value: re}, stack: p.Stack()}
			}
		}()

		done <- result{err: n.Notify(nctx, o, opts)}
	}()

	var r result

	select {
	case r = <-done:
	case <-nctx.Done():
		r.err = nctx.Err()
		if errors.Is(r.err, context.DeadlineExceeded) {
			r.err = fmt.Errorf("%w after %v", ErrNotifierTimeout, e.timeout)
		}
	}

	elapsed := time.Since(start)

	e.metrics.RecordHistogram(ctx, metricDuration, elapsed.Seconds(), "notifier", name)

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())

		out := e.fail(ctx, name, r.err, elapsed, r.stack)
		out.Attempted = true

		return out
	}

	e.metrics.IncrementCounter(ctx, metricNotifications, "notifier", name, "status", "success")

	return Outcome{Name: name, Duration: elapsed, Attempted: true}
}

// fail logs a failed notifier at WARN and returns its outcome.
func (e *Engine) fail(ctx context.Context, name string, err error, elapsed time.Duration, stack []occurrence.Frame) Outcome {
	if stack == nil {
		stack = occurrence.ErrorStack(err)
	}

	e.logger.Warn(&NotifierFailureLog{
		Notifier:   name,
		ErrorKind:  failureKind(err),
		Message:    fmt.Sprintf("An error occurred when sending a notification using '%s' notifier: %v", name, err),
		StackTrace: occurrence.FormatStack(stack),
	})

	e.metrics.IncrementCounter(ctx, metricNotifications, "notifier", name, "status", failureStatus(err))

	return Outcome{Name: name, Err: &NotifierFailure{Notifier: name, Err: err}, Duration: elapsed}
}

func failureKind(err error) string {
	if errors.Is(err, ErrNotifierTimeout) {
		return "timeout"
	}

	var p *panicError
	if errors.As(err, &p) {
		if inner, ok := p.value.(error); ok {
			return occurrence.KindOf(inner)
		}

		return occurrence.PanicKind
	}

	return occurrence.KindOf(err)
}

func failureStatus(err error) string {
	switch {
	case errors.Is(err, ErrNotifierTimeout):
		return "timeout"
	case errors.Is(err, ErrNotifierPanic):
		return "panic"
	case errors.Is(err, notifier.ErrNotifierNotFound):
		return "not_found"
	default:
		return "failure"
	}
}

func (e *Engine) logDispatch(o *occurrence.Occurrence, res *Result, suppressed string, start time.Time) {
	e.logger.Debug(&DispatchLog{
		OccurrenceID: o.ID(),
		Kind:         o.Kind(),
		Fingerprint:  string(res.Fingerprint),
		Count:        res.Count,
		Delivered:    res.Delivered,
		Suppressed:   suppressed,
		Notifiers:    len(res.Outcomes),
		Failures:     len(res.Failures()),
		Duration:     time.Since(start).Microseconds(),
	})
}
