// Package middleware notifies the failures of HTTP handlers and background jobs. It only
// observes: every error and panic is propagated unchanged once notified.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"exnotify.dev/pkg/exnotify/dispatch"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	CascadeHeader = "X-Cascade"
	CascadePass   = "pass"

	dataJob = "job"
)

// Dispatcher is satisfied by *dispatch.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) dispatch.Result
}

// HandlerFunc is a handler returning its error instead of writing it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type Middleware struct {
	dispatcher            Dispatcher
	passThroughSuppressed bool
	options               notifier.Options
	logger                logging.Logger
}

type Option func(*Middleware)

// WithPassThroughSuppressed controls whether passed-through requests are ignored (true,
// the default) or notified as ErrRouteNotFound.
func WithPassThroughSuppressed(suppressed bool) Option {
	return func(m *Middleware) {
		m.passThroughSuppressed = suppressed
	}
}

// WithOptions sets the notifier options of every dispatch.
func WithOptions(opts notifier.Options) Option {
	return func(m *Middleware) {
		m.options = opts.Clone()
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Middleware) {
		m.logger = l
	}
}

func New(d Dispatcher, opts ...Option) *Middleware {
	m := &Middleware{
		dispatcher:            d,
		passThroughSuppressed: true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// HTTP notifies panics of next, and passed-through requests when pass-through is not
// suppressed. A panic is re-raised after notification; http.ErrAbortHandler is re-raised
// without one.
func (m *Middleware) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, report := WithReport(r.Context())
		r = r.WithContext(ctx)

		defer func() {
			if re := recover(); re != nil {
				m.notifyPanic(r, re, report)
				panic(re)
			}
		}()

		next.ServeHTTP(w, r)

		if !m.passThroughSuppressed && w.Header().Get(CascadeHeader) == CascadePass {
			err := &PassThroughError{Method: r.Method, Path: r.URL.Path}

			m.notify(ctx, report, occurrence.New(err, m.requestOptions(r, report)...))
		}
	})
}

// Wrap notifies the error returned by h, and its panics, then hands them on unchanged.
func (m *Middleware) Wrap(h HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		ctx, report := WithReport(r.Context())
		r = r.WithContext(ctx)

		defer func() {
			if re := recover(); re != nil {
				m.notifyPanic(r, re, report)
				panic(re)
			}
		}()

		err := h(w, r)
		if err != nil {
			m.notify(ctx, report, occurrence.New(err, m.requestOptions(r, report)...))
		}

		return err
	}
}

// Job notifies the failures of a background job. The occurrence is marked background and
// its data carries the job name.
func (m *Middleware) Job(name string, job func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, report := WithReport(ctx)

		defer func() {
			if re := recover(); re != nil {
				if !errors.Is(asError(re), http.ErrAbortHandler) && report.claimPanic(re) {
					o := occurrence.FromPanic(re, m.jobOptions(name, report)...)
					m.notify(ctx, report, o)
				}

				panic(re)
			}
		}()

		err := job(ctx)
		if err != nil {
			m.notify(ctx, report, occurrence.New(err, m.jobOptions(name, report)...))
		}

		return err
	}
}

// notifyPanic must be called from the deferred function that recovered re, so the
// occurrence gets the stack of the panic. A panic already notified by an inner layer is
// skipped.
func (m *Middleware) notifyPanic(r *http.Request, re any, report *Report) {
	if errors.Is(asError(re), http.ErrAbortHandler) || !report.claimPanic(re) {
		return
	}

	m.notify(r.Context(), report, occurrence.FromPanic(re, m.requestOptions(r, report)...))
}

func (m *Middleware) notify(ctx context.Context, report *Report, o *occurrence.Occurrence) {
	// the request may be cancelled by now, the notification should still go out.
	res := m.dispatcher.Dispatch(context.WithoutCancel(ctx), o, m.options.Clone())

	report.record(res)

	if m.logger != nil {
		m.logger.Debugf("notified %s %q: delivered=%v count=%d", o.Kind(), o.Message(), res.Delivered, res.Count)
	}
}

func (*Middleware) requestOptions(r *http.Request, report *Report) []occurrence.Option {
	return []occurrence.Option{occurrence.WithRequest(r), occurrence.WithData(report.snapshot())}
}

func (*Middleware) jobOptions(name string, report *Report) []occurrence.Option {
	return []occurrence.Option{
		occurrence.WithBackground(),
		occurrence.WithData(report.snapshot()),
		occurrence.WithData(map[string]any{dataJob: name}),
	}
}

func asError(re any) error {
	err, _ := re.(error)

	return err
}

// CascadeNotFound answers unmatched routes with a JSON 404 and "X-Cascade: pass", so that
// HTTP can notify them. Use it as a gorilla/mux router's NotFoundHandler.
func CascadeNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(CascadeHeader, CascadePass)

		respondError(w, &PassThroughError{Method: r.Method, Path: r.URL.Path})
	})
}

type errResponse struct {
	Message string `json:"message"`
}

type statusCodeResponder interface {
	StatusCode() int
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var sc statusCodeResponder
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		status = sc.StatusCode()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{"error": errResponse{Message: err.Error()}})
}
