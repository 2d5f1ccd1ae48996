package middleware

import (
	"context"
	"maps"
	"reflect"
	"sync"

	"exnotify.dev/pkg/exnotify/dispatch"
)

type reportKey struct{}

// Report tells code running after a handler whether its failure was notified, and lets a
// handler attach data to the occurrence it may raise.
type Report struct {
	mu     sync.Mutex
	result *dispatch.Result
	data   map[string]any

	panicked   bool
	panicValue any
}

// WithReport returns ctx carrying a Report. If ctx already carries one it is reused.
func WithReport(ctx context.Context) (context.Context, *Report) {
	if r, ok := ReportFromContext(ctx); ok {
		return ctx, r
	}

	r := &Report{}

	return context.WithValue(ctx, reportKey{}, r), r
}

func ReportFromContext(ctx context.Context) (*Report, bool) {
	r, ok := ctx.Value(reportKey{}).(*Report)

	return r, ok
}

// AddData attaches key to the data of any occurrence raised under ctx. It is a no-op when
// ctx carries no Report.
func AddData(ctx context.Context, key string, value any) {
	r, ok := ReportFromContext(ctx)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		r.data = make(map[string]any)
	}

	r.data[key] = value
}

// Delivered reports whether an occurrence was dispatched to at least one notifier.
func (r *Report) Delivered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result != nil && r.result.Delivered
}

// Result returns the dispatch result, if anything was dispatched.
func (r *Report) Result() (dispatch.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result == nil {
		return dispatch.Result{}, false
	}

	return *r.result, true
}

func (r *Report) record(res dispatch.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result = &res
}

func (r *Report) snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.data)
}

// claimPanic marks re as notified and reports whether it still had to be. Nested layers
// sharing the Report see the re-raised value again and must not notify it twice.
func (r *Report) claimPanic(re any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.panicked && samePanic(r.panicValue, re) {
		return false
	}

	r.panicked, r.panicValue = true, re

	return true
}

func samePanic(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	// values such as slices cannot be compared, the type has to do.
	if ta != nil && !ta.Comparable() {
		return true
	}

	return a == b
}
