// Package occurrence holds the immutable record of a caught error and the fingerprint
// used to group recurring occurrences.
package occurrence

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PanicKind is the kind of an occurrence recovered from a panic whose value is not an error.
const PanicKind = "panic"

const (
	// ContextRequest holds the RequestInfo of the request that failed.
	ContextRequest = "request"
	// ContextData holds caller supplied data, map[string]any.
	ContextData = "data"
)

// Occurrence is one caught error plus the context it was caught in. It is never mutated
// after New or FromPanic return.
type Occurrence struct {
	id         string
	kind       string
	message    string
	err        error
	panicValue any
	stack      []Frame
	ownStack   bool
	context    map[string]any
	time       time.Time
	background bool
}

type Option func(*Occurrence)

// WithContext merges values into the occurrence context.
func WithContext(values map[string]any) Option {
	return func(o *Occurrence) {
		maps.Copy(o.context, values)
	}
}

// WithRequest records r under ContextRequest.
func WithRequest(r *http.Request) Option {
	return func(o *Occurrence) {
		if r != nil {
			o.context[ContextRequest] = NewRequestInfo(r)
		}
	}
}

// WithData merges data over whatever is already stored under ContextData.
func WithData(data map[string]any) Option {
	return func(o *Occurrence) {
		if len(data) == 0 {
			return
		}

		merged := make(map[string]any)

		if existing, ok := o.context[ContextData].(map[string]any); ok {
			maps.Copy(merged, existing)
		}

		maps.Copy(merged, data)

		o.context[ContextData] = merged
	}
}

func WithTime(t time.Time) Option {
	return func(o *Occurrence) {
		o.time = t
	}
}

// WithBackground marks the occurrence as raised outside of a request.
func WithBackground() Option {
	return func(o *Occurrence) {
		o.background = true
	}
}

// New builds an occurrence for err. A nil err yields an occurrence of kind "<nil>".
func New(err error, opts ...Option) *Occurrence {
	o := newOccurrence(opts...)

	o.err = err
	o.kind = kindOf(err)

	if err != nil {
		o.message = err.Error()
	}

	if st := stackOf(err); st != nil {
		o.stack = st
		o.ownStack = true
	} else {
		o.stack = callers(3) //nolint:mnd // skips runtime.Callers, callers and New
	}

	return o
}

// FromPanic builds an occurrence for a value returned by recover. It must be called from
// the deferred function that recovered, so that the stack of the panicking goroutine is
// still available.
func FromPanic(re any, opts ...Option) *Occurrence {
	o := newOccurrence(opts...)

	o.panicValue = re

	if err, ok := re.(error); ok {
		o.err = err
		o.kind = kindOf(err)
		o.message = err.Error()
	} else {
		o.err = &PanicError{Value: re}
		o.kind = PanicKind
		o.message = fmt.Sprint(re)
	}

	if st := stackOf(o.err); st != nil {
		o.stack = st
	} else {
		o.stack = panicStack()
	}

	o.ownStack = true

	return o
}

func newOccurrence(opts ...Option) *Occurrence {
	o := &Occurrence{
		id:      uuid.NewString(),
		context: make(map[string]any),
		time:    time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Occurrence) ID() string { return o.id }

// Kind is the grouping class of the error, see kindOf.
func (o *Occurrence) Kind() string { return o.kind }

func (o *Occurrence) Message() string { return o.message }

// Err returns the caught error. For a non-error panic value it is a *PanicError.
func (o *Occurrence) Err() error { return o.err }

// PanicValue returns the recovered value, or nil if the occurrence did not come from a panic.
func (o *Occurrence) PanicValue() any { return o.panicValue }

func (o *Occurrence) Time() time.Time { return o.time }

func (o *Occurrence) Background() bool { return o.background }

// Stack returns a copy of the captured stack, innermost frame first.
func (o *Occurrence) Stack() []Frame {
	return append([]Frame(nil), o.stack...)
}

// Context returns a shallow copy of the context bag.
func (o *Occurrence) Context() map[string]any {
	return maps.Clone(o.context)
}

// Request returns the request the occurrence was caught in, if any.
func (o *Occurrence) Request() (RequestInfo, bool) {
	r, ok := o.context[ContextRequest].(RequestInfo)

	return r, ok
}

// Data returns the caller supplied data.
func (o *Occurrence) Data() map[string]any {
	d, _ := o.context[ContextData].(map[string]any)

	return maps.Clone(d)
}

// PanicError wraps a recovered panic value that is not itself an error.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprint(p.Value)
}

func (*PanicError) Kind() string {
	return PanicKind
}

// kindOf returns the Kind of the first error in the chain implementing it, otherwise the
// dynamic type of the innermost error.
func kindOf(err error) string {
	if err == nil {
		return "<nil>"
	}

	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}

	return fmt.Sprintf("%T", innermost(err))
}

func innermost(err error) error {
	for {
		switch u := err.(type) { //nolint:errorlint // walking the chain by hand
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}

			err = next
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 || errs[0] == nil {
				return err
			}

			err = errs[0]
		default:
			return err
		}
	}
}

// KindOf returns the kind an occurrence of err would have.
func KindOf(err error) string {
	return kindOf(err)
}
