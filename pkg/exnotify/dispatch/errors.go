package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotifierTimeout marks a notifier abandoned after the notifier timeout.
	ErrNotifierTimeout = errors.New("notifier timed out")
	// ErrNotifierPanic marks a notifier that panicked.
	ErrNotifierPanic = errors.New("notifier panicked")
)

// NotifierFailure is the failure of one notifier. It is recorded in the Outcome and logged,
// never returned to the caller of Dispatch.
type NotifierFailure struct {
	Notifier string
	Err      error
}

func (f *NotifierFailure) Error() string {
	return fmt.Sprintf("notifier %q: %v", f.Notifier, f.Err)
}

func (f *NotifierFailure) Unwrap() error {
	return f.Err
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrNotifierPanic, p.value)
}

func (*panicError) Unwrap() error {
	return ErrNotifierPanic
}
