package notifier

import "errors"

var (
	// ErrInvalidNotifierSpec is returned by Register for a value that is neither a notifier
	// nor a configuration object, or for an empty name.
	ErrInvalidNotifierSpec = errors.New("invalid notifier spec")
	// ErrUnknownNotifierKind is returned by Register when no constructor is registered for a kind.
	ErrUnknownNotifierKind = errors.New("unknown notifier kind")
	ErrNotifierNotFound    = errors.New("notifier not found")
)
