/*
Package notifier defines the Notifier capability an occurrence is delivered through, and
the Registry holding the named notifiers of an application.

A notifier is registered either ready-made (a Notifier, a Func or a plain function) or from
configuration, in which case the constructor registered for its kind builds it.
*/
package notifier

import (
	"context"
	"maps"

	"exnotify.dev/pkg/exnotify/occurrence"
)

// Notifier delivers an occurrence to one channel. A returned error, or a panic, means the
// delivery failed.
type Notifier interface {
	Notify(ctx context.Context, o *occurrence.Occurrence, opts Options) error
}

// Func adapts a function to a Notifier.
type Func func(ctx context.Context, o *occurrence.Occurrence, opts Options) error

func (f Func) Notify(ctx context.Context, o *occurrence.Occurrence, opts Options) error {
	return f(ctx, o, opts)
}

// Closer is implemented by notifiers holding connections. They are closed on shutdown.
type Closer interface {
	Close() error
}

// Options carries per-notification settings. Renderer options such as "sections" are
// opaque to the dispatcher.
type Options map[string]any

// Clone returns a deep copy of o: nested maps and slices are copied, so that one notifier
// can never observe another's mutations.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}

	c := make(Options, len(o))

	for k, v := range o {
		c[k] = cloneValue(v)
	}

	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Options:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}

		return m
	case map[string]string:
		return maps.Clone(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}

		return s
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// Config describes a notifier to be built by the constructor registered for Kind. An
// empty Kind means the registration name.
type Config struct {
	Kind    string
	Options Options
}

// Constructor builds a notifier from its options. It should fail on invalid options
// rather than at the first notification.
type Constructor func(opts Options) (Notifier, error)
