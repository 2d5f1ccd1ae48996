package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"exnotify.dev/pkg/exnotify/occurrence"
)

const kindKey = "kind"

// Registry maps unique names to notifiers. It is mutated at setup and read concurrently
// while dispatching.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	notifiers map[string]Notifier
	kinds     map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		kinds:     make(map[string]Constructor),
	}
}

// RegisterKind makes kind available to configuration-based registrations. Registering a
// kind again replaces its constructor.
func (r *Registry) RegisterKind(kind string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kinds[strings.ToLower(kind)] = c
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}

// Register binds name to spec, which is one of:
//
//	Notifier, Func or func(context.Context, *occurrence.Occurrence, Options) error
//	Config or *Config
//	Options or map[string]any, with the kind under "kind"
//
// Re-registering a name replaces its notifier and keeps its position. On error the
// registry is left unchanged.
func (r *Registry) Register(name string, spec any) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNotifierSpec)
	}

	n, err := r.build(name, spec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notifiers[name]; !ok {
		r.names = append(r.names, name)
	}

	r.notifiers[name] = n

	return nil
}

func (r *Registry) build(name string, spec any) (Notifier, error) {
	switch s := spec.(type) {
	case Notifier:
		if isNilNotifier(s) {
			return nil, fmt.Errorf("%w: %q is nil", ErrInvalidNotifierSpec, name)
		}

		return s, nil
	case func(context.Context, *occurrence.Occurrence, Options) error:
		if s == nil {
			return nil, fmt.Errorf("%w: %q is nil", ErrInvalidNotifierSpec, name)
		}

		return Func(s), nil
	case Config:
		return r.construct(name, s)
	case *Config:
		if s == nil {
			return nil, fmt.Errorf("%w: %q is nil", ErrInvalidNotifierSpec, name)
		}

		return r.construct(name, *s)
	case Options:
		return r.constructFromMap(name, s)
	case map[string]any:
		return r.constructFromMap(name, s)
	default:
		return nil, fmt.Errorf("%w: %q defined as %T", ErrInvalidNotifierSpec, name, spec)
	}
}

func isNilNotifier(n Notifier) bool {
	switch v := n.(type) {
	case Func:
		return v == nil
	default:
		return n == nil
	}
}

func (r *Registry) constructFromMap(name string, m map[string]any) (Notifier, error) {
	opts := Options(m).Clone()

	var kind string

	if raw, ok := opts[kindKey]; ok {
		k, isString := raw.(string)
		if !isString {
			return nil, fmt.Errorf("%w: %q has a non-string kind %T", ErrInvalidNotifierSpec, name, raw)
		}

		kind = k

		delete(opts, kindKey)
	}

	return r.construct(name, Config{Kind: kind, Options: opts})
}

func (r *Registry) construct(name string, cfg Config) (Notifier, error) {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = strings.ToLower(name)
	}

	r.mu.RLock()
	c, ok := r.kinds[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q for notifier %q", ErrUnknownNotifierKind, kind, name)
	}

	n, err := c(cfg.Options.Clone())
	if err != nil {
		return nil, fmt.Errorf("building notifier %q of kind %q: %w", name, kind, err)
	}

	if n == nil {
		return nil, fmt.Errorf("%w: constructor of kind %q returned nil", ErrInvalidNotifierSpec, kind)
	}

	return n, nil
}

// Unregister removes name. It is a no-op when name is not registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notifiers[name]; !ok {
		return
	}

	delete(r.notifiers, name)

	r.names = slices.DeleteFunc(r.names, func(n string) bool { return n == name })
}

func (r *Registry) Resolve(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotifierNotFound, name)
	}

	return n, nil
}

// Names returns the registered names in registration order. Callers must not depend on
// the order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.names)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names)
}

// Close closes every registered notifier implementing Closer and returns their errors
// joined.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error

	for _, name := range r.names {
		if c, ok := r.notifiers[name].(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing notifier %q: %w", name, err))
			}
		}
	}

	return errors.Join(errs...)
}
