// Package config reads exnotify settings from the environment and from .env files.
package config

type Config interface {
	Get(string) string
	GetOrDefault(string, string) string
}

// Lister is implemented by configs that can enumerate their keys. Notifier options are
// discovered by key prefix, so configs used with exnotify.NewFromConfig should implement it.
type Lister interface {
	Keys() []string
}
