package exnotify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/cache/factory"
	"exnotify.dev/pkg/exnotify/config"
	"exnotify.dev/pkg/exnotify/logging"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
	"exnotify.dev/pkg/exnotify/trigger"
)

const (
	keyGrouping         = "EXCEPTION_GROUPING"
	keyGroupingPeriod   = "EXCEPTION_GROUPING_PERIOD"
	keyGroupingCache    = "EXCEPTION_GROUPING_CACHE"
	keyGroupingMaxItems = "EXCEPTION_GROUPING_MAX_ITEMS"
	keyGroupingWindow   = "EXCEPTION_GROUPING_WINDOW"
	keyGroupingPrefix   = "EXCEPTION_GROUPING_KEY_PREFIX"
	keyFingerprint      = "EXCEPTION_FINGERPRINT"
	keyTrigger          = "EXCEPTION_TRIGGER"
	keyPassThrough      = "EXCEPTION_PASS_THROUGH_SUPPRESSED"
	keyNotifierTimeout  = "EXCEPTION_NOTIFIER_TIMEOUT"
	keyRateLimit        = "EXCEPTION_RATE_LIMIT"
	keyNotifiers        = "EXCEPTION_NOTIFIERS"
	notifierKeyPrefix   = "EXCEPTION_NOTIFIER_"
	notifierKindSuffix  = "KIND"

	keyRedisHost     = "REDIS_HOST"
	keyRedisPort     = "REDIS_PORT"
	keyRedisPassword = "REDIS_PASSWORD"
	keyRedisDB       = "REDIS_DB"

	defaultRedisPort = "6379"
)

var ErrInvalidConfig = errors.New("invalid exception notifier configuration")

// NewFromConfig builds an ExceptionNotifier from EXCEPTION_* keys. Notifiers listed in
// EXCEPTION_NOTIFIERS take their options from EXCEPTION_NOTIFIER_<NAME>_<KEY> keys, which
// requires conf to implement config.Lister. opts are applied after the configuration.
func NewFromConfig(ctx context.Context, conf config.Config, logger logging.Logger, opts ...Option) (*ExceptionNotifier, error) {
	parsed, err := optionsFromConfig(conf)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		parsed = append([]Option{WithLogger(logger)}, parsed...)
	}

	return New(ctx, append(parsed, opts...)...)
}

func optionsFromConfig(conf config.Config) ([]Option, error) {
	var opts []Option

	grouping, err := parseBool(conf, keyGrouping, "false")
	if err != nil {
		return nil, err
	}

	if grouping {
		groupingOpts, err := groupingFromConfig(conf)
		if err != nil {
			return nil, err
		}

		opts = append(opts, groupingOpts...)
	}

	t, err := trigger.Parse(conf.Get(keyTrigger))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, keyTrigger, err)
	}

	strategy, err := parseStrategy(conf.GetOrDefault(keyFingerprint, "default"))
	if err != nil {
		return nil, err
	}

	passThrough, err := parseBool(conf, keyPassThrough, "true")
	if err != nil {
		return nil, err
	}

	timeout, err := parseDuration(conf, keyNotifierTimeout, "10s")
	if err != nil {
		return nil, err
	}

	rateLimit, err := parseInt(conf, keyRateLimit, "0")
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		WithTrigger(t),
		WithFingerprintStrategy(strategy),
		WithPassThroughSuppressed(passThrough),
		WithNotifierTimeout(timeout),
		WithRateLimit(rateLimit),
	)

	notifiers, err := notifiersFromConfig(conf)
	if err != nil {
		return nil, err
	}

	return append(opts, notifiers...), nil
}

func groupingFromConfig(conf config.Config) ([]Option, error) {
	period, err := parseDuration(conf, keyGroupingPeriod, DefaultGroupingPeriod.String())
	if err != nil {
		return nil, err
	}

	maxItems, err := parseInt(conf, keyGroupingMaxItems, strconv.Itoa(DefaultMaxItems))
	if err != nil {
		return nil, err
	}

	policy, err := cache.ParseWindowPolicy(conf.GetOrDefault(keyGroupingWindow, "fixed"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, keyGroupingWindow, err)
	}

	opts := []Option{
		WithGrouping(period),
		WithMaxItems(maxItems),
		WithWindowPolicy(policy),
	}

	if prefix := conf.Get(keyGroupingPrefix); prefix != "" {
		opts = append(opts, WithKeyPrefix(prefix))
	}

	switch cacheType := strings.ToLower(conf.GetOrDefault(keyGroupingCache, factory.TypeInMemory)); cacheType {
	case factory.TypeInMemory:
	case factory.TypeRedis:
		host := conf.Get(keyRedisHost)
		if host == "" {
			return nil, fmt.Errorf("%w: %s is required for the redis grouping cache", ErrInvalidConfig, keyRedisHost)
		}

		db, err := parseInt(conf, keyRedisDB, "0")
		if err != nil {
			return nil, err
		}

		addr := net.JoinHostPort(host, conf.GetOrDefault(keyRedisPort, defaultRedisPort))

		opts = append(opts, WithRedis(addr, conf.Get(keyRedisPassword), db))
	default:
		return nil, fmt.Errorf("%w: %s: unknown cache %q", ErrInvalidConfig, keyGroupingCache, cacheType)
	}

	return opts, nil
}

// notifiersFromConfig builds one registration per name in EXCEPTION_NOTIFIERS. A key is
// attributed to the longest listed name it is prefixed by, so "ops" and "ops_slack" do
// not share keys.
func notifiersFromConfig(conf config.Config) ([]Option, error) {
	var names []string

	for _, name := range strings.Split(conf.Get(keyNotifiers), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return nil, nil
	}

	lister, ok := conf.(config.Lister)
	if !ok {
		return nil, fmt.Errorf("%w: %s is set but the configuration cannot list its keys", ErrInvalidConfig, keyNotifiers)
	}

	options := make(map[string]notifier.Options, len(names))
	for _, name := range names {
		options[name] = notifier.Options{}
	}

	// longest names first, so that the first match is the most specific one.
	byLength := slices.Clone(names)
	slices.SortStableFunc(byLength, func(a, b string) int { return len(b) - len(a) })

	for _, key := range lister.Keys() {
		if !strings.HasPrefix(key, notifierKeyPrefix) {
			continue
		}

		rest := key[len(notifierKeyPrefix):]

		for _, name := range byLength {
			prefix := strings.ToUpper(name) + "_"
			if !strings.HasPrefix(rest, prefix) || len(rest) == len(prefix) {
				continue
			}

			option := strings.ToLower(rest[len(prefix):])
			if option == strings.ToLower(notifierKindSuffix) {
				option = "kind"
			}

			options[name][option] = conf.Get(key)

			break
		}
	}

	opts := make([]Option, 0, len(names))

	for _, name := range names {
		kind, _ := options[name]["kind"].(string)
		delete(options[name], "kind")

		if kind == "" {
			kind = name
		}

		opts = append(opts, WithNotifier(name, notifier.Config{Kind: kind, Options: options[name]}))
	}

	return opts, nil
}

func parseStrategy(s string) (occurrence.Strategy, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return occurrence.StrategyDefault, nil
	case "kind":
		return occurrence.StrategyKind, nil
	case "message":
		return occurrence.StrategyMessage, nil
	case "frame":
		return occurrence.StrategyFrame, nil
	default:
		return 0, fmt.Errorf("%w: %s: unknown strategy %q", ErrInvalidConfig, keyFingerprint, s)
	}
}

func parseBool(conf config.Config, key, def string) (bool, error) {
	b, err := strconv.ParseBool(conf.GetOrDefault(key, def))
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}

	return b, nil
}

func parseInt(conf config.Config, key, def string) (int, error) {
	i, err := strconv.Atoi(conf.GetOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}

	return i, nil
}

func parseDuration(conf config.Config, key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(conf.GetOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}

	return d, nil
}
