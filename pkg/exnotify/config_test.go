package exnotify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/cache"
	"exnotify.dev/pkg/exnotify/config"
	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/notifier/email"
	"exnotify.dev/pkg/exnotify/notifier/webhook"
	"exnotify.dev/pkg/exnotify/occurrence"
	"exnotify.dev/pkg/exnotify/trigger"
)

type getOnlyConfig map[string]string

func (c getOnlyConfig) Get(k string) string { return c[k] }

func (c getOnlyConfig) GetOrDefault(k, d string) string {
	if v := c[k]; v != "" {
		return v
	}

	return d
}

func TestNewFromConfig_BuildsNotifiers(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	}))
	defer srv.Close()

	conf := config.NewMockConfig(map[string]string{
		"EXCEPTION_NOTIFIERS":                          "ops, ops_slack, mail",
		"EXCEPTION_NOTIFIER_OPS_KIND":                  "webhook",
		"EXCEPTION_NOTIFIER_OPS_URL":                   srv.URL,
		"EXCEPTION_NOTIFIER_OPS_HEADERS":               "X-Team=core",
		"EXCEPTION_NOTIFIER_OPS_SLACK_KIND":            "slack",
		"EXCEPTION_NOTIFIER_OPS_SLACK_URL":             srv.URL,
		"EXCEPTION_NOTIFIER_MAIL_KIND":                 "email",
		"EXCEPTION_NOTIFIER_MAIL_SMTP_HOST":            "localhost",
		"EXCEPTION_NOTIFIER_MAIL_EXCEPTION_RECIPIENTS": "ops@example.com",
		"EXCEPTION_NOTIFIER_TIMEOUT":                   "2s",
	})

	n, err := NewFromConfig(context.Background(), conf, quietLogger())
	require.NoError(t, err)

	defer n.Shutdown(context.Background())

	assert.Equal(t, []string{"ops", "ops_slack", "mail"}, n.Notifiers())

	ops, err := n.registry.Resolve("ops")
	require.NoError(t, err)
	assert.IsType(t, &webhook.Notifier{}, ops)

	mail, err := n.registry.Resolve("mail")
	require.NoError(t, err)
	assert.IsType(t, &email.Notifier{}, mail)

	res := n.NotifyException(context.Background(), testError("boom"), To("ops", "ops_slack"))
	require.True(t, res.Delivered)
	assert.Empty(t, res.Failures())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, bodies, 2)

	joined := strings.Join(bodies, "\n")
	assert.Contains(t, joined, `"fingerprint"`)
	assert.Contains(t, joined, `"attachments"`)
}

func TestOptionsFromConfig(t *testing.T) {
	conf := config.NewMockConfig(map[string]string{
		"EXCEPTION_GROUPING":                "true",
		"EXCEPTION_GROUPING_PERIOD":         "90s",
		"EXCEPTION_GROUPING_MAX_ITEMS":      "50",
		"EXCEPTION_GROUPING_WINDOW":         "sliding",
		"EXCEPTION_GROUPING_KEY_PREFIX":     "errs:",
		"EXCEPTION_TRIGGER":                 "every:5",
		"EXCEPTION_FINGERPRINT":             "message",
		"EXCEPTION_PASS_THROUGH_SUPPRESSED": "false",
		"EXCEPTION_NOTIFIER_TIMEOUT":        "3s",
		"EXCEPTION_RATE_LIMIT":              "120",
	})

	opts, err := optionsFromConfig(conf)
	require.NoError(t, err)

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	assert.True(t, s.grouping)
	assert.Equal(t, 90*time.Second, s.period)
	assert.Equal(t, 50, s.maxItems)
	assert.Equal(t, cache.SlidingWindow, s.policy)
	assert.Equal(t, "errs:", s.keyPrefix)
	assert.Equal(t, trigger.EveryNth(5), s.trigger)
	assert.Equal(t, occurrence.StrategyMessage, s.strategy)
	assert.False(t, s.passThrough)
	assert.Equal(t, 3*time.Second, s.timeout)
	assert.Equal(t, 120, s.rateLimit)
	assert.Empty(t, s.notifiers)
}

func TestOptionsFromConfig_Defaults(t *testing.T) {
	opts, err := optionsFromConfig(config.NewMockConfig(nil))
	require.NoError(t, err)

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	assert.False(t, s.grouping)
	assert.Nil(t, s.trigger)
	assert.True(t, s.passThrough)
	assert.Equal(t, 10*time.Second, s.timeout)
	assert.Zero(t, s.rateLimit)
}

func TestOptionsFromConfig_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	conf := config.NewMockConfig(map[string]string{
		"EXCEPTION_GROUPING":       "true",
		"EXCEPTION_GROUPING_CACHE": "redis",
		"REDIS_HOST":               mr.Host(),
		"REDIS_PORT":               mr.Port(),
	})

	n, err := NewFromConfig(context.Background(), conf, quietLogger())
	require.NoError(t, err)

	n.NotifyException(context.Background(), testError("counted in redis"))

	assert.Len(t, mr.Keys(), 1)
	require.NoError(t, n.Shutdown(context.Background()))
}

func TestOptionsFromConfig_Errors(t *testing.T) {
	tests := []struct {
		desc string
		conf map[string]string
	}{
		{"grouping flag", map[string]string{"EXCEPTION_GROUPING": "maybe"}},
		{"period", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_PERIOD": "5 minutes"}},
		{"max items", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_MAX_ITEMS": "many"}},
		{"window", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_WINDOW": "tumbling"}},
		{"cache", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_CACHE": "memcached"}},
		{"redis host", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_CACHE": "redis"}},
		{"redis db", map[string]string{"EXCEPTION_GROUPING": "true", "EXCEPTION_GROUPING_CACHE": "redis",
			"REDIS_HOST": "localhost", "REDIS_DB": "zero"}},
		{"trigger", map[string]string{"EXCEPTION_TRIGGER": "sometimes"}},
		{"fingerprint", map[string]string{"EXCEPTION_FINGERPRINT": "stack"}},
		{"pass through", map[string]string{"EXCEPTION_PASS_THROUGH_SUPPRESSED": "nah"}},
		{"timeout", map[string]string{"EXCEPTION_NOTIFIER_TIMEOUT": "10"}},
		{"rate limit", map[string]string{"EXCEPTION_RATE_LIMIT": "lots"}},
	}

	for i, tc := range tests {
		_, err := optionsFromConfig(config.NewMockConfig(tc.conf))

		require.ErrorIs(t, err, ErrInvalidConfig, "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestNotifiersFromConfig_RequiresLister(t *testing.T) {
	_, err := optionsFromConfig(getOnlyConfig{"EXCEPTION_NOTIFIERS": "ops"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	opts, err := optionsFromConfig(getOnlyConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestNotifiersFromConfig_KindDefaultsToName(t *testing.T) {
	opts, err := notifiersFromConfig(config.NewMockConfig(map[string]string{
		"EXCEPTION_NOTIFIERS":           "webhook",
		"EXCEPTION_NOTIFIER_WEBHOOK_URL": "http://localhost/hook",
	}))
	require.NoError(t, err)

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	require.Len(t, s.notifiers, 1)
	assert.Equal(t, notifier.Config{Kind: "webhook", Options: notifier.Options{"url": "http://localhost/hook"}},
		s.notifiers[0].spec)
}

type testError string

func (e testError) Error() string { return string(e) }
