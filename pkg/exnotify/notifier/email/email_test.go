package email

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

type sent struct {
	from string
	to   []string
	msg  string
}

type fakeSender struct {
	messages []sent
	err      error
}

func (f *fakeSender) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.messages = append(f.messages, sent{from: from, to: to, msg: string(msg)})

	return f.err
}

var errOrder = errors.New("order 12345 not found")

func requestOccurrence(err error, opts ...occurrence.Option) *occurrence.Occurrence {
	req := httptest.NewRequest(http.MethodGet, "/orders/12345?x=1", http.NoBody)
	req.Header.Set("User-Agent", "tests")

	opts = append([]occurrence.Option{occurrence.WithRequest(req),
		occurrence.WithTime(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))}, opts...)

	return occurrence.New(err, opts...)
}

func baseOptions() notifier.Options {
	return notifier.Options{
		"exception_recipients": "ops@example.com, dev@example.com",
		"sender_address":       `"Alerts" <alerts@example.com>`,
	}
}

func TestNewWithSender_Validation(t *testing.T) {
	tests := []struct {
		desc string
		opts notifier.Options
		err  error
	}{
		{"no recipients", notifier.Options{}, ErrNoRecipients},
		{"bad sender", notifier.Options{"exception_recipients": "a@example.com", "sender_address": "nope"}, ErrInvalidSender},
		{"valid", baseOptions(), nil},
	}

	for i, tc := range tests {
		_, err := NewWithSender(tc.opts, &fakeSender{})

		if tc.err == nil {
			require.NoError(t, err, "TEST[%d], Failed.\n%s", i, tc.desc)

			continue
		}

		require.ErrorIs(t, err, tc.err, "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestNew_RequiresSMTPHost(t *testing.T) {
	_, err := New(baseOptions())
	require.ErrorIs(t, err, ErrMissingSMTPHost)

	opts := baseOptions()
	opts["smtp_host"] = "localhost"

	n, err := New(opts)
	require.NoError(t, err)
	assert.IsType(t, &Notifier{}, n)
}

func TestNotify_RequestMail(t *testing.T) {
	s := &fakeSender{}

	n, err := NewWithSender(baseOptions(), s)
	require.NoError(t, err)

	o := requestOccurrence(errOrder, occurrence.WithData(map[string]any{"user": "jane"}))

	require.NoError(t, n.Notify(context.Background(), o, nil))
	require.Len(t, s.messages, 1)

	m := s.messages[0]
	assert.Equal(t, "alerts@example.com", m.from)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, m.to)
	assert.Contains(t, m.msg, "To: ops@example.com, dev@example.com\r\n")
	assert.Contains(t, m.msg, `Content-Type: text/html; charset="UTF-8"`)
	assert.Contains(t, m.msg, "<h3>Request</h3>")
	assert.Contains(t, m.msg, "<h3>Environment</h3>")
	assert.Contains(t, m.msg, "<h3>Backtrace</h3>")
	// data present, so the data section is appended
	assert.Contains(t, m.msg, "<h3>Data</h3>")
	assert.Contains(t, m.msg, "user: jane")
	assert.Contains(t, m.msg, "User-Agent: tests")
	assert.NotContains(t, m.msg, "<h3>Session</h3>")
}

func TestNotify_BackgroundSections(t *testing.T) {
	s := &fakeSender{}

	n, err := NewWithSender(baseOptions(), s)
	require.NoError(t, err)

	o := occurrence.New(errOrder, occurrence.WithBackground())

	require.NoError(t, n.Notify(context.Background(), o, notifier.Options{"data": map[string]any{"job": "sync"}}))

	m := s.messages[0].msg
	assert.Contains(t, m, "in the background")
	assert.Contains(t, m, "<h3>Backtrace</h3>")
	assert.Contains(t, m, "job: sync")
	assert.NotContains(t, m, "<h3>Request</h3>")
}

func TestNotify_PerCallOverrides(t *testing.T) {
	s := &fakeSender{}

	n, err := NewWithSender(baseOptions(), s)
	require.NoError(t, err)

	err = n.Notify(context.Background(), requestOccurrence(errOrder), notifier.Options{
		"exception_recipients": []string{"oncall@example.com"},
		"sections":             []string{"backtrace"},
		"email_headers":        map[string]string{"X-Priority": "1"},
	})
	require.NoError(t, err)

	m := s.messages[0]
	assert.Equal(t, []string{"oncall@example.com"}, m.to)
	assert.Contains(t, m.msg, "X-Priority: 1\r\n")
	assert.NotContains(t, m.msg, "<h3>Request</h3>")
}

func TestNotify_SenderErrorAndCancelledContext(t *testing.T) {
	errSMTP := errors.New("smtp down")
	s := &fakeSender{err: errSMTP}

	n, err := NewWithSender(baseOptions(), s)
	require.NoError(t, err)

	require.ErrorIs(t, n.Notify(context.Background(), requestOccurrence(errOrder), nil), errSMTP)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, n.Notify(ctx, requestOccurrence(errOrder), nil), context.Canceled)
	assert.Len(t, s.messages, 1)
}

func TestSubject(t *testing.T) {
	long := errors.New(strings.Repeat("x", 200))

	tests := []struct {
		desc string
		o    *occurrence.Occurrence
		cfg  Config
		want string
	}{
		{"verbose request", requestOccurrence(errOrder), Config{EmailPrefix: "[ERROR] ", VerboseSubject: true},
			`[ERROR] GET /orders/12345 (*errors.errorString) "order 12345 not found"`},
		{"terse", requestOccurrence(errOrder), Config{EmailPrefix: "[ERROR] "},
			`[ERROR] GET /orders/12345 (*errors.errorString)`},
		{"normalized", requestOccurrence(errOrder), Config{VerboseSubject: true, NormalizeSubject: true},
			`GET /orders/ (*errors.errorString) "order  not found"`},
		{"background", occurrence.New(errOrder, occurrence.WithBackground()), Config{EmailPrefix: "[BG] "},
			`[BG] (*errors.errorString)`},
		{"truncated", occurrence.New(long), Config{VerboseSubject: true},
			`(*errors.errorString) "` + strings.Repeat("x", 120-len(`(*errors.errorString) "`)) + "..."},
	}

	for i, tc := range tests {
		assert.Equal(t, tc.want, Subject(tc.o, tc.cfg), "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestSubject_InvalidUTF8(t *testing.T) {
	o := occurrence.New(errors.New("bad \xff byte"))

	s := Subject(o, Config{VerboseSubject: true})

	assert.NotContains(t, s, "\xff")
}

func TestInspect(t *testing.T) {
	big := make([]string, 100)
	for i := range big {
		big[i] = "value"
	}

	out := inspect(big)
	assert.Len(t, out, maxInspectLength+3)
	assert.True(t, strings.HasSuffix(out, "..."))

	assert.Equal(t, strings.Repeat("y", 400), inspect(strings.Repeat("y", 400)))
}
