// Package webhook posts occurrences to an HTTP endpoint, either as the JSON payload or
// formatted for a Slack, Microsoft Teams or Discord incoming webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "webhook"

	FormatJSON    = "json"
	FormatSlack   = "slack"
	FormatTeams   = "teams"
	FormatDiscord = "discord"

	defaultTimeout  = 5 * time.Second
	backtraceLines  = 5
	maxErrorBodyLen = 256
)

var (
	ErrMissingURL       = errors.New("webhook: url not configured")
	ErrUnknownFormat    = errors.New("webhook: unknown format")
	ErrUnexpectedStatus = errors.New("webhook: unexpected response status")
)

type Config struct {
	URL     string            `mapstructure:"url"`
	Format  string            `mapstructure:"format"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// Channel only applies to the slack format, Username to slack and discord.
	Channel  string `mapstructure:"channel"`
	Username string `mapstructure:"username"`
}

type Notifier struct {
	cfg    Config
	client *http.Client
}

// New is the constructor registered for the "webhook", "slack", "teams" and "discord"
// kinds. The chat kinds only change the default format.
func New(opts notifier.Options) (notifier.Notifier, error) {
	return NewWithClient(opts, nil)
}

// Constructor returns a constructor whose format defaults to format.
func Constructor(format string) notifier.Constructor {
	return func(opts notifier.Options) (notifier.Notifier, error) {
		merged := notifier.Options{"format": format}
		maps.Copy(merged, opts)

		return NewWithClient(merged, nil)
	}
}

// NewWithClient returns a notifier sending through client. A nil client gets one with
// an otelhttp transport.
func NewWithClient(opts notifier.Options, client *http.Client) (*Notifier, error) {
	cfg := Config{Format: FormatJSON, Method: http.MethodPost, Timeout: defaultTimeout}

	if err := notifier.Decode(opts, &cfg); err != nil {
		return nil, fmt.Errorf("webhook: decoding options: %w", err)
	}

	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	cfg.Format = strings.ToLower(cfg.Format)

	switch cfg.Format {
	case FormatJSON, FormatSlack, FormatTeams, FormatDiscord:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
	}

	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: cfg.Timeout}
	}

	return &Notifier{cfg: cfg, client: client}, nil
}

// Notify posts the occurrence. A discord message longer than one post allows is sent as
// several posts, in order, stopping at the first failure.
func (n *Notifier) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	bodies, err := n.encode(o, opts)
	if err != nil {
		return err
	}

	for i, body := range bodies {
		if err := n.post(ctx, body); err != nil {
			if len(bodies) > 1 {
				return fmt.Errorf("part %d/%d: %w", i+1, len(bodies), err)
			}

			return err
		}
	}

	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (n *Notifier) encode(o *occurrence.Occurrence, opts notifier.Options) ([][]byte, error) {
	p := notifier.NewPayload(o, opts)

	var msg any

	switch n.cfg.Format {
	case FormatSlack:
		msg = n.slack(o, &p)
	case FormatTeams:
		msg = teams(o, &p)
	case FormatDiscord:
		return n.discord(o, &p)
	default:
		msg = p
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return [][]byte{b}, nil
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *Notifier) slack(o *occurrence.Occurrence, p *notifier.Payload) slackMessage {
	a := slackAttachment{
		Color: "danger",
		Fields: []slackField{
			{Title: "Kind", Value: p.Kind, Short: true},
			{Title: "Fingerprint", Value: p.Fingerprint, Short: true},
		},
		Footer: p.Host,
		Ts:     p.Time.Unix(),
	}

	if p.Request != nil {
		a.Fields = append(a.Fields, slackField{Title: "Request", Value: p.Request.Method + " " + p.Request.URL})
	}

	for _, k := range slices.Sorted(maps.Keys(p.Data)) {
		a.Fields = append(a.Fields, slackField{Title: k, Value: fmt.Sprint(p.Data[k]), Short: true})
	}

	if bt := head(p.Backtrace, backtraceLines); len(bt) > 0 {
		a.Text = "```" + strings.Join(bt, "\n") + "```"
	}

	return slackMessage{
		Text:        ":rotating_light: " + notifier.Title(o),
		Channel:     n.cfg.Channel,
		Username:    n.cfg.Username,
		Attachments: []slackAttachment{a},
	}
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []teamsFact `json:"facts,omitempty"`
	Text          string      `json:"text,omitempty"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
}

func teams(o *occurrence.Occurrence, p *notifier.Payload) teamsCard {
	facts := []teamsFact{
		{Name: "Kind", Value: p.Kind},
		{Name: "Fingerprint", Value: p.Fingerprint},
		{Name: "Time", Value: p.Time.Format(time.RFC3339)},
	}

	if p.Request != nil {
		facts = append(facts, teamsFact{Name: "Request", Value: p.Request.Method + " " + p.Request.URL})
	}

	for _, k := range slices.Sorted(maps.Keys(p.Data)) {
		facts = append(facts, teamsFact{Name: k, Value: fmt.Sprint(p.Data[k])})
	}

	title := notifier.Title(o)

	card := teamsCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    title,
		ThemeColor: "d7000c",
		Title:      title,
		Sections:   []teamsSection{{ActivityTitle: p.Message, Facts: facts}},
	}

	if bt := head(p.Backtrace, backtraceLines); len(bt) > 0 {
		card.Sections = append(card.Sections, teamsSection{ActivityTitle: "Backtrace",
			Text: "<pre>" + strings.Join(bt, "\n") + "</pre>"})
	}

	return card
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}

	return lines
}
