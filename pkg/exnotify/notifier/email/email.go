// Package email delivers occurrences as HTML mail over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"mime"
	"net/mail"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "email"

	maxSubjectLength = 120
	maxInspectLength = 300
	defaultSMTPPort  = 25
)

var (
	ErrNoRecipients       = errors.New("email: no exception_recipients configured")
	ErrMissingSMTPHost    = errors.New("email: smtp_host not configured")
	ErrInvalidSender      = errors.New("email: invalid sender_address")
	errTemplateProcessing = errors.New("email: rendering body")

	digits = regexp.MustCompile(`\d+`)
)

// Config holds the options of the email notifier. Every field may be overridden per
// notification through the options passed to Notify.
type Config struct {
	SenderAddress       string            `mapstructure:"sender_address"`
	ExceptionRecipients []string          `mapstructure:"exception_recipients"`
	EmailPrefix         string            `mapstructure:"email_prefix"`
	Sections            []string          `mapstructure:"sections"`
	BackgroundSections  []string          `mapstructure:"background_sections"`
	VerboseSubject      bool              `mapstructure:"verbose_subject"`
	NormalizeSubject    bool              `mapstructure:"normalize_subject"`
	EmailHeaders        map[string]string `mapstructure:"email_headers"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// DefaultOptions returns the options every email notifier starts from.
func DefaultOptions() notifier.Options {
	return notifier.Options{
		"sender_address":      `"Exception Notifier" <exception.notifier@localhost>`,
		"email_prefix":        "[ERROR] ",
		"sections":            []string{"request", "session", "environment", "backtrace"},
		"background_sections": []string{"backtrace", "data"},
		"verbose_subject":     true,
		"normalize_subject":   false,
		"smtp_port":           defaultSMTPPort,
	}
}

type Notifier struct {
	base   notifier.Options
	sender Sender
}

// New is the constructor registered for the "email" kind. Mail is sent over SMTP.
func New(opts notifier.Options) (notifier.Notifier, error) {
	cfg, err := decode(opts, nil)
	if err != nil {
		return nil, err
	}

	if cfg.SMTPHost == "" {
		return nil, ErrMissingSMTPHost
	}

	return NewWithSender(opts, newSMTPSender(cfg))
}

// NewWithSender returns an email notifier delivering through s.
func NewWithSender(opts notifier.Options, s Sender) (*Notifier, error) {
	cfg, err := decode(opts, nil)
	if err != nil {
		return nil, err
	}

	if len(cfg.ExceptionRecipients) == 0 {
		return nil, ErrNoRecipients
	}

	if _, err := mail.ParseAddress(cfg.SenderAddress); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}

	return &Notifier{base: opts.Clone(), sender: s}, nil
}

func (n *Notifier) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	cfg, err := decode(n.base, opts)
	if err != nil {
		return err
	}

	from, err := mail.ParseAddress(cfg.SenderAddress)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}

	msg, err := compose(o, cfg, opts)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return n.sender.Send(ctx, from.Address, cfg.ExceptionRecipients, msg)
}

// decode layers the defaults, the notifier's options and the per-call options, in that order.
func decode(base, call notifier.Options) (Config, error) {
	merged := DefaultOptions()
	maps.Copy(merged, base)
	maps.Copy(merged, call)

	var cfg Config

	if err := notifier.Decode(merged, &cfg); err != nil {
		return Config{}, fmt.Errorf("email: decoding options: %w", err)
	}

	return cfg, nil
}

// Subject renders the mail subject: prefix, the failed request line, the kind and, when
// verbose, the quoted message. It is cut at 120 characters.
func Subject(o *occurrence.Occurrence, cfg Config) string {
	var b strings.Builder

	b.WriteString(cfg.EmailPrefix)

	if r, ok := o.Request(); ok && !o.Background() {
		fmt.Fprintf(&b, "%s %s ", r.Method, r.Path)
	}

	fmt.Fprintf(&b, "(%s)", o.Kind())

	if cfg.VerboseSubject {
		fmt.Fprintf(&b, " %q", o.Message())
	}

	subject := safeEncode(b.String())

	if cfg.NormalizeSubject {
		subject = digits.ReplaceAllString(subject, "")
	}

	return truncate(subject, maxSubjectLength)
}

type section struct {
	Name string
	Body string
}

type view struct {
	Title      string
	Kind       string
	Message    string
	Time       string
	Background bool
	Request    *occurrence.RequestInfo
	Sections   []section
}

var body = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{.Title}}</h2>
<p>A {{.Kind}} occurred {{if .Request}}while processing {{.Request.Method}} {{.Request.URL}}{{else}}in the background{{end}} at {{.Time}}:</p>
<pre>{{.Message}}</pre>
{{range .Sections}}<h3>{{.Name}}</h3>
<pre>{{.Body}}</pre>
{{end}}</body>
</html>
`))

func compose(o *occurrence.Occurrence, cfg Config, opts notifier.Options) ([]byte, error) {
	v := view{
		Title:      safeEncode(notifier.Title(o)),
		Kind:       o.Kind(),
		Message:    safeEncode(o.Message()),
		Time:       o.Time().Format(time.RFC1123),
		Background: o.Background(),
	}

	names := cfg.Sections

	r, hasRequest := o.Request()
	if hasRequest && !o.Background() {
		v.Request = &r
	} else {
		names = cfg.BackgroundSections
	}

	data := notifier.MergedData(o, opts)
	if len(data) > 0 && !slices.Contains(names, "data") {
		names = append(slices.Clone(names), "data")
	}

	for _, name := range names {
		if s, ok := render(name, o, v.Request, data); ok {
			v.Sections = append(v.Sections, s)
		}
	}

	var html bytes.Buffer

	if err := body.Execute(&html, v); err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateProcessing, err)
	}

	var msg bytes.Buffer

	headers := map[string]string{
		"From":         cfg.SenderAddress,
		"To":           strings.Join(cfg.ExceptionRecipients, ", "),
		"Subject":      mime.QEncoding.Encode("utf-8", Subject(o, cfg)),
		"MIME-Version": "1.0",
		"Content-Type": `text/html; charset="UTF-8"`,
		"Date":         o.Time().Format(time.RFC1123Z),
	}

	maps.Copy(headers, cfg.EmailHeaders)

	for _, k := range slices.Sorted(maps.Keys(headers)) {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, headers[k])
	}

	msg.WriteString("\r\n")
	msg.Write(html.Bytes())

	return msg.Bytes(), nil
}

// render returns the named section. Sections without anything to show, and names this
// notifier does not know, are skipped.
func render(name string, o *occurrence.Occurrence, r *occurrence.RequestInfo, data map[string]any) (section, bool) {
	var b strings.Builder

	switch name {
	case "request":
		if r == nil {
			return section{}, false
		}

		fmt.Fprintf(&b, "URL:       %s\nMethod:    %s\nRemote IP: %s\n", r.URL, r.Method, r.RemoteIP)

		for _, k := range slices.Sorted(maps.Keys(r.Vars)) {
			fmt.Fprintf(&b, "Var %s: %s\n", k, r.Vars[k])
		}
	case "environment":
		host, _ := os.Hostname()
		fmt.Fprintf(&b, "Host: %s\nPID:  %d\n", host, os.Getpid())

		if r != nil {
			for _, k := range slices.Sorted(maps.Keys(r.Headers)) {
				fmt.Fprintf(&b, "%s: %s\n", k, r.Headers[k])
			}
		}
	case "backtrace":
		lines := notifier.Backtrace(o)
		if len(lines) == 0 {
			return section{}, false
		}

		b.WriteString(strings.Join(lines, "\n"))
	case "data":
		if len(data) == 0 {
			return section{}, false
		}

		for _, k := range slices.Sorted(maps.Keys(data)) {
			fmt.Fprintf(&b, "%s: %s\n", k, inspect(data[k]))
		}
	default:
		return section{}, false
	}

	return section{Name: strings.ToUpper(name[:1]) + name[1:], Body: safeEncode(b.String())}, true
}

// inspect renders maps and slices truncated to 300 characters, anything else in full.
func inspect(v any) string {
	switch v.(type) {
	case map[string]any, map[string]string, []any, []string, []int:
		return truncate(fmt.Sprintf("%v", v), maxInspectLength)
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := s[:limit]

	// do not split a multi-byte rune
	for !utf8Boundary(s, len(cut)) {
		cut = cut[:len(cut)-1]
	}

	return cut + "..."
}

func utf8Boundary(s string, i int) bool {
	return i == len(s) || i == 0 || s[i]&0xC0 != 0x80
}

func safeEncode(s string) string {
	return strings.ToValidUTF8(s, "_")
}
