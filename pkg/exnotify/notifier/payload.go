package notifier

import (
	"fmt"
	"maps"
	"os"
	"time"

	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	// OptionData is the option key whose map is merged over the occurrence data.
	OptionData = "data"
	// OptionFingerprint carries the fingerprint the occurrence was grouped under. The
	// dispatch engine sets it, since the grouping strategy is not the occurrence's own.
	OptionFingerprint = "fingerprint"
)

// Payload is the JSON document the webhook, SNS and broker notifiers publish.
type Payload struct {
	ID          string                  `json:"id"`
	Kind        string                  `json:"kind"`
	Message     string                  `json:"message"`
	Fingerprint string                  `json:"fingerprint"`
	Time        time.Time               `json:"time"`
	Background  bool                    `json:"background"`
	Host        string                  `json:"host,omitempty"`
	Request     *occurrence.RequestInfo `json:"request,omitempty"`
	Data        map[string]any          `json:"data,omitempty"`
	Backtrace   []string                `json:"backtrace,omitempty"`
}

// NewPayload flattens o. Data passed in opts under "data" wins over the occurrence data.
func NewPayload(o *occurrence.Occurrence, opts Options) Payload {
	p := Payload{
		ID:          o.ID(),
		Kind:        o.Kind(),
		Message:     o.Message(),
		Fingerprint: string(FingerprintOf(o, opts)),
		Time:        o.Time(),
		Background:  o.Background(),
		Data:        MergedData(o, opts),
		Backtrace:   Backtrace(o),
	}

	p.Host, _ = os.Hostname()

	if r, ok := o.Request(); ok {
		p.Request = &r
	}

	return p
}

// FingerprintOf returns opts["fingerprint"] when set, otherwise the default fingerprint of o.
func FingerprintOf(o *occurrence.Occurrence, opts Options) occurrence.Fingerprint {
	switch fp := opts[OptionFingerprint].(type) {
	case occurrence.Fingerprint:
		if fp != "" {
			return fp
		}
	case string:
		if fp != "" {
			return occurrence.Fingerprint(fp)
		}
	}

	return o.Fingerprint()
}

// MergedData returns the occurrence data with opts["data"] merged over it, or nil when
// both are empty.
func MergedData(o *occurrence.Occurrence, opts Options) map[string]any {
	data := o.Data()

	if extra, ok := opts[OptionData].(map[string]any); ok && len(extra) > 0 {
		if data == nil {
			data = make(map[string]any, len(extra))
		}

		maps.Copy(data, extra)
	}

	if len(data) == 0 {
		return nil
	}

	return data
}

// Backtrace renders the stack of o as "file:line:in `function`" lines.
func Backtrace(o *occurrence.Occurrence) []string {
	stack := o.Stack()
	lines := make([]string, 0, len(stack))

	for _, f := range stack {
		lines = append(lines, fmt.Sprintf("%s:%d:in `%s'", f.File, f.Line, f.Function))
	}

	return lines
}

// Title is the one-line summary used for subjects and chat messages:
// "GET /orders (kind) message", or "kind: message" for background occurrences.
func Title(o *occurrence.Occurrence) string {
	if r, ok := o.Request(); ok && !o.Background() {
		return fmt.Sprintf("%s %s (%s) %q", r.Method, r.Path, o.Kind(), o.Message())
	}

	return fmt.Sprintf("%s: %s", o.Kind(), o.Message())
}
