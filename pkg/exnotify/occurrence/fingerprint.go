package occurrence

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies "the same error" for grouping.
type Fingerprint string

type Strategy int

const (
	// StrategyDefault uses the top stack frame when the error carries its own stack and
	// the normalized message otherwise.
	StrategyDefault Strategy = iota
	// StrategyKind groups by kind only.
	StrategyKind
	// StrategyMessage groups by kind and normalized message.
	StrategyMessage
	// StrategyFrame groups by kind and top stack frame, whatever the origin of the stack.
	StrategyFrame
)

var (
	hexRun   = regexp.MustCompile(`\b(0x)?[0-9a-f]{8,}\b`)
	digitRun = regexp.MustCompile(`[0-9]+`)
	spaceRun = regexp.MustCompile(`\s+`)
)

// NormalizeMessage lower-cases msg, replaces hex ids and digit runs by "#" and collapses
// whitespace, so that messages differing only by ids group together.
func NormalizeMessage(msg string) string {
	msg = strings.ToLower(msg)
	msg = hexRun.ReplaceAllString(msg, "#")
	msg = digitRun.ReplaceAllString(msg, "#")
	msg = spaceRun.ReplaceAllString(msg, " ")

	return strings.TrimSpace(msg)
}

// Fingerprint computes the default fingerprint of o.
func (o *Occurrence) Fingerprint() Fingerprint {
	return o.FingerprintWith(StrategyDefault)
}

func (o *Occurrence) FingerprintWith(s Strategy) Fingerprint {
	parts := []string{o.kind}

	switch s {
	case StrategyKind:
	case StrategyMessage:
		parts = append(parts, NormalizeMessage(o.message))
	case StrategyFrame:
		parts = append(parts, o.topFrame())
	case StrategyDefault:
		if o.ownStack && len(o.stack) > 0 {
			parts = append(parts, o.topFrame())
		} else {
			parts = append(parts, NormalizeMessage(o.message))
		}
	}

	h := xxhash.New()

	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}

	return Fingerprint(o.kind + ":" + strconv.FormatUint(h.Sum64(), 16))
}

// topFrame is the first frame outside the runtime. A runtime panic such as a nil
// dereference starts in a runtime helper shared by every crash site of that kind.
func (o *Occurrence) topFrame() string {
	if len(o.stack) == 0 {
		return ""
	}

	f := o.stack[0]

	for _, fr := range o.stack {
		if !strings.HasPrefix(fr.Function, "runtime.") {
			f = fr

			break
		}
	}

	return f.Function + ":" + strconv.Itoa(f.Line)
}
