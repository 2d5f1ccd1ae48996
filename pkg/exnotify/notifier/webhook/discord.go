package webhook

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	discordLimit = 2000
	// leaves room for the "Part X/Y" header of follow-up posts.
	discordChunkSize = discordLimit - 100

	fence         = "```"
	minChunkRunes = 16
)

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func (n *Notifier) discord(o *occurrence.Occurrence, p *notifier.Payload) ([][]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, ":rotating_light: **%s**\n", notifier.Title(o))
	fmt.Fprintf(&b, "**Kind:** `%s`\n**Fingerprint:** `%s`\n", p.Kind, p.Fingerprint)

	if p.Request != nil {
		fmt.Fprintf(&b, "**Request:** %s %s\n", p.Request.Method, p.Request.URL)
	}

	for _, k := range slices.Sorted(maps.Keys(p.Data)) {
		fmt.Fprintf(&b, "**%s:** %v\n", k, p.Data[k])
	}

	if len(p.Backtrace) > 0 {
		b.WriteString(fence + "\n" + strings.Join(p.Backtrace, "\n") + "\n" + fence)
	}

	chunks := splitContent(strings.TrimRight(b.String(), "\n"), discordChunkSize)
	bodies := make([][]byte, 0, len(chunks))

	for i, chunk := range chunks {
		// the first post already carries the title.
		if i > 0 {
			chunk = fmt.Sprintf("**(Part %d/%d)**\n", i+1, len(chunks)) + chunk
		}

		body, err := json.Marshal(discordMessage{Content: chunk, Username: n.cfg.Username})
		if err != nil {
			return nil, err
		}

		bodies = append(bodies, body)
	}

	return bodies, nil
}

// splitContent cuts text into chunks of at most limit runes, on line boundaries where it
// can. A chunk that ends inside a code block gets a closing fence, and the next chunk
// reopens the block.
func splitContent(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	limit = max(limit, minChunkRunes)

	var (
		chunks []string
		lines  []string
		size   int
		base   int
		inCode bool
	)

	add := func(line string) {
		if len(lines) > 0 {
			size++
		}

		lines = append(lines, line)
		size += utf8.RuneCountInString(line)
	}

	flush := func() {
		if len(lines) <= base {
			return
		}

		if inCode {
			lines = append(lines, fence)
		}

		chunks = append(chunks, strings.Join(lines, "\n"))
		lines, size, base = nil, 0, 0

		if inCode {
			add(fence)

			base = 1
		}
	}

	room := func(closing int) int {
		sep := 0
		if len(lines) > 0 {
			sep = 1
		}

		return limit - size - sep - closing
	}

	for _, line := range strings.Split(text, "\n") {
		toggle := strings.HasPrefix(strings.TrimSpace(line), fence)

		// a closing fence is owed when the block is still open after this line.
		closing := 0
		if inCode != toggle {
			closing = len("\n" + fence)
		}

		if utf8.RuneCountInString(line) > room(closing) {
			flush()
		}

		for runes := []rune(line); ; {
			space := room(closing)
			if len(runes) <= space {
				add(string(runes))

				break
			}

			if space <= 0 {
				flush()

				continue
			}

			add(string(runes[:space]))
			runes = runes[space:]

			flush()
		}

		if toggle {
			inCode = !inCode
		}
	}

	// the tail is flushed with the final block state.
	if len(lines) > base {
		chunks = append(chunks, strings.Join(lines, "\n"))
	}

	return chunks
}
