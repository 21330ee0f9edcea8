package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

// maxRawEventChars bounds the diagnostic rendering of events that carry no
// extractable text.
const maxRawEventChars = 200

// escapeReplacer rewrites the literal two-character escape sequences some
// backends emit inside text deltas. Nothing else is altered so intentional
// whitespace survives untouched.
var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")

// Extraction is the normalized view of one stream event.
type Extraction struct {
	// Content is the display text when HasText is true.
	Content string
	// EventType is the discriminator recorded in frame metadata.
	EventType string
	// HasText reports whether the event produced display text.
	HasText bool
	// RawEvent is a bounded diagnostic rendering of the event, set when
	// HasText is false.
	RawEvent string
}

// Extract derives the normalized content of ev. Extraction is priority
// ordered and stops at the first match so the same underlying text is never
// emitted twice: a non-empty text delta wins, then a tool start becomes a
// user-facing announcement, and events with neither yield a bounded raw
// rendering for diagnostics. Malformed events surface as errors to the caller
// instead of being silently dropped.
func Extract(ev agent.Event) (Extraction, error) {
	x := Extraction{EventType: ev.EventType()}

	var text string
	switch e := ev.(type) {
	case agent.TextDelta:
		text = e.Text
	case agent.ToolStart:
		text = announce(e)
	}
	if text != "" {
		x.Content = NormalizeEscapes(text)
		x.HasText = true
		return x, nil
	}

	raw, err := rawEventString(ev)
	if err != nil {
		return Extraction{}, fmt.Errorf("render raw event: %w", err)
	}
	x.RawEvent = raw
	return x, nil
}

// NormalizeEscapes converts the literal escape sequences \n, \t and \r into
// the control characters they denote.
func NormalizeEscapes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	return escapeReplacer.Replace(s)
}

// announce renders the tool selection notice shown to the user. Gateway tool
// names carry a namespace prefix separated by a triple underscore; only the
// trailing component is shown.
func announce(e agent.ToolStart) string {
	name := e.Name
	if name == "" {
		name = "unknown_tool"
	}
	if i := strings.LastIndex(name, "___"); i >= 0 {
		name = name[i+3:]
	}
	id := e.ID
	if id == "" {
		id = "unknown_id"
	}
	return fmt.Sprintf("\n🔍 Using %s tool...(ID: %s)\n", name, id)
}

func rawEventString(ev agent.Event) (string, error) {
	var b []byte
	if raw, ok := ev.(agent.Raw); ok {
		b = raw.Payload
	} else {
		var err error
		b, err = json.Marshal(ev)
		if err != nil {
			return "", err
		}
	}
	s := string(b)
	if utf8.RuneCountInString(s) <= maxRawEventChars {
		return s, nil
	}
	return string([]rune(s)[:maxRawEventChars]) + "...", nil
}
