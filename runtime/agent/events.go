package agent

import "encoding/json"

// Event type discriminators recorded in stream frame metadata. They mirror
// the upstream Bedrock event block names so clients built against the raw
// backend keep working against this runtime.
const (
	EventTypeTextDelta  = "contentBlockDelta"
	EventTypeToolStart  = "contentBlockStart"
	EventTypeToolResult = "toolResult"
	EventTypeUnknown    = "unknown"
)

type (
	// Event is one item of agent output. The union is closed: backends decode
	// their wire payloads into one of the variants below exactly once at the
	// boundary, and all downstream logic switches on the variant instead of
	// sniffing shapes.
	Event interface {
		// EventType returns the discriminator recorded in frame metadata.
		EventType() string
	}

	// TextDelta carries a fragment of assistant text.
	TextDelta struct {
		// Text may contain literal backslash escape sequences that the stream
		// layer normalizes before forwarding.
		Text string `json:"text"`
	}

	// ToolStart reports that the backend began a tool call.
	ToolStart struct {
		// Name is the tool name as reported by the backend, which may carry a
		// gateway namespace prefix.
		Name string `json:"name"`
		// ID is the backend-assigned tool use identifier.
		ID string `json:"toolUseId"`
	}

	// ToolResult carries the payload a tool returned to the backend.
	ToolResult struct {
		ID      string          `json:"toolUseId"`
		Content json.RawMessage `json:"content,omitempty"`
	}

	// Raw wraps an event the runtime does not model. It is forwarded to
	// clients in diagnostic form rather than dropped.
	Raw struct {
		// Kind preserves the upstream discriminator when one is known.
		Kind string `json:"kind,omitempty"`
		// Payload is the original event encoding.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

// EventType returns the text delta discriminator.
func (TextDelta) EventType() string { return EventTypeTextDelta }

// EventType returns the tool start discriminator.
func (ToolStart) EventType() string { return EventTypeToolStart }

// EventType returns the tool result discriminator.
func (ToolResult) EventType() string { return EventTypeToolResult }

// EventType returns the upstream discriminator when known, "unknown"
// otherwise.
func (e Raw) EventType() string {
	if e.Kind != "" {
		return e.Kind
	}
	return EventTypeUnknown
}
