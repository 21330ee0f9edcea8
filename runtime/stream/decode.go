package stream

import (
	"encoding/json"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

// DecodeRaw classifies a loose JSON event payload into the agent event union.
// Classification follows the same priority order as Extract: a nested content
// block delta with non-empty text wins, then a tool start block, then the
// bare delta shape produced by SDK-style backends. Payloads matching no known
// shape are preserved as agent.Raw so nothing is dropped at the boundary.
func DecodeRaw(data []byte) agent.Event {
	var probe struct {
		Event *struct {
			ContentBlockDelta *struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			} `json:"contentBlockDelta"`
			ContentBlockStart *struct {
				Start struct {
					ToolUse *struct {
						Name      string `json:"name"`
						ToolUseID string `json:"toolUseId"`
					} `json:"toolUse"`
				} `json:"start"`
			} `json:"contentBlockStart"`
		} `json:"event"`
		Delta *struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		switch {
		case probe.Event != nil && probe.Event.ContentBlockDelta != nil && probe.Event.ContentBlockDelta.Delta.Text != "":
			return agent.TextDelta{Text: probe.Event.ContentBlockDelta.Delta.Text}
		case probe.Event != nil && probe.Event.ContentBlockStart != nil && probe.Event.ContentBlockStart.Start.ToolUse != nil:
			tu := probe.Event.ContentBlockStart.Start.ToolUse
			return agent.ToolStart{Name: tu.Name, ID: tu.ToolUseID}
		case probe.Delta != nil && probe.Delta.Text != "":
			return agent.TextDelta{Text: probe.Delta.Text}
		}
	}
	return agent.Raw{Payload: append(json.RawMessage(nil), data...)}
}
