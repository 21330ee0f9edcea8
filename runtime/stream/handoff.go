package stream

import (
	"strings"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

// HandoffToolName is the local tool the agent calls to pass control back to
// the operator.
const HandoffToolName = "handoff_to_user"

// HandoffMessage is the body of the synthetic handoff_required frame.
const HandoffMessage = "Agent requires user confirmation before proceeding. Review the proposed action and respond to continue."

// handoffPhrases signal a handoff when they appear in assistant text.
// Matching is case-insensitive and runs on the raw delta text before escape
// normalization. Fixed-phrase detection is fragile against prompt rewording;
// it is kept because the approval tooling on the other side matches the same
// strings.
var handoffPhrases = []string{
	"do you want to proceed",
	"is potentially mutative",
}

// HandoffDetector tracks whether a streaming turn has handed control back to
// a human. The flag is absorbing: once set it stays set for the remainder of
// the turn, including across a fallback rerun, so at most one handoff notice
// is ever emitted per turn. The zero value is ready to use.
type HandoffDetector struct {
	handedOff bool
}

// Observe inspects one event and reports whether it triggered the handoff
// transition. Only the first triggering event of a turn returns true; every
// later call returns false regardless of the event.
func (d *HandoffDetector) Observe(ev agent.Event) bool {
	if d.handedOff {
		return false
	}
	switch e := ev.(type) {
	case agent.ToolStart:
		if e.Name == HandoffToolName {
			d.handedOff = true
			return true
		}
	case agent.TextDelta:
		t := strings.ToLower(e.Text)
		for _, phrase := range handoffPhrases {
			if strings.Contains(t, phrase) {
				d.handedOff = true
				return true
			}
		}
	}
	return false
}

// HandedOff reports whether the turn has transitioned to the handed-off
// state.
func (d *HandoffDetector) HandedOff() bool { return d.handedOff }
