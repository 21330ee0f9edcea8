package stream

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

func TestHandoffDetectorTriggers(t *testing.T) {
	cases := []struct {
		name    string
		event   agent.Event
		handoff bool
	}{
		{name: "handoff tool", event: agent.ToolStart{Name: "handoff_to_user", ID: "t1"}, handoff: true},
		{name: "other tool", event: agent.ToolStart{Name: "ec2_read_operations", ID: "t2"}, handoff: false},
		{name: "proceed phrase", event: agent.TextDelta{Text: "This deletes the bucket. Do you want to proceed?"}, handoff: true},
		{name: "proceed phrase mixed case", event: agent.TextDelta{Text: "DO YOU WANT TO PROCEED with the rollout?"}, handoff: true},
		{name: "mutative phrase", event: agent.TextDelta{Text: "The requested change is potentially mutative."}, handoff: true},
		{name: "plain text", event: agent.TextDelta{Text: "Looking at the logs now."}, handoff: false},
		{name: "phrase in raw event ignored", event: agent.Raw{Payload: []byte(`{"note":"do you want to proceed"}`)}, handoff: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d HandoffDetector
			assert.Equal(t, tc.handoff, d.Observe(tc.event))
			assert.Equal(t, tc.handoff, d.HandedOff())
		})
	}
}

func TestHandoffDetectorMatchesBeforeNormalization(t *testing.T) {
	// The trigger phrase is matched on the raw delta text, literal escapes
	// included.
	var d HandoffDetector
	assert.True(t, d.Observe(agent.TextDelta{Text: `Careful.\nDo you want to proceed?`}))
}

func TestHandoffDetectorAbsorbing(t *testing.T) {
	var d HandoffDetector
	assert.True(t, d.Observe(agent.ToolStart{Name: HandoffToolName}))
	assert.False(t, d.Observe(agent.ToolStart{Name: HandoffToolName}))
	assert.False(t, d.Observe(agent.TextDelta{Text: "do you want to proceed"}))
	assert.True(t, d.HandedOff())
}

func TestHandoffDetectorProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one transition, at the first trigger", prop.ForAll(
		func(texts []string, pos int, kind int) bool {
			var trigger agent.Event
			switch kind {
			case 0:
				trigger = agent.ToolStart{Name: HandoffToolName, ID: "t"}
			case 1:
				trigger = agent.TextDelta{Text: "Do you want to proceed?"}
			default:
				trigger = agent.TextDelta{Text: "this IS Potentially Mutative"}
			}
			events := make([]agent.Event, 0, len(texts)+1)
			for _, txt := range texts {
				events = append(events, agent.TextDelta{Text: txt})
			}
			at := 0
			if len(events) > 0 {
				at = pos % (len(events) + 1)
			}
			events = append(events[:at:at], append([]agent.Event{trigger}, events[at:]...)...)

			var d HandoffDetector
			transitions := 0
			first := -1
			for i, ev := range events {
				if d.Observe(ev) {
					transitions++
					if first == -1 {
						first = i
					}
				}
			}
			return transitions == 1 && first == at && d.HandedOff()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1<<16),
		gen.IntRange(0, 2),
	))

	properties.Property("no trigger, no transition", prop.ForAll(
		func(texts []string) bool {
			var d HandoffDetector
			for _, txt := range texts {
				if d.Observe(agent.TextDelta{Text: txt}) {
					return false
				}
			}
			return !d.HandedOff()
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
