package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

func TestFrameForText(t *testing.T) {
	x := Extraction{Content: "one\ntwo", EventType: agent.EventTypeTextDelta, HasText: true}
	f := FrameFor(x)
	assert.Equal(t, FrameTypeText, f.Type)
	assert.Equal(t, "one\ntwo", f.Content)
	require.NotNil(t, f.Metadata)
	assert.Equal(t, agent.EventTypeTextDelta, f.Metadata.EventType)
	require.NotNil(t, f.Metadata.HasFormatting)
	assert.True(t, *f.Metadata.HasFormatting)
}

func TestFrameForEventOmitsHasFormatting(t *testing.T) {
	f := FrameFor(Extraction{EventType: "messageStop", RawEvent: `{"stop":true}`})
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(b, &payload))
	assert.Equal(t, FrameTypeEvent, payload["type"])
	meta, ok := payload["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "messageStop", meta["event_type"])
	assert.NotContains(t, meta, "has_formatting")
}

func TestErrorFrameHasNoMetadata(t *testing.T) {
	b, err := EncodeFrame(ErrorFrame("backend unavailable"))
	require.NoError(t, err)

	f, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeError, f.Type)
	assert.Equal(t, "backend unavailable", f.Error)
	assert.Nil(t, f.Metadata)
}

func TestEncodeFrameWireFormat(t *testing.T) {
	b, err := EncodeFrame(HandoffFrame("confirm first"))
	require.NoError(t, err)
	s := string(b)
	assert.True(t, strings.HasPrefix(s, "data: "))
	assert.True(t, strings.HasSuffix(s, "\n\n"))
	assert.NotContains(t, strings.TrimSuffix(s, "\n\n"), "\n")
}

func TestDecodeFrameRejectsNonFrames(t *testing.T) {
	_, err := DecodeFrame([]byte("event: ping\n\n"))
	require.ErrorIs(t, err, ErrNotFrame)
}

func TestFrameRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode/decode reproduces the frame", prop.ForAll(
		func(content string, eventType string, hasText bool) bool {
			x := Extraction{EventType: eventType}
			if hasText {
				if content == "" {
					content = "x"
				}
				x.Content = content
				x.HasText = true
			} else {
				x.RawEvent = content
			}
			frame := FrameFor(x)

			encoded, err := EncodeFrame(frame)
			if err != nil {
				return false
			}
			decoded, err := DecodeFrame(encoded)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(frame, decoded)
		},
		gen.AnyString(),
		gen.OneConstOf(agent.EventTypeTextDelta, agent.EventTypeToolStart, agent.EventTypeUnknown, "messageStop"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
