package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame type discriminators.
const (
	FrameTypeText    = "text_delta"
	FrameTypeEvent   = "event"
	FrameTypeError   = "error"
	FrameTypeHandoff = "handoff_required"
)

// framePrefix and frameSuffix delimit one server-sent events data line.
const (
	framePrefix = "data: "
	frameSuffix = "\n\n"
)

// ErrNotFrame is returned by DecodeFrame for input that is not an SSE data
// line.
var ErrNotFrame = errors.New("not an SSE data line")

type (
	// Frame is the JSON payload of one SSE data line. Exactly one of Content,
	// Event, Error or Message is populated depending on Type.
	Frame struct {
		Content  string         `json:"content,omitempty"`
		Event    string         `json:"event,omitempty"`
		Error    string         `json:"error,omitempty"`
		Message  string         `json:"message,omitempty"`
		Type     string         `json:"type"`
		Metadata *FrameMetadata `json:"metadata,omitempty"`
	}

	// FrameMetadata annotates text and event frames.
	FrameMetadata struct {
		EventType string `json:"event_type"`
		// HasFormatting is present on text frames only and reports whether
		// the content carries a newline, so clients can pick a rendering
		// path without scanning the text themselves.
		HasFormatting *bool `json:"has_formatting,omitempty"`
	}
)

// FrameFor builds the wire frame for one extraction: text content becomes a
// text_delta frame, anything else an event frame carrying the diagnostic
// rendering.
func FrameFor(x Extraction) Frame {
	if x.HasText {
		hasNL := strings.Contains(x.Content, "\n")
		return Frame{
			Content:  x.Content,
			Type:     FrameTypeText,
			Metadata: &FrameMetadata{EventType: x.EventType, HasFormatting: &hasNL},
		}
	}
	return Frame{
		Event:    x.RawEvent,
		Type:     FrameTypeEvent,
		Metadata: &FrameMetadata{EventType: x.EventType},
	}
}

// ErrorFrame builds the terminal frame reporting a failed turn.
func ErrorFrame(msg string) Frame {
	return Frame{Error: msg, Type: FrameTypeError}
}

// HandoffFrame builds the synthetic frame emitted once when a turn hands
// control back to the operator.
func HandoffFrame(msg string) Frame {
	return Frame{Message: msg, Type: FrameTypeHandoff}
}

// EncodeFrame renders f as a single SSE data line.
func EncodeFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, 0, len(framePrefix)+len(b)+len(frameSuffix))
	buf = append(buf, framePrefix...)
	buf = append(buf, b...)
	buf = append(buf, frameSuffix...)
	return buf, nil
}

// DecodeFrame parses one SSE data line produced by EncodeFrame. The trailing
// blank line is optional so the function accepts both raw scanner lines and
// full frames.
func DecodeFrame(line []byte) (Frame, error) {
	trimmed := bytes.TrimSuffix(line, []byte(frameSuffix))
	rest, ok := bytes.CutPrefix(trimmed, []byte(framePrefix))
	if !ok {
		return Frame{}, ErrNotFrame
	}
	var f Frame
	if err := json.Unmarshal(rest, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
