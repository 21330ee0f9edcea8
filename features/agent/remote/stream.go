package remote

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/stream"
)

// scanBufferBound caps a single SSE line. Text deltas are small but event
// frames can carry sizeable diagnostic payloads.
const scanBufferBound = 1 << 20

// sseStream adapts the invocations response body to agent.Stream. Each
// "data:" line decodes into one frame; frames map back onto the event union
// they were produced from. Lines that are not frames are skipped, matching
// the tolerance of the original stream consumers.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	err     error
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), scanBufferBound)
	return &sseStream{body: body, scanner: sc}
}

// Recv returns the next decoded event. An error frame terminates the stream
// with the reported failure; io.EOF marks a turn that completed normally.
func (s *sseStream) Recv() (agent.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := stream.DecodeFrame(line)
		if err != nil {
			if errors.Is(err, stream.ErrNotFrame) {
				continue
			}
			// Undecodable data lines are dropped rather than failing the turn.
			continue
		}
		ev, err := eventFor(f)
		if err != nil {
			s.err = err
			return nil, err
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("read runtime stream: %w", err)
		return nil, s.err
	}
	s.err = io.EOF
	return nil, io.EOF
}

// Close releases the response body. The underlying transport cancels the
// in-flight read when the request context ends, so Close after an error is
// safe.
func (s *sseStream) Close() error {
	return s.body.Close()
}

// eventFor maps one wire frame back onto the event union. Handoff frames
// become the handoff tool-start event so detectors layered on a remote
// invoker classify them exactly as they would the in-process event.
func eventFor(f stream.Frame) (agent.Event, error) {
	switch f.Type {
	case stream.FrameTypeText:
		return agent.TextDelta{Text: f.Content}, nil
	case stream.FrameTypeHandoff:
		return agent.ToolStart{Name: stream.HandoffToolName}, nil
	case stream.FrameTypeError:
		return nil, fmt.Errorf("agent runtime error: %s", f.Error)
	default:
		return rawEvent(f), nil
	}
}

// rawEvent carries event frames and unknown frame types through as raw
// events so callers observe the full remote turn.
func rawEvent(f stream.Frame) agent.Event {
	kind := f.Type
	if f.Metadata != nil && f.Metadata.EventType != "" {
		kind = f.Metadata.EventType
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return agent.Raw{Kind: kind}
	}
	return agent.Raw{Kind: kind, Payload: payload}
}
