package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

// eventStream adapts a Bedrock ConverseStream event stream to the
// agent.Stream interface.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	events chan agent.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newEventStream(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) agent.Stream {
	cctx, cancel := context.WithCancel(ctx)
	es := &eventStream{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan agent.Event, 32),
	}
	go es.run()
	return es
}

func (s *eventStream) Recv() (agent.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return nil, err
	}
}

func (s *eventStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *eventStream) run() {
	defer close(s.events)
	defer func() { _ = s.stream.Close() }()

	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(nil)
				}
				return
			}
			if err := s.emit(translate(event)); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *eventStream) emit(ev agent.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.events <- ev:
		return nil
	}
}

func (s *eventStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *eventStream) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// translate converts one Bedrock streaming event into an agent event. Text
// deltas and tool starts become their typed variants; everything else is
// forwarded as a raw event so downstream consumers see the full turn, the
// way the upstream runtime relays its backend stream.
func translate(event brtypes.ConverseStreamOutput) agent.Event {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if text, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
			return agent.TextDelta{Text: text.Value}
		}
		return rawEvent("contentBlockDelta", ev.Value)
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			return agent.ToolStart{
				Name: aws.ToString(toolUse.Value.Name),
				ID:   aws.ToString(toolUse.Value.ToolUseId),
			}
		}
		return rawEvent("contentBlockStart", ev.Value)
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return rawEvent("messageStart", ev.Value)
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		return rawEvent("contentBlockStop", ev.Value)
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return rawEvent("messageStop", ev.Value)
	case *brtypes.ConverseStreamOutputMemberMetadata:
		return rawEvent("metadata", ev.Value)
	default:
		return rawEvent("", event)
	}
}

func rawEvent(kind string, payload any) agent.Raw {
	raw, err := json.Marshal(payload)
	if err != nil {
		return agent.Raw{Kind: kind}
	}
	return agent.Raw{Kind: kind, Payload: raw}
}
