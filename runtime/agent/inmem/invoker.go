// Package inmem provides an in-memory agent invoker that replays scripted
// event sequences. It backs the streaming tests and local development, which
// keeps the handoff and formatting state machines testable without a live
// model backend.
package inmem

import (
	"context"
	"io"
	"sync"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

type (
	// Script describes the outcome of one invocation.
	Script struct {
		// Events are replayed in order by the returned stream.
		Events []agent.Event
		// Err, when set, is returned by Recv after Events are exhausted
		// instead of io.EOF, simulating a mid-stream backend failure.
		Err error
		// InvokeErr, when set, fails the Invoke call itself before any event
		// is produced.
		InvokeErr error
	}

	// Invoker replays scripts one per invocation, in order. Invocations past
	// the end of the script list receive an empty stream.
	Invoker struct {
		mu      sync.Mutex
		scripts []Script
		calls   []agent.Request
	}

	stream struct {
		events []agent.Event
		err    error
		pos    int
	}
)

// NewInvoker returns an invoker that replays the given scripts in order.
func NewInvoker(scripts ...Script) *Invoker {
	return &Invoker{scripts: scripts}
}

// Invoke records the request and returns a stream replaying the next script.
func (i *Invoker) Invoke(ctx context.Context, req agent.Request) (agent.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, req)
	if len(i.scripts) == 0 {
		return &stream{}, nil
	}
	s := i.scripts[0]
	i.scripts = i.scripts[1:]
	if s.InvokeErr != nil {
		return nil, s.InvokeErr
	}
	return &stream{events: s.Events, err: s.Err}, nil
}

// Calls returns a copy of the requests received so far.
func (i *Invoker) Calls() []agent.Request {
	i.mu.Lock()
	defer i.mu.Unlock()
	calls := make([]agent.Request, len(i.calls))
	copy(calls, i.calls)
	return calls
}

func (s *stream) Recv() (agent.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *stream) Close() error { return nil }
