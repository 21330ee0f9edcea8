// Package stream implements the conversational streaming pipeline: each event
// produced by an agent backend is classified, reduced to display text,
// checked for operator handoff and framed as a server-sent event, while the
// assistant text is accumulated for conversation persistence. The pipeline
// runs a primary invoker first and reruns the whole loop on a fallback
// invoker when the primary path fails; handoff state and accumulated text
// survive the rerun.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/session"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/tools"
)

// errAbort marks transport failures that must not trigger the fallback path:
// once a frame failed to reach the client, rerunning the turn would only
// duplicate output nobody receives.
var errAbort = errors.New("stream transport failed")

type (
	// Sink receives encoded SSE frames in stream order. Implementations flush
	// every frame before returning so partial output reaches the client
	// incrementally.
	Sink interface {
		Send(ctx context.Context, frame []byte) error
	}

	// Turn describes one user turn to stream.
	Turn struct {
		// Prompt is the raw user message, without conversation context.
		Prompt string
		// SessionID correlates the turns of one conversation.
		SessionID string
		// ActorID identifies the requesting principal.
		ActorID string
	}

	// PipelineOptions configures NewPipeline.
	PipelineOptions struct {
		// Primary handles turns under normal operation. Required.
		Primary agent.Invoker
		// Fallback handles the rerun after a primary path failure, typically
		// an invoker restricted to local tools. Optional.
		Fallback agent.Invoker
		// Sessions persists conversation turns and supplies prior context.
		// Optional.
		Sessions session.Store
		// Tools narrows the primary tool set per turn. Optional; fallback
		// runs never consult it.
		Tools tools.Searcher
		// TurnTimeout bounds each invocation attempt; the fallback rerun gets
		// a fresh budget. Defaults to DefaultTurnTimeout.
		TurnTimeout time.Duration
		// Logger defaults to a noop logger when nil.
		Logger telemetry.Logger
		// Metrics defaults to a noop recorder when nil.
		Metrics telemetry.Metrics
		// Tracer defaults to a noop tracer when nil.
		Tracer telemetry.Tracer
	}

	// Pipeline orchestrates one streaming turn end to end.
	Pipeline struct {
		primary  agent.Invoker
		fallback agent.Invoker
		sessions session.Store
		tools    tools.Searcher
		timeout  time.Duration
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}
)

// DefaultTurnTimeout bounds a single agent invocation within a turn.
const DefaultTurnTimeout = 90 * time.Second

// NewPipeline validates opts and builds a pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Primary == nil {
		return nil, errors.New("primary invoker is required")
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Pipeline{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		sessions: opts.Sessions,
		tools:    opts.Tools,
		timeout:  opts.TurnTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}, nil
}

// Run executes one turn: it loads conversation context, narrows the tool set,
// streams backend events to sink and saves the exchange once the stream
// completes. The returned error reports transport failures only; backend
// failures are reported to the client as a terminal error frame after the
// fallback path is exhausted.
func (p *Pipeline) Run(ctx context.Context, turn Turn, sink Sink) error {
	start := time.Now()
	p.metrics.IncCounter("stream_turns", 1)
	ctx, span := p.tracer.Start(ctx, "stream.turn",
		trace.WithAttributes(attribute.String("session_id", turn.SessionID)))
	defer span.End()

	prompt := turn.Prompt
	if p.sessions != nil && p.sessions.Available() && turn.SessionID != "" {
		cctx, err := p.sessions.Context(ctx, turn.SessionID, turn.ActorID)
		switch {
		case err != nil:
			p.logger.Warn(ctx, "conversation context unavailable", "session_id", turn.SessionID, "err", err)
		case cctx != "":
			prompt = session.Compose(cctx, turn.Prompt)
		}
	}

	var (
		detector HandoffDetector
		response strings.Builder
	)

	err := p.attempt(ctx, p.primary, turn, prompt, true, &detector, &response, sink)
	if err != nil && p.fallback != nil && !errors.Is(err, errAbort) {
		p.logger.Warn(ctx, "primary agent path failed, rerunning with local tools", "session_id", turn.SessionID, "err", err)
		p.metrics.IncCounter("stream_fallbacks", 1)
		span.AddEvent("fallback", "err", err.Error())
		err = p.attempt(ctx, p.fallback, turn, prompt, false, &detector, &response, sink)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming turn failed")
		if errors.Is(err, errAbort) {
			return err
		}
		p.logger.Error(ctx, "streaming turn failed", "session_id", turn.SessionID, "err", err)
		frame, encErr := EncodeFrame(ErrorFrame(err.Error()))
		if encErr != nil {
			return encErr
		}
		return sink.Send(ctx, frame)
	}
	if detector.HandedOff() {
		span.AddEvent("handoff")
	}

	p.saveExchange(ctx, turn, response.String())
	p.metrics.RecordTimer("stream_turn_duration", time.Since(start))
	return nil
}

// attempt drains one invocation into sink. It returns nil when the stream
// completed or handed off, an errAbort-wrapped error when the client is gone,
// and a plain error for backend failures eligible for the fallback rerun. The
// invocation runs under the turn timeout; a deadline overrun surfaces as a
// backend failure so the fallback still gets its own budget.
func (p *Pipeline) attempt(ctx context.Context, inv agent.Invoker, turn Turn, prompt string, withTools bool, detector *HandoffDetector, response *strings.Builder, sink Sink) error {
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := agent.Request{Prompt: prompt, SessionID: turn.SessionID, ActorID: turn.ActorID}
	if withTools && p.tools != nil {
		defs, err := p.tools.Search(actx, tools.ReduceQuery(turn.Prompt))
		if err != nil {
			return fmt.Errorf("tool search: %w", err)
		}
		req.Tools = defs
	}

	s, err := inv.Invoke(actx, req)
	if err != nil {
		return fmt.Errorf("invoke agent: %w", err)
	}
	defer s.Close()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", errAbort, err)
		}
		if err := actx.Err(); err != nil {
			return fmt.Errorf("turn timed out: %w", err)
		}
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive event: %w", err)
		}

		if detector.Observe(ev) {
			frame, err := EncodeFrame(HandoffFrame(HandoffMessage))
			if err != nil {
				return err
			}
			if err := sink.Send(ctx, frame); err != nil {
				return fmt.Errorf("%w: %v", errAbort, err)
			}
			p.metrics.IncCounter("stream_handoffs", 1)
			p.logger.Info(ctx, "turn handed off to operator", "session_id", turn.SessionID)
			return nil
		}

		x, err := Extract(ev)
		if err != nil {
			return fmt.Errorf("extract event: %w", err)
		}
		if x.HasText {
			response.WriteString(x.Content)
		}
		frame, err := EncodeFrame(FrameFor(x))
		if err != nil {
			return err
		}
		if err := sink.Send(ctx, frame); err != nil {
			return fmt.Errorf("%w: %v", errAbort, err)
		}
	}
}

func (p *Pipeline) saveExchange(ctx context.Context, turn Turn, response string) {
	if p.sessions == nil || !p.sessions.Available() || turn.SessionID == "" || response == "" {
		return
	}
	if err := p.sessions.Save(ctx, turn.SessionID, turn.Prompt, response, turn.ActorID); err != nil {
		p.logger.Warn(ctx, "conversation save failed", "session_id", turn.SessionID, "err", err)
		return
	}
	p.logger.Debug(ctx, "conversation saved", "session_id", turn.SessionID)
}
