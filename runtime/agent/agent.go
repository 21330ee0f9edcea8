// Package agent defines the contract between the CloudOps runtime and the
// conversational backends that execute turns. A backend is anything that can
// take a prompt and produce an ordered stream of events: the production
// Bedrock adapter, the remote AgentCore runtime client, or the in-memory fake
// used by tests. Everything downstream of this package (extraction, handoff
// detection, SSE framing) operates purely on the Event union so it never
// depends on a concrete SDK.
package agent

import (
	"context"
	"encoding/json"
)

type (
	// Invoker runs a single conversational turn against a backend and exposes
	// the backend output as an event stream.
	Invoker interface {
		// Invoke starts one turn. The returned stream must be drained or
		// closed by the caller. Implementations honor ctx cancellation on
		// both the initial call and subsequent receives.
		Invoke(ctx context.Context, req Request) (Stream, error)
	}

	// Stream delivers the events produced by one invocation in arrival order.
	Stream interface {
		// Recv returns the next event. It returns io.EOF once the backend has
		// delivered every event for the turn.
		Recv() (Event, error)
		// Close releases resources held by the stream. It is safe to call
		// Close after Recv returned an error.
		Close() error
	}

	// Request carries one user turn to a backend.
	Request struct {
		// Prompt is the full message sent to the backend, including any
		// conversation context prepended by the caller.
		Prompt string
		// SessionID correlates the turns of one conversation. Backends that
		// maintain server-side context key it by this value.
		SessionID string
		// ActorID identifies the principal the turn is executed for.
		ActorID string
		// Tools lists the tools the backend may call during this turn. Nil
		// means the backend default tool set.
		Tools []ToolDefinition
	}

	// ToolDefinition describes a callable tool surfaced to the backend.
	ToolDefinition struct {
		// Name is the tool identifier, possibly carrying a gateway namespace
		// prefix such as "bac-tool___ec2_read_operations".
		Name string `json:"name"`
		// Description is the human-readable summary used for tool selection.
		Description string `json:"description"`
		// InputSchema is the JSON schema of the tool arguments.
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	}
)
