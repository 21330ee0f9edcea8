// Package session defines conversation context persistence for the agent
// runtime. A store keeps completed user/agent exchanges keyed by session and
// actor and renders them back as prompt context for the next turn.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable reports that the backing conversation service is configured
// but cannot be reached. Callers must distinguish it from an empty context,
// which is never an error.
var ErrUnavailable = errors.New("conversation store unavailable")

type (
	// Exchange is one completed user/agent turn pair.
	Exchange struct {
		UserMessage   string    `json:"user_message"`
		AgentResponse string    `json:"agent_response"`
		CreatedAt     time.Time `json:"created_at"`
	}

	// Store persists conversation turns keyed by (session, actor).
	Store interface {
		// Context returns the rendered conversation context for a session.
		// An empty string means no prior context and is not an error.
		Context(ctx context.Context, sessionID, actorID string) (string, error)
		// Save persists one completed exchange. The pipeline calls it only
		// after the streaming turn finished, never mid-stream.
		Save(ctx context.Context, sessionID, userMsg, agentResp, actorID string) error
		// Available reports whether the store is configured and usable.
		// Implementations may memoize the answer; false disables context
		// handling for the process lifetime.
		Available() bool
	}
)

// Compose prepends conversation context to the user message in the shape the
// agent prompt expects. An empty context returns the message unchanged.
func Compose(context, userMsg string) string {
	if context == "" {
		return userMsg
	}
	return context + "\n\nCurrent user message: " + userMsg
}

// Render formats a window of exchanges as prompt context, oldest first.
func Render(exchanges []Exchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:")
	for _, e := range exchanges {
		b.WriteString("\nUser: ")
		b.WriteString(e.UserMessage)
		b.WriteString("\nAssistant: ")
		b.WriteString(e.AgentResponse)
	}
	return b.String()
}
