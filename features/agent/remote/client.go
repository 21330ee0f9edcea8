// Package remote implements agent.Invoker against a deployed agent runtime
// endpoint. It posts one turn to the runtime's invocations URL with a bearer
// token and decodes the server-sent event response back into agent events, so
// callers consume a remote runtime exactly like an in-process backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

const (
	defaultQualifier   = "DEFAULT"
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second

	// sessionHeader carries the conversation identifier the runtime keys its
	// server-side context by.
	sessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

	// defaultActorID is used when the request does not name a principal,
	// matching the invocations endpoint default.
	defaultActorID = "user"

	// errorBodyBound caps how much of a failed response body is carried into
	// the returned error.
	errorBodyBound = 512
)

// ErrRuntimeStarting reports that the runtime endpoint is up but not yet
// serving turns. Callers that can wait retry later; the client itself already
// retried a bounded number of times before surfacing it.
var ErrRuntimeStarting = errors.New("agent runtime still starting")

type (
	// TokenSource supplies the bearer token attached to every invocation.
	TokenSource interface {
		Token(ctx context.Context) (string, error)
	}

	// tokenInvalidator is implemented by token sources that can drop a cached
	// token after the runtime rejects it.
	tokenInvalidator interface {
		Invalidate()
	}

	// Options configures the remote runtime client.
	Options struct {
		// Endpoint is the runtime service base URL, for example
		// "https://bedrock-agentcore.ap-southeast-2.amazonaws.com".
		Endpoint string
		// RuntimeARN identifies the deployed agent runtime. It is
		// percent-encoded into the invocation path.
		RuntimeARN string
		// Qualifier selects the runtime endpoint version. Defaults to
		// "DEFAULT".
		Qualifier string
		// Tokens supplies bearer tokens. Required.
		Tokens TokenSource
		// Client is the HTTP client used for invocations. It must not carry a
		// client-level timeout: responses stream for the whole turn, so
		// deadlines belong on the request context. Defaults to a plain client.
		Client *http.Client
		// MaxAttempts bounds how many times one invocation is tried while the
		// runtime reports it is still starting. Defaults to 3.
		MaxAttempts int
		// RetryDelay is the fixed sleep between attempts. Defaults to 2s.
		RetryDelay time.Duration
		// Logger records retry activity. Defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Client invokes a remote agent runtime over HTTP and SSE.
	Client struct {
		http    *http.Client
		tokens  TokenSource
		url     string
		retries int
		delay   time.Duration
		logger  telemetry.Logger
	}

	// invocationPayload is the JSON body of one turn.
	invocationPayload struct {
		Prompt    string `json:"prompt"`
		SessionID string `json:"session_id"`
		ActorID   string `json:"actor_id"`
	}
)

// New validates opts and returns a remote runtime client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("runtime endpoint is required")
	}
	if opts.RuntimeARN == "" {
		return nil, errors.New("runtime arn is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	qualifier := opts.Qualifier
	if qualifier == "" {
		qualifier = defaultQualifier
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	endpoint := strings.TrimSuffix(opts.Endpoint, "/")
	invokeURL := endpoint + "/runtimes/" + url.PathEscape(opts.RuntimeARN) +
		"/invocations?qualifier=" + url.QueryEscape(qualifier)

	return &Client{
		http:    httpClient,
		tokens:  opts.Tokens,
		url:     invokeURL,
		retries: attempts,
		delay:   delay,
		logger:  logger,
	}, nil
}

// Invoke posts one turn to the runtime and returns its event stream. A
// missing session id is replaced with a fresh UUID because the runtime
// requires the session header on every call; callers that need session
// continuity allocate the id themselves and pass it on both turns.
func (c *Client) Invoke(ctx context.Context, req agent.Request) (agent.Stream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	actorID := req.ActorID
	if actorID == "" {
		actorID = defaultActorID
	}
	body, err := json.Marshal(invocationPayload{
		Prompt:    req.Prompt,
		SessionID: sessionID,
		ActorID:   actorID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode invocation payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			c.logger.Warn(ctx, "agent runtime not ready, retrying",
				"attempt", attempt, "max_attempts", c.retries, "sleep", c.delay.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay):
			}
		}
		stream, retryable, err := c.post(ctx, body, sessionID)
		if err == nil {
			return stream, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("agent runtime unavailable after %d attempts: %w", c.retries, lastErr)
}

// post performs a single invocation attempt. The boolean reports whether the
// failure is worth another attempt.
func (c *Client) post(ctx context.Context, body []byte, sessionID string) (agent.Stream, bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("runtime auth token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build invocation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("invoke agent runtime: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return newSSEStream(resp.Body), false, nil
	case http.StatusUnauthorized:
		drainAndClose(resp.Body)
		// A rejected token is usually a cache gone stale. Invalidate and let
		// the next attempt fetch a fresh one.
		if inv, ok := c.tokens.(tokenInvalidator); ok {
			inv.Invalidate()
			return nil, true, errors.New("runtime rejected the auth token (status 401)")
		}
		return nil, false, errors.New("runtime rejected the auth token (status 401)")
	case http.StatusTooManyRequests:
		drainAndClose(resp.Body)
		return nil, false, fmt.Errorf("%w: runtime returned status 429", agent.ErrRateLimited)
	case http.StatusServiceUnavailable:
		drainAndClose(resp.Body)
		return nil, true, ErrRuntimeStarting
	default:
		snippet := readErrorBody(resp.Body)
		if snippet == "" {
			return nil, false, fmt.Errorf("runtime returned status %d", resp.StatusCode)
		}
		return nil, false, fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, snippet)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, errorBodyBound))
	_ = body.Close()
}

func readErrorBody(body io.ReadCloser) string {
	defer func() { _ = body.Close() }()
	b, err := io.ReadAll(io.LimitReader(body, errorBodyBound))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
