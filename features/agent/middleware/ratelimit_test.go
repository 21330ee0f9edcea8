package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"golang.org/x/time/rate"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

type fakeInvoker struct {
	invokeErr error

	invokeCalls int
}

func (f *fakeInvoker) Invoke(_ context.Context, _ agent.Request) (agent.Stream, error) {
	f.invokeCalls++
	return nil, f.invokeErr
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	t.Helper()

	limiter := newAdaptiveRateLimiter(60000, 60000)

	initialTPM := limiter.currentTPM

	backend := &fakeInvoker{
		invokeErr: agent.ErrRateLimited,
	}
	wrapped := limiter.Middleware()(backend)

	req := agent.Request{
		Prompt:    "hello",
		SessionID: "sess-1",
	}

	_, err := wrapped.Invoke(context.Background(), req)
	if err == nil || !errors.Is(err, agent.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	t.Helper()

	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	backend := &fakeInvoker{}
	wrapped := limiter.Middleware()(backend)

	req := agent.Request{
		Prompt:    "hello",
		SessionID: "sess-1",
	}

	_, err := wrapped.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_RespectsContextWhenQueued(t *testing.T) {
	t.Helper()

	limiter := newAdaptiveRateLimiter(60, 60)

	limiter.mu.Lock()
	limiter.currentTPM = 60
	// Configure an impossible limiter so any non-zero token request fails
	// immediately. This exercises the error path without relying on timing.
	limiter.limiter = rate.NewLimiter(0, 0)
	limiter.mu.Unlock()

	backend := &fakeInvoker{}
	wrapped := limiter.Middleware()(backend)

	longPrompt := make([]byte, 600)
	for i := range longPrompt {
		longPrompt[i] = 'a'
	}

	req := agent.Request{
		Prompt:    string(longPrompt),
		SessionID: "sess-1",
	}

	_, err := wrapped.Invoke(context.Background(), req)
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if backend.invokeCalls != 0 {
		t.Fatalf("expected underlying invoker not to be called, got %d calls",
			backend.invokeCalls)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	t.Helper()

	smallReq := agent.Request{Prompt: "short"}
	bigReq := agent.Request{Prompt: "this is a much longer message"}

	small := estimateTokens(smallReq)
	big := estimateTokens(bigReq)

	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d",
			small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d",
			small, big)
	}
}

func TestEstimateTokensCountsToolDefinitions(t *testing.T) {
	t.Helper()

	bare := agent.Request{Prompt: "inspect the distribution"}
	withTools := agent.Request{
		Prompt: "inspect the distribution",
		Tools: []agent.ToolDefinition{
			{
				Name:        "bac-tool___cloudfront_read",
				Description: "Read CloudFront distribution configuration and status",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"distribution_id":{"type":"string"}}}`),
			},
		},
	}

	if estimateTokens(withTools) <= estimateTokens(bare) {
		t.Fatalf("expected tool definitions to raise the estimate, bare=%d tools=%d",
			estimateTokens(bare), estimateTokens(withTools))
	}
}

func TestEstimateTokensFloorsEmptyRequest(t *testing.T) {
	t.Helper()

	if got := estimateTokens(agent.Request{}); got != 500 {
		t.Fatalf("expected empty request to cost the minimum estimate, got %d", got)
	}
}
