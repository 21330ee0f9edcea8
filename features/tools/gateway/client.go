// Package gateway implements tools.Searcher against the tool gateway's MCP
// endpoint. The gateway exposes a built-in semantic search tool that returns
// the tools most relevant to a keyword query; this adapter invokes it over
// JSON-RPC with a bearer token, validates the returned schemas and caps the
// result before it reaches the agent.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/tools"
)

const (
	// searchToolName is the gateway's built-in semantic search tool.
	searchToolName = "x_amz_bedrock_agentcore_search"

	defaultTimeout = 15 * time.Second

	// errorBodyBound caps how much of a failed response body is carried into
	// the returned error.
	errorBodyBound = 512
)

type (
	// TokenSource supplies the bearer token attached to every gateway call.
	TokenSource interface {
		Token(ctx context.Context) (string, error)
	}

	// Options configures the gateway client.
	Options struct {
		// Endpoint is the gateway MCP URL. Required.
		Endpoint string
		// Tokens supplies bearer tokens. Required.
		Tokens TokenSource
		// Client is the HTTP client used for gateway calls. Defaults to a
		// client bounded by Timeout.
		Client *http.Client
		// Timeout bounds each gateway call. Defaults to 15s.
		Timeout time.Duration
		// Logger records dropped tools. Defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Client talks JSON-RPC to the tool gateway.
	Client struct {
		endpoint string
		tokens   TokenSource
		http     *http.Client
		logger   telemetry.Logger
	}

	// rpcRequest is the JSON-RPC 2.0 envelope the gateway speaks.
	rpcRequest struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      int       `json:"id"`
		Method  string    `json:"method"`
		Params  rpcParams `json:"params"`
	}

	rpcParams struct {
		Name      string         `json:"name,omitempty"`
		Arguments map[string]any `json:"arguments,omitempty"`
		Cursor    string         `json:"cursor,omitempty"`
	}

	rpcResponse struct {
		Result *rpcResult `json:"result"`
		Error  *rpcError  `json:"error"`
	}

	rpcResult struct {
		Tools             []agent.ToolDefinition `json:"tools"`
		NextCursor        string                 `json:"nextCursor"`
		StructuredContent *struct {
			Tools []agent.ToolDefinition `json:"tools"`
		} `json:"structuredContent"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

// New validates opts and returns a gateway client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("gateway endpoint is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		endpoint: opts.Endpoint,
		tokens:   opts.Tokens,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// Search invokes the gateway's semantic search tool and returns the ranked
// tools for query, capped at tools.MaxSearchResults. Tools whose input schema
// does not compile are dropped rather than failing the turn. An empty result
// is not an error.
func (c *Client) Search(ctx context.Context, query string) ([]agent.ToolDefinition, error) {
	res, err := c.call(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params: rpcParams{
			Name:      searchToolName,
			Arguments: map[string]any{"query": query},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool search: %w", err)
	}
	if res.StructuredContent == nil {
		return nil, nil
	}
	return tools.Cap(c.validSchemas(ctx, res.StructuredContent.Tools)), nil
}

// ListTools returns every tool the gateway publishes, following cursor
// pagination until exhausted.
func (c *Client) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	var (
		all    []agent.ToolDefinition
		cursor string
	)
	for {
		res, err := c.call(ctx, rpcRequest{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "tools/list",
			Params:  rpcParams{Cursor: cursor},
		})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		all = append(all, c.validSchemas(ctx, res.Tools)...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

func (c *Client) call(ctx context.Context, req rpcRequest) (*rpcResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway token: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyBound))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gateway error %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == nil {
		return nil, errors.New("gateway response has no result")
	}
	return out.Result, nil
}

// validSchemas drops tools whose input schema does not compile so the agent
// never receives a tool it cannot be called with.
func (c *Client) validSchemas(ctx context.Context, defs []agent.ToolDefinition) []agent.ToolDefinition {
	kept := defs[:0:len(defs)]
	for _, def := range defs {
		if err := compileSchema(def.InputSchema); err != nil {
			c.logger.Warn(ctx, "dropping tool with invalid schema", "tool", def.Name, "err", err)
			continue
		}
		kept = append(kept, def)
	}
	return kept
}

func compileSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}
