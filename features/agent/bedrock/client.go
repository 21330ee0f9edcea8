// Package bedrock provides an agent.Invoker backed by the AWS Bedrock
// Converse streaming API. One invocation is one ConverseStream call: the
// prompt becomes the user message, the configured system instructions ride
// along, and tool definitions are encoded into Bedrock's ToolConfiguration so
// the model can announce tool use. Tool calls surface as stream events; they
// are not executed here.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock invoker.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// ModelID is the model identifier invoked for every turn.
	ModelID string

	// SystemPrompt carries the operator instructions sent as the system
	// block. Empty means no system block.
	SystemPrompt string

	// MaxTokens caps the completion. When zero or negative, the client omits
	// MaxTokens so Bedrock uses its own default.
	MaxTokens int

	// Temperature applies to every turn when positive.
	Temperature float32

	// Logger is used for non-fatal diagnostics inside the adapter. When nil,
	// defaults to a no-op logger.
	Logger telemetry.Logger
}

// Client implements agent.Invoker on top of AWS Bedrock ConverseStream.
type Client struct {
	runtime RuntimeClient
	modelID string
	system  string
	maxTok  int
	temp    float32
	logger  telemetry.Logger
}

// New initializes a Bedrock-powered invoker.
func New(runtime *bedrockruntime.Client, opts Options) (*Client, error) {
	if runtime != nil {
		opts.Runtime = runtime
	}
	return newClient(opts)
}

func newClient(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("model identifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		runtime: opts.Runtime,
		modelID: opts.ModelID,
		system:  opts.SystemPrompt,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		logger:  logger,
	}, nil
}

// Invoke starts one streaming turn and adapts the Bedrock event stream into
// agent events.
func (c *Client) Invoke(ctx context.Context, req agent.Request) (agent.Stream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("bedrock: prompt is required")
	}
	out, err := c.runtime.ConverseStream(ctx, c.buildInput(ctx, req))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", agent.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse_stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newEventStream(ctx, stream), nil
}

func (c *Client) buildInput(ctx context.Context, req agent.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
	}
	if c.system != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: c.system},
		}
	}
	if toolConfig := c.encodeTools(ctx, req.Tools); toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

// encodeTools translates tool definitions into Bedrock's ToolConfiguration.
// Definitions without a name are skipped; an unparseable schema falls back to
// an open object schema so one bad tool does not sink the turn.
func (c *Client) encodeTools(ctx context.Context, defs []agent.ToolDefinition) *brtypes.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: c.schemaDocument(ctx, def)},
		}
		if def.Description != "" {
			spec.Description = aws.String(def.Description)
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func (c *Client) schemaDocument(ctx context.Context, def agent.ToolDefinition) document.Interface {
	if len(def.InputSchema) == 0 {
		return document.NewLazyDocument(map[string]any{"type": "object"})
	}
	var schema map[string]any
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		c.logger.Warn(ctx, "bedrock: tool schema is not valid JSON, sending open schema",
			"tool", def.Name, "err", err)
		return document.NewLazyDocument(map[string]any{"type": "object"})
	}
	return document.NewLazyDocument(schema)
}

func (c *Client) inferenceConfig() *brtypes.InferenceConfiguration {
	var (
		cfg brtypes.InferenceConfiguration
		set bool
	)
	if c.maxTok > 0 {
		cfg.MaxTokens = aws.Int32(int32(c.maxTok)) //nolint:gosec // AWS SDK requires int32
		set = true
	}
	if c.temp > 0 {
		cfg.Temperature = aws.Float32(c.temp)
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, agent.ErrRateLimited) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}

	return false
}
