// Package anthropic implements the llm.Client contract against the Anthropic
// Messages API, grounded on the retry-loop and SSE-processing structure of
// the reference runtime's Anthropic provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/backoff"
	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Config configures a Client.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       *slog.Logger
}

func sanitizeConfig(cfg Config) Config {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	cfg    Config
	sdk    anthropicsdk.Client
	cancel atomic.Pointer[context.CancelFunc]
	mu     sync.Mutex
}

// New constructs a Client.
func New(cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, sdk: anthropicsdk.NewClient(opts...)}
}

var _ llm.Client = (*Client)(nil)

func (c *Client) withCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel.Store(&cancel)
	return ctx
}

// Cancel aborts any in-flight request issued through this client instance.
func (c *Client) Cancel() {
	if p := c.cancel.Load(); p != nil {
		(*p)()
	}
}

// Close is a no-op for the HTTP-based SDK client; present to satisfy the
// contract (only the main agent calls it).
func (c *Client) Close() error { return nil }

// Send performs one non-streaming request, retrying per the §4.7 taxonomy,
// and runs tool-call repair on the result before returning.
func (c *Client) Send(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.Response, error) {
	params := buildParams(messages, tools, opts, c.cfg.DefaultModel)

	var lastErr error
	for attempt := 0; attempt < llm.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(c.withCancel(ctx), llm.AttemptTimeout(attempt))
		msg, err := c.sdk.Messages.New(attemptCtx, params)
		cancel()

		if err == nil {
			resp := convertResponse(msg)
			known := toolNameSet(tools)
			repaired, repairErrs := llm.RepairToolCalls(resp.ToolCalls, known, func() string { return uuid.NewString() })
			resp.ToolCalls = repaired
			for _, re := range repairErrs {
				c.cfg.Logger.Warn("anthropic: tool call repair rejected call", "error", re)
			}
			return resp, nil
		}

		if ctx.Err() != nil {
			return &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, nil
		}

		class := llm.ClassifyError(err)
		lastErr = &llm.ProviderError{Class: class, Message: err.Error(), Cause: err}
		if !llm.ShouldRetry(class) {
			return nil, lastErr
		}
		c.cfg.Logger.Warn("anthropic: retrying send", "attempt", attempt, "class", class, "error", err)
		if sleepErr := backoff.SleepWithContext(ctx, llm.Backoff(class, attempt)); sleepErr != nil {
			return &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, nil
		}
	}
	return nil, lastErr
}

// Stream performs one streaming request. Tool-call validation problems
// encountered mid-stream are logged but not retried — the §9 "known open
// issue" this module deliberately leaves unresolved.
func (c *Client) Stream(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (<-chan llm.Chunk, error) {
	params := buildParams(messages, tools, opts, c.cfg.DefaultModel)
	streamCtx := c.withCancel(ctx)

	out := make(chan llm.Chunk, 16)
	go func() {
		defer close(out)

		stream := c.sdk.Messages.NewStreaming(streamCtx, params)

		var acc anthropicsdk.Message
		var content string
		var toolCalls []models.ToolCall

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				c.cfg.Logger.Warn("anthropic: stream accumulate validation error, not retried", "error", err)
				continue
			}

			if delta, ok := asTextDelta(event); ok {
				content += delta
				out <- llm.Chunk{DeltaContent: delta}
			}
		}

		if err := stream.Err(); err != nil {
			if streamCtx.Err() != nil {
				out <- llm.Chunk{Final: &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, Done: true}
				return
			}
			out <- llm.Chunk{Err: &llm.ProviderError{Class: llm.ClassifyError(err), Message: err.Error(), Cause: err}, Done: true}
			return
		}

		resp := convertResponse(&acc)
		if resp.Content == "" {
			resp.Content = content
		}
		toolCalls = resp.ToolCalls

		known := toolNameSet(tools)
		repaired, repairErrs := llm.RepairToolCalls(toolCalls, known, func() string { return uuid.NewString() })
		resp.ToolCalls = repaired
		for _, re := range repairErrs {
			c.cfg.Logger.Warn("anthropic: stream tool call repair rejected call", "error", re)
		}

		out <- llm.Chunk{Final: resp, Done: true}
	}()

	return out, nil
}

func toolNameSet(tools []llm.ToolDefinition) map[string]bool {
	m := make(map[string]bool, len(tools))
	for _, t := range tools {
		m[t.Name] = true
	}
	return m
}

func buildParams(messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options, defaultModel string) anthropicsdk.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: maxTokens,
	}

	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			params.System = []anthropicsdk.TextBlockParam{{Text: m.Content}}
		case models.RoleUser, models.RoleAssistant, models.RoleTool:
			params.Messages = append(params.Messages, convertMessage(m))
		}
	}

	for _, t := range tools {
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: t.Parameters["properties"],
				},
			},
		})
	}

	return params
}

func convertMessage(m *models.Message) anthropicsdk.MessageParam {
	switch m.Role {
	case models.RoleTool:
		return anthropicsdk.NewUserMessage(
			anthropicsdk.NewToolResultBlock(m.ToolCallID, m.Content, false),
		)
	case models.RoleAssistant:
		blocks := []anthropicsdk.ContentBlockParamUnion{}
		if m.Content != "" {
			blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal(tc.Arguments, &input)
			blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		return anthropicsdk.NewAssistantMessage(blocks...)
	default:
		return anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
	}
}

func convertResponse(msg *anthropicsdk.Message) *llm.Response {
	resp := &llm.Response{FinishReason: llm.FinishStop}
	if msg == nil {
		return resp
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			resp.Content += variant.Text
		case anthropicsdk.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = llm.FinishToolCalls
	}
	return resp
}

func asTextDelta(event anthropicsdk.MessageStreamEventUnion) (string, bool) {
	if delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent); ok {
		if textDelta, ok := delta.Delta.AsAny().(anthropicsdk.TextDelta); ok {
			return textDelta.Text, true
		}
	}
	return "", false
}

// Name identifies this provider for logging/diagnostics.
func (c *Client) Name() string { return fmt.Sprintf("anthropic:%s", c.cfg.DefaultModel) }
