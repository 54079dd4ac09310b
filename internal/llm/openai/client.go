// Package openai implements the llm.Client contract against an
// OpenAI-compatible chat-completions endpoint via go-openai, satisfying the
// §6.2 requirement for "at least one OpenAI-compatible chat/completions
// endpoint with streaming and function-call support."
package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"

	openaisdk "github.com/sashabaranov/go-openai"
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
		cfg.DefaultModel = openaisdk.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Client implements llm.Client against an OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	sdk    *openaisdk.Client
	cancel atomic.Pointer[context.CancelFunc]
}

// New constructs a Client.
func New(cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	sdkCfg := openaisdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, sdk: openaisdk.NewClientWithConfig(sdkCfg)}
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

// Close is a no-op; present to satisfy the contract.
func (c *Client) Close() error { return nil }

// Send performs one non-streaming request, retrying per the §4.7 taxonomy.
func (c *Client) Send(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (*llm.Response, error) {
	req := buildRequest(messages, tools, opts, c.cfg.DefaultModel, false)

	var lastErr error
	for attempt := 0; attempt < llm.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(c.withCancel(ctx), llm.AttemptTimeout(attempt))
		resp, err := c.sdk.CreateChatCompletion(attemptCtx, req)
		cancel()

		if err == nil {
			out := convertResponse(resp, tools)
			repaired, repairErrs := llm.RepairToolCalls(out.ToolCalls, toolNameSet(tools), func() string { return uuid.NewString() })
			out.ToolCalls = repaired
			for _, re := range repairErrs {
				c.cfg.Logger.Warn("openai: tool call repair rejected call", "error", re)
			}
			return out, nil
		}

		if ctx.Err() != nil {
			return &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, nil
		}

		class := llm.ClassifyError(err)
		lastErr = &llm.ProviderError{Class: class, Message: err.Error(), Cause: err}
		if !llm.ShouldRetry(class) {
			return nil, lastErr
		}
		c.cfg.Logger.Warn("openai: retrying send", "attempt", attempt, "class", class, "error", err)
		if sleepErr := backoff.SleepWithContext(ctx, llm.Backoff(class, attempt)); sleepErr != nil {
			return &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, nil
		}
	}
	return nil, lastErr
}

// Stream performs one streaming request.
func (c *Client) Stream(ctx context.Context, messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options) (<-chan llm.Chunk, error) {
	req := buildRequest(messages, tools, opts, c.cfg.DefaultModel, true)
	streamCtx := c.withCancel(ctx)

	stream, err := c.sdk.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		return nil, &llm.ProviderError{Class: llm.ClassifyError(err), Message: err.Error(), Cause: err}
	}

	out := make(chan llm.Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var content string
		toolArgsByIndex := map[int]*models.ToolCall{}

		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				if streamCtx.Err() != nil {
					out <- llm.Chunk{Final: &llm.Response{Content: llm.CannedInterruptedResponse, FinishReason: llm.FinishAborted}, Done: true}
					return
				}
				out <- llm.Chunk{Err: &llm.ProviderError{Class: llm.ClassifyError(err), Message: err.Error(), Cause: err}, Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				content += delta.Content
				out <- llm.Chunk{DeltaContent: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				entry, ok := toolArgsByIndex[idx]
				if !ok {
					entry = &models.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolArgsByIndex[idx] = entry
				}
				entry.Arguments = append(entry.Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		resp := &llm.Response{Content: content, FinishReason: llm.FinishStop}
		for i := 0; i < len(toolArgsByIndex); i++ {
			if tc, ok := toolArgsByIndex[i]; ok {
				resp.ToolCalls = append(resp.ToolCalls, *tc)
			}
		}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = llm.FinishToolCalls
		}

		known := toolNameSet(tools)
		repaired, repairErrs := llm.RepairToolCalls(resp.ToolCalls, known, func() string { return uuid.NewString() })
		resp.ToolCalls = repaired
		for _, re := range repairErrs {
			c.cfg.Logger.Warn("openai: stream tool call repair rejected call", "error", re)
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

func buildRequest(messages []*models.Message, tools []llm.ToolDefinition, opts llm.Options, defaultModel string, stream bool) openaisdk.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	req := openaisdk.ChatCompletionRequest{
		Model:     model,
		MaxTokens: opts.MaxTokens,
		Stream:    stream,
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}

	for _, m := range messages {
		req.Messages = append(req.Messages, convertMessage(m))
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openaisdk.Tool{
			Type: openaisdk.ToolTypeFunction,
			Function: &openaisdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func convertMessage(m *models.Message) openaisdk.ChatCompletionMessage {
	switch m.Role {
	case models.RoleSystem:
		return openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleSystem, Content: m.Content}
	case models.RoleTool:
		return openaisdk.ChatCompletionMessage{
			Role:       openaisdk.ChatMessageRoleTool,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
	case models.RoleAssistant:
		msg := openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openaisdk.ToolCall{
				ID:   tc.ID,
				Type: openaisdk.ToolTypeFunction,
				Function: openaisdk.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return msg
	default:
		return openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleUser, Content: m.Content}
	}
}

func convertResponse(resp openaisdk.ChatCompletionResponse, tools []llm.ToolDefinition) *llm.Response {
	out := &llm.Response{FinishReason: llm.FinishStop}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	} else if choice.FinishReason == openaisdk.FinishReasonLength {
		out.FinishReason = llm.FinishLength
	}
	return out
}
