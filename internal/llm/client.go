// Package llm defines the LLM Client contract (§4.7/§6.2): send/stream/
// cancel/close plus the retry taxonomy and tool-call repair shared by every
// concrete provider.
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// ToolDefinition is the function-calling schema advertised to the model,
// sourced from the Tool Orchestrator's registry (§6.1 getFunctionDefinition).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options carries per-request knobs (model, temperature, max tokens).
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// FinishReason classifies how a response ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishAborted   FinishReason = "aborted"
)

// Response is the full aggregated result of send or of draining stream.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason FinishReason
}

// Chunk is one increment of a streamed response.
type Chunk struct {
	DeltaContent  string
	DeltaToolCall *models.ToolCall // present once a tool call's arguments are complete
	Done          bool
	Final         *Response // populated on the terminal chunk
	Err           error
}

// Client is the LLM Client contract. Implementations: internal/llm/anthropic,
// internal/llm/openai.
type Client interface {
	// Send performs one non-streaming request and returns the aggregated
	// response, including repaired tool calls (see RepairToolCalls).
	Send(ctx context.Context, messages []*models.Message, tools []ToolDefinition, opts Options) (*Response, error)

	// Stream performs one streaming request. The returned channel is closed
	// by the producing goroutine when the stream ends (error or completion).
	Stream(ctx context.Context, messages []*models.Message, tools []ToolDefinition, opts Options) (<-chan Chunk, error)

	// Cancel aborts any in-flight request started on this client instance.
	Cancel()

	// Close releases connections. Only the main agent calls Close; sub-agents
	// share a client reference and must not close it (§4.3/§5).
	Close() error
}

// CountTokens estimates the token count of messages using the same
// ~4-chars-per-token heuristic the reference implementation's providers use
// for quick budget checks ahead of an actual request.
func CountTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Name)/4 + len(tc.Arguments)/4
		}
	}
	return total
}

// RepairToolCalls implements the tool-call repair pass described in §4.7:
// synthesize a missing id, default a missing type to "function" (a no-op in
// this Go model since ToolCall has no Type field — kept as a documented
// step for parity with the spec's repair list), JSON-parse string arguments
// once, and reject calls whose name is not in knownTools.
func RepairToolCalls(calls []models.ToolCall, knownTools map[string]bool, newID func() string) ([]models.ToolCall, []error) {
	repaired := make([]models.ToolCall, 0, len(calls))
	var errs []error
	for _, c := range calls {
		if c.ID == "" {
			c.ID = newID()
		}
		if len(c.Arguments) > 0 && c.Arguments[0] == '"' {
			var asString string
			if err := json.Unmarshal(c.Arguments, &asString); err == nil {
				if json.Valid([]byte(asString)) {
					c.Arguments = json.RawMessage(asString)
				}
			}
		}
		if knownTools != nil && !knownTools[c.Name] {
			errs = append(errs, &UnknownToolError{Name: c.Name, ToolCallID: c.ID})
			continue
		}
		repaired = append(repaired, c)
	}
	return repaired, errs
}

// UnknownToolError is returned by RepairToolCalls for a tool_call whose name
// does not resolve in the registry.
type UnknownToolError struct {
	Name       string
	ToolCallID string
}

func (e *UnknownToolError) Error() string {
	return "unknown tool in tool_call: " + e.Name
}
