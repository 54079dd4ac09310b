package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// BatchToolName is the reserved name of the transparent batch pseudo-tool.
const BatchToolName = "batch"

// batchArgs mirrors the batch tool's declared parameter schema: a list of
// {name, arguments} children.
type batchArgs struct {
	Tools []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tools"`
}

// BatchTool validates batch arguments but never itself executes beyond
// validation (§4.2): the Orchestrator unwraps its children before scheduling
// and the batch call's own id never appears in a TOOL_CALL_START/END event.
type BatchTool struct {
	BaseTool
}

func (BatchTool) Name() string        { return BatchToolName }
func (BatchTool) Description() string { return "Execute multiple tools as a single logical call." }
func (BatchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tools": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":      map[string]any{"type": "string"},
						"arguments": map[string]any{"type": "object"},
					},
					"required": []string{"name", "arguments"},
				},
			},
		},
		"required": []string{"tools"},
	}
}
func (BatchTool) IsSafeConcurrent() bool     { return true }
func (BatchTool) IsTransparentWrapper() bool { return true }

// Execute only validates; the Orchestrator never actually calls this because
// batch calls are unwrapped before scheduling, but it is defined for
// interface completeness and direct-call safety.
func (BatchTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var parsed batchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("batch: invalid arguments: %w", err)
	}
	return &models.ToolResult{Success: true, Content: "batch: validated, children executed independently"}, nil
}

// UnwrapBatchCalls replaces any batch call in calls with its children,
// assigned derived ids of the form "{parentId}-unwrapped-{index}", inserted
// contiguously at the batch call's position. Non-batch calls retain their
// relative order (§8 "Round-trip / idempotence" invariant).
func UnwrapBatchCalls(calls []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Name != BatchToolName {
			out = append(out, c)
			continue
		}
		var parsed batchArgs
		if err := json.Unmarshal(c.Arguments, &parsed); err != nil {
			// Malformed batch: surface as-is so validation fails downstream
			// with a normal tool error rather than being silently dropped.
			out = append(out, c)
			continue
		}
		for i, child := range parsed.Tools {
			out = append(out, models.ToolCall{
				ID:        fmt.Sprintf("%s-unwrapped-%d", c.ID, i),
				Name:      child.Name,
				Arguments: child.Arguments,
			})
		}
	}
	return out
}
