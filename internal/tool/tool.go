// Package tool implements the Tool Orchestrator (§4.2): the registry, batch
// unwrapping, concurrent/sequential scheduling, permission gating, content
// deduplication, and per-call activity events.
package tool

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Tool is the inbound tool interface (§6.1).
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)

	// UsageGuidance is concatenated into the system prompt (§4.5).
	UsageGuidance() string

	// RequiresConfirmation marks a tool that must never bypass the
	// permission gate even if IsSafeConcurrent is true (rare; in practice
	// destructive tools are also not safe-concurrent).
	RequiresConfirmation() bool
	// IsSafeConcurrent marks a tool as read-only/inspection-only: safe to
	// run concurrently with any other safe tool, and exempt from the
	// permission gate (§4.2/§4.4).
	IsSafeConcurrent() bool
	// SuppressExecutionAnimation, ShouldCollapse, HideOutput are UI display
	// hints threaded through unchanged (the UI itself is out of scope).
	SuppressExecutionAnimation() bool
	ShouldCollapse() bool
	HideOutput() bool
	// IsTransparentWrapper marks a pseudo-tool (e.g. batch) whose own
	// execution never produces a visible tool message — only its unwrapped
	// children do.
	IsTransparentWrapper() bool
}

// FunctionDefinition converts a Tool into the LLM-facing schema.
func FunctionDefinition(t Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// BaseTool provides sensible zero-value defaults for the optional flags so
// concrete tools only need to override what they actually use, matching the
// reference registry's convention of small, focused tool structs.
type BaseTool struct{}

func (BaseTool) UsageGuidance() string            { return "" }
func (BaseTool) RequiresConfirmation() bool       { return false }
func (BaseTool) IsSafeConcurrent() bool           { return false }
func (BaseTool) SuppressExecutionAnimation() bool { return false }
func (BaseTool) ShouldCollapse() bool             { return false }
func (BaseTool) HideOutput() bool                 { return false }
func (BaseTool) IsTransparentWrapper() bool       { return false }
