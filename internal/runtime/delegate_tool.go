package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/agentrt/internal/delegation"
	"github.com/haasonsaas/agentrt/internal/tokens"
	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// delegateCannedFallback is returned when a sub-agent's final text cannot be
// recovered at all (§4.3 "Summary fallback").
const delegateCannedFallback = "The delegated task completed but produced no usable summary."

// SubAgentSpec describes one named specialization a delegation tool can
// construct, analogous to a row in the reference's agent manifest
// (internal/multiagent AgentDefinition): a name, a base system prompt, and
// the subset of the shared registry's tools it is allowed to see.
type SubAgentSpec struct {
	Name         string
	BasePrompt   string
	AllowedTools []string // nil means every registered tool
}

// DelegateTool is the agent-delegation pseudo-tool (§4.3): it acquires a
// sub-agent from the Agent Pool keyed by {name, basePrompt, allowedTools},
// runs one turn on it, and releases the slot. It lives in internal/runtime
// rather than internal/tool/builtin because constructing a sub-agent
// requires internal/runtime.NewSubAgent, and internal/tool must not import
// internal/runtime (the reverse dependency already exists).
type DelegateTool struct {
	tool.BaseTool
	parent *Agent
	specs  map[string]SubAgentSpec

	mu       sync.Mutex
	inFlight map[*Agent]bool
}

// NewDelegateTool constructs a DelegateTool bound to parent, offering the
// given named specializations. It subscribes to EventInterruptAll so that a
// global interrupt cancels every sub-agent currently running under this
// tool (§4.3 "Interrupt propagation").
func NewDelegateTool(parent *Agent, specs []SubAgentSpec) *DelegateTool {
	m := make(map[string]SubAgentSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	t := &DelegateTool{parent: parent, specs: m, inFlight: make(map[*Agent]bool)}
	parent.stream.Subscribe(models.EventInterruptAll, func(models.Event) {
		t.mu.Lock()
		defer t.mu.Unlock()
		for a := range t.inFlight {
			a.Interrupt("cancel")
		}
	})
	return t
}

func (t *DelegateTool) Name() string        { return "agent-delegate" }
func (t *DelegateTool) Description() string { return "Delegate a task to a named specialized sub-agent and return its final response." }
func (t *DelegateTool) IsSafeConcurrent() bool { return true }
func (t *DelegateTool) UsageGuidance() string {
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	return "Use agent-delegate to hand off a self-contained sub-task to a specialist (" + strings.Join(names, ", ") + ") instead of doing unrelated work inline."
}

func (t *DelegateTool) Schema() map[string]any {
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "enum": names, "description": "Which specialized sub-agent to delegate to."},
			"task":  map[string]any{"type": "string", "description": "The task prompt to give the sub-agent."},
		},
		"required": []string{"agent", "task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Agent string `json:"agent"`
		Task  string `json:"task"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}

	spec, ok := t.specs[input.Agent]
	if !ok {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("unknown sub-agent: %s", input.Agent), ErrorType: models.ErrValidation}, nil
	}

	var allowed map[string]bool
	if spec.AllowedTools != nil {
		allowed = make(map[string]bool, len(spec.AllowedTools))
		for _, n := range spec.AllowedTools {
			allowed[n] = true
		}
	}

	key := delegation.PoolKey(spec.Name, spec.BasePrompt, spec.AllowedTools)
	sub, release := t.parent.pool.Acquire(key, input.Task, func() delegation.SubAgent {
		return NewSubAgent(t.parent.cfg, t.parent, allowed, spec.BasePrompt)
	})
	defer release()

	agent, ok := sub.(*Agent)
	if !ok {
		return &models.ToolResult{Success: false, Error: "pool returned an unexpected sub-agent type", ErrorType: models.ErrGeneral}, nil
	}

	t.mu.Lock()
	t.inFlight[agent] = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.inFlight, agent)
		t.mu.Unlock()
	}()

	result, err := agent.SendMessage(ctx, input.Task)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrExecution}, nil
	}

	summary := extractSummary(result, agent)
	summary = tokens.InjectReminder(summary, fmt.Sprintf("Delegated to %s; task: %s", input.Agent, input.Task), true)
	return &models.ToolResult{Success: true, Content: summary}, nil
}

// extractSummary implements the "Summary fallback" described in §4.3: if the
// sub-agent's final text is empty or only the interruption sentinel, fall
// back to the last non-empty assistant message in its conversation; if
// nothing can be recovered, return a stable canned message.
func extractSummary(final string, sub *Agent) string {
	trimmed := strings.TrimSpace(final)
	if trimmed != "" && trimmed != cannedInterruptedFallback {
		return trimmed
	}
	msgs := sub.ledger.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == models.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return delegateCannedFallback
}
