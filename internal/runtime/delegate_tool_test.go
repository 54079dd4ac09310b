package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/delegation"
	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/tool"
)

func newTestAgentWithPool(t *testing.T, client *fakeClient) (*Agent, *delegation.Pool) {
	t.Helper()
	registry := tool.NewRegistry()
	gate := permission.New(nil, permission.DefaultConfig())
	stream := activity.New(nil)
	pool := delegation.NewPool(delegation.Config{MaxSize: 10, SweepInterval: time.Hour, IdleTimeout: time.Hour})
	cfg := DefaultConfig()
	cfg.MaxIterations = 5
	agent := NewAgent(cfg, client, registry, gate, stream, pool, nil, "You are the main agent.")
	return agent, pool
}

func TestDelegateToolReturnsSubAgentFinalTextWithReminder(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "sub-agent's final answer", FinishReason: llm.FinishStop},
	}}
	parent, pool := newTestAgentWithPool(t, client)
	defer pool.Stop()

	dt := NewDelegateTool(parent, []SubAgentSpec{{Name: "researcher", BasePrompt: "You research things."}})

	args, _ := json.Marshal(map[string]any{"agent": "researcher", "task": "find the answer"})
	result, err := dt.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Content, "sub-agent's final answer") {
		t.Fatalf("expected the sub-agent's final text in the result, got %q", result.Content)
	}
	if !strings.Contains(result.Content, `persist="true"`) {
		t.Fatalf("expected a persistent delegation reminder tag, got %q", result.Content)
	}
}

func TestDelegateToolRejectsUnknownSubAgentName(t *testing.T) {
	client := &fakeClient{}
	parent, pool := newTestAgentWithPool(t, client)
	defer pool.Stop()

	dt := NewDelegateTool(parent, []SubAgentSpec{{Name: "researcher", BasePrompt: "x"}})
	args, _ := json.Marshal(map[string]any{"agent": "unknown", "task": "whatever"})
	result, err := dt.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for an unknown sub-agent name")
	}
}

func TestDelegateToolReusesPoolSlotAcrossCalls(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{Content: "answer one", FinishReason: llm.FinishStop},
		{Content: "answer two", FinishReason: llm.FinishStop},
	}}
	parent, pool := newTestAgentWithPool(t, client)
	defer pool.Stop()

	spec := SubAgentSpec{Name: "researcher", BasePrompt: "You research things."}
	dt := NewDelegateTool(parent, []SubAgentSpec{spec})

	key := delegation.PoolKey(spec.Name, spec.BasePrompt, spec.AllowedTools)

	args1, _ := json.Marshal(map[string]any{"agent": "researcher", "task": "task one"})
	if _, err := dt.Execute(context.Background(), args1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.UseCount(key) != 1 {
		t.Fatalf("expected useCount 1 after first delegation, got %d", pool.UseCount(key))
	}

	args2, _ := json.Marshal(map[string]any{"agent": "researcher", "task": "task two"})
	if _, err := dt.Execute(context.Background(), args2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.UseCount(key) != 2 {
		t.Fatalf("expected useCount 2 after reuse, got %d", pool.UseCount(key))
	}
}
