package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/tokens"
	"github.com/haasonsaas/agentrt/pkg/models"
)

type fakeTool struct {
	BaseTool
	name       string
	safe       bool
	result     *models.ToolResult
	err        error
	panics     bool
	sleep      time.Duration
}

func (f *fakeTool) Name() string              { return f.name }
func (f *fakeTool) Description() string       { return "fake" }
func (f *fakeTool) Schema() map[string]any    { return nil }
func (f *fakeTool) IsSafeConcurrent() bool    { return f.safe }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	if f.panics {
		panic("fake tool panic")
	}
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestExecuteAllPreservesCallOrderRegardlessOfCompletionOrder(t *testing.T) {
	registry := NewRegistry()
	slow := &fakeTool{name: "slow", safe: true, sleep: 30 * time.Millisecond, result: &models.ToolResult{Success: true, Content: "slow-done"}}
	fast := &fakeTool{name: "fast", safe: true, result: &models.ToolResult{Success: true, Content: "fast-done"}}
	_ = registry.Register(slow)
	_ = registry.Register(fast)

	gate := permission.New(nil, permission.DefaultConfig())
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	calls := []models.ToolCall{
		{ID: "c1", Name: "slow", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "fast", Arguments: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteAll(context.Background(), calls)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Fatalf("expected results in call order [c1, c2] even though c1 finishes later, got [%s, %s]",
			results[0].ToolCallID, results[1].ToolCallID)
	}
}

func TestExecuteAllRunsSequentiallyWhenAnyCallIsNotSafe(t *testing.T) {
	registry := NewRegistry()
	var order []string
	unsafe := &fakeTool{name: "unsafe", safe: false, result: &models.ToolResult{Success: true, Content: "ok"}}
	safe := &fakeTool{name: "safe", safe: true, result: &models.ToolResult{Success: true, Content: "ok"}}
	_ = registry.Register(unsafe)
	_ = registry.Register(safe)

	responder := func(ctx context.Context, req models.PermissionRequestData) models.PermissionDecision {
		order = append(order, "permission:"+req.ToolName)
		return models.DecisionAllowOnce
	}
	gate := permission.New(nil, permission.Config{Timeout: time.Second, Responder: responder, DestructiveTools: []string{"unsafe"}})
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	calls := []models.ToolCall{
		{ID: "c1", Name: "unsafe", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "safe", Arguments: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteAll(context.Background(), calls)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(order) != 1 || order[0] != "permission:unsafe" {
		t.Fatalf("expected exactly one permission prompt for the unsafe call, got %v", order)
	}
}

func TestExecuteAllDeniesDestructiveCallOnDeny(t *testing.T) {
	registry := NewRegistry()
	destructive := &fakeTool{name: "bash", safe: false, result: &models.ToolResult{Success: true, Content: "should not run"}}
	_ = registry.Register(destructive)

	responder := func(ctx context.Context, req models.PermissionRequestData) models.PermissionDecision {
		return models.DecisionDeny
	}
	gate := permission.New(nil, permission.Config{Timeout: time.Second, Responder: responder, DestructiveTools: []string{"bash"}})
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{{ID: "c1", Name: "bash", Arguments: json.RawMessage(`{}`)}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content != "Error: permission denied" {
		t.Fatalf("expected denied-permission error content, got %q", results[0].Content)
	}
}

func TestExecuteAllDedupesIdenticalToolResults(t *testing.T) {
	registry := NewRegistry()
	// Not safe-concurrent, so calls run strictly sequentially in order: c1's
	// result is guaranteed to be tracked before c2's, making the dedup
	// outcome deterministic.
	same := &fakeTool{name: "read", safe: false, result: &models.ToolResult{Success: true, Content: "identical body"}}
	_ = registry.Register(same)

	gate := permission.New(nil, permission.Config{Timeout: time.Second, Responder: func(context.Context, models.PermissionRequestData) models.PermissionDecision {
		return models.DecisionAllowOnce
	}})
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	calls := []models.ToolCall{
		{ID: "c1", Name: "read", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "read", Arguments: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteAll(context.Background(), calls)
	if results[0].Content != "identical body" {
		t.Fatalf("expected first occurrence to carry the full body, got %q", results[0].Content)
	}
	if results[1].Content != "[Duplicate result: see call id c1]" {
		t.Fatalf("expected duplicate pointer content, got %q", results[1].Content)
	}
}

func TestExecuteAllRecoversFromToolPanic(t *testing.T) {
	registry := NewRegistry()
	boom := &fakeTool{name: "boom", safe: true, panics: true}
	_ = registry.Register(boom)

	gate := permission.New(nil, permission.DefaultConfig())
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	results := exec.ExecuteAll(context.Background(), []models.ToolCall{{ID: "c1", Name: "boom", Arguments: json.RawMessage(`{}`)}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content != "Error: tool panicked" {
		t.Fatalf("expected panic recovered into an error message, got %q", results[0].Content)
	}
}

func TestExecuteAllRejectsOversizedArguments(t *testing.T) {
	registry := NewRegistry()
	tooBig := &fakeTool{name: "big", safe: true, result: &models.ToolResult{Success: true, Content: "should not run"}}
	_ = registry.Register(tooBig)

	gate := permission.New(nil, permission.DefaultConfig())
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)

	oversized := make(json.RawMessage, maxParamsBytes+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	results := exec.ExecuteAll(context.Background(), []models.ToolCall{{ID: "c1", Name: "big", Arguments: oversized}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content == "should not run" {
		t.Fatal("expected oversized arguments to be rejected before execution")
	}
}

func TestExecuteAllReturnsNilForEmptyCalls(t *testing.T) {
	registry := NewRegistry()
	gate := permission.New(nil, permission.DefaultConfig())
	ledger := tokens.New(8192, nil)
	stream := activity.New(nil)
	exec := NewExecutor(DefaultExecutorConfig(), registry, gate, ledger, stream)
	if got := exec.ExecuteAll(context.Background(), nil); got != nil {
		t.Fatalf("expected nil result for empty input, got %v", got)
	}
}
