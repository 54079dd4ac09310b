package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/tokens"
	"github.com/haasonsaas/agentrt/pkg/models"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Logger         *slog.Logger
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the package defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Logger: slog.Default(), DefaultTimeout: 30 * time.Second}
}

func sanitizeExecutorConfig(cfg ExecutorConfig) ExecutorConfig {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return cfg
}

// Executor is the Tool Orchestrator. Each Agent, and each sub-agent, builds
// its own Executor over its own ledger and stream; the registry and gate it
// wraps are shared with the parent agent (§5).
type Executor struct {
	cfg      ExecutorConfig
	registry *Registry
	gate     *permission.Gate
	ledger   *tokens.Ledger
	stream   *activity.Stream
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg ExecutorConfig, registry *Registry, gate *permission.Gate, ledger *tokens.Ledger, stream *activity.Stream) *Executor {
	return &Executor{cfg: sanitizeExecutorConfig(cfg), registry: registry, gate: gate, ledger: ledger, stream: stream}
}

// ExecuteAll runs calls to completion and returns one tool Message per call,
// in the order the calls were received (not the order they completed),
// preserving the tool_call_id correspondence invariant in §3/§8.
//
// Scheduling (§4.2): after batch unwrapping, if every call is declared safe
// (IsSafeConcurrent), all calls run concurrently; otherwise every call in
// this batch runs sequentially, in the order given, so modifying operations
// are totally ordered relative to reads.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*models.Message {
	calls = UnwrapBatchCalls(calls)
	if len(calls) == 0 {
		return nil
	}

	allSafe := true
	for _, c := range calls {
		t, ok := e.registry.Get(c.Name)
		if !ok || !t.IsSafeConcurrent() {
			allSafe = false
			break
		}
	}

	results := make([]*models.Message, len(calls))
	if allSafe {
		var wg sync.WaitGroup
		for i, c := range calls {
			wg.Add(1)
			go func(i int, c models.ToolCall) {
				defer wg.Done()
				results[i] = e.executeOne(ctx, c)
			}(i, c)
		}
		wg.Wait()
	} else {
		for i, c := range calls {
			results[i] = e.executeOne(ctx, c)
		}
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) *models.Message {
	start := time.Now()
	e.emitStart(call)

	t, ok := e.registry.Get(call.Name)
	if !ok {
		return e.finish(call, start, &models.ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("tool not found: %s", call.Name),
			ErrorType:  models.ErrValidation,
		})
	}

	if len(call.Arguments) > maxParamsBytes {
		return e.finish(call, start, &models.ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("arguments exceed the %d byte limit", maxParamsBytes),
			ErrorType:  models.ErrValidation,
		})
	}

	if err := validateArgs(t, call.Arguments); err != nil {
		return e.finish(call, start, &models.ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      err.Error(),
			ErrorType:  models.ErrValidation,
		})
	}

	if !t.IsSafeConcurrent() || t.RequiresConfirmation() {
		decision := e.gate.Request(ctx, call.Name, argsToMap(call.Arguments), "")
		if decision == models.DecisionDeny {
			return e.finish(call, start, &models.ToolResult{
				ToolCallID: call.ID,
				Success:    false,
				Error:      "permission denied",
				ErrorType:  models.ErrPermission,
				Suggestion: "ask the user to approve this action, or choose a non-destructive alternative",
			})
		}
	}

	result := e.runWithRecovery(ctx, t, call)
	result.ToolCallID = call.ID
	return e.finish(call, start, result)
}

func argsToMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func validateArgs(t Tool, raw json.RawMessage) error {
	schema := t.Schema()
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytesReader(b)); err != nil {
		return nil
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func (e *Executor) runWithRecovery(ctx context.Context, t Tool, call models.ToolCall) (result *models.ToolResult) {
	timeout := e.cfg.DefaultTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.cfg.Logger.Error("tool panicked", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
				result = &models.ToolResult{Success: false, Error: "tool panicked", ErrorType: models.ErrExecution}
			}
			close(done)
		}()
		res, err := t.Execute(execCtx, call.Arguments)
		if err != nil {
			result = &models.ToolResult{Success: false, Error: err.Error(), ErrorType: classifyExecError(err)}
			return
		}
		result = res
	}()

	select {
	case <-done:
		if result == nil {
			result = &models.ToolResult{Success: false, Error: "tool returned no result", ErrorType: models.ErrExecution}
		}
		return result
	case <-execCtx.Done():
		return &models.ToolResult{Success: false, Error: "tool execution timed out", ErrorType: models.ErrTimeout}
	}
}

func classifyExecError(err error) models.ErrorType {
	if err == nil {
		return models.ErrGeneral
	}
	return models.ErrExecution
}

func (e *Executor) finish(call models.ToolCall, start time.Time, result *models.ToolResult) *models.Message {
	body := formatResult(result)
	duration := time.Since(start)

	if !result.Ephemeral {
		toolName := call.Name
		if first, dup := e.ledger.TrackToolResult(call.ID, toolName, body); dup {
			body = fmt.Sprintf("[Duplicate result: see call id %s]", first)
		}
	}

	msg := &models.Message{
		Role:       models.RoleTool,
		Content:    body,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		CreatedAt:  time.Now(),
		Metadata:   models.Metadata{Ephemeral: result.Ephemeral},
	}

	e.emitEnd(call, result, duration)
	return msg
}

func formatResult(r *models.ToolResult) string {
	if r.Success {
		return r.Content
	}
	msg := r.Error
	if msg == "" {
		msg = "tool execution failed"
	}
	return fmt.Sprintf("Error: %s", msg)
}

func (e *Executor) emitStart(call models.ToolCall) {
	if e.stream == nil {
		return
	}
	e.stream.EmitScoped(models.Event{
		Type:     models.EventToolCallStart,
		ParentID: call.ID,
		Data: models.ToolCallStartData{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  argsToMap(call.Arguments),
		},
	})
}

func (e *Executor) emitEnd(call models.ToolCall, result *models.ToolResult, duration time.Duration) {
	if e.stream == nil {
		return
	}
	summary := result.Content
	if !result.Success {
		summary = result.Error
	}
	e.stream.EmitScoped(models.Event{
		Type:     models.EventToolCallEnd,
		ParentID: call.ID,
		Data: models.ToolCallEndData{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    result.Success,
			Summary:    summary,
			Duration:   duration,
		},
	})
}
