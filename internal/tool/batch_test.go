package tool

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestUnwrapBatchCallsPreservesOrderAndDerivesIDs(t *testing.T) {
	batchArgsJSON, _ := json.Marshal(map[string]any{
		"tools": []map[string]any{
			{"name": "read", "arguments": map[string]any{"path": "a.txt"}},
			{"name": "grep", "arguments": map[string]any{"pattern": "foo"}},
		},
	})
	calls := []models.ToolCall{
		{ID: "call-1", Name: "ls", Arguments: json.RawMessage(`{}`)},
		{ID: "call-2", Name: BatchToolName, Arguments: batchArgsJSON},
		{ID: "call-3", Name: "write", Arguments: json.RawMessage(`{}`)},
	}

	out := UnwrapBatchCalls(calls)
	if len(out) != 4 {
		t.Fatalf("expected 4 calls after unwrapping (1 + 2 + 1), got %d", len(out))
	}
	if out[0].ID != "call-1" {
		t.Fatalf("expected the leading non-batch call to retain its position, got %+v", out[0])
	}
	if out[1].ID != "call-2-unwrapped-0" || out[1].Name != "read" {
		t.Fatalf("expected first unwrapped child with derived id, got %+v", out[1])
	}
	if out[2].ID != "call-2-unwrapped-1" || out[2].Name != "grep" {
		t.Fatalf("expected second unwrapped child with derived id, got %+v", out[2])
	}
	if out[3].ID != "call-3" {
		t.Fatalf("expected the trailing non-batch call to retain its position, got %+v", out[3])
	}
}

func TestUnwrapBatchCallsLeavesNonBatchCallsUntouched(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "a", Name: "read"},
		{ID: "b", Name: "write"},
	}
	out := UnwrapBatchCalls(calls)
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("expected calls unchanged when no batch call is present, got %+v", out)
	}
}

func TestUnwrapBatchCallsSurfacesMalformedBatchAsIs(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "bad-batch", Name: BatchToolName, Arguments: json.RawMessage(`not json`)},
	}
	out := UnwrapBatchCalls(calls)
	if len(out) != 1 || out[0].ID != "bad-batch" {
		t.Fatalf("expected malformed batch call passed through unchanged, got %+v", out)
	}
}
