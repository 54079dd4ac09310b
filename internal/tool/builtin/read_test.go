package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestReadToolReadsWithinWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello workspace"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt := NewReadTool(dir, 0)
	args, _ := json.Marshal(map[string]any{"path": "note.txt"})
	result, err := rt.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Content != "hello workspace" {
		t.Fatalf("expected success with file content, got %+v", result)
	}
}

func TestReadToolRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	rt := NewReadTool(dir, 0)
	args, _ := json.Marshal(map[string]any{"path": "../../etc/passwd"})
	result, err := rt.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected path traversal to be rejected")
	}
	if result.ErrorType != models.ErrSecurity {
		t.Fatalf("expected ErrSecurity, got %v", result.ErrorType)
	}
}

func TestReadToolIsSafeConcurrent(t *testing.T) {
	rt := NewReadTool(t.TempDir(), 0)
	if !rt.IsSafeConcurrent() {
		t.Fatal("expected read tool to be safe-concurrent")
	}
}
