package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// WriteTool writes a file inside the workspace. It is destructive: every
// call goes through the Permission Gate (§4.2/§4.4), so IsSafeConcurrent is
// left at BaseTool's false default.
type WriteTool struct {
	tool.BaseTool
	Workspace string
}

// NewWriteTool constructs a WriteTool rooted at workspace.
func NewWriteTool(workspace string) *WriteTool {
	return &WriteTool{Workspace: workspace}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write (create or overwrite) a file in the workspace." }
func (t *WriteTool) RequiresConfirmation() bool { return true }
func (t *WriteTool) UsageGuidance() string {
	return "Use write to create or replace a file's full contents."
}

func (t *WriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to the file, relative to the workspace."},
			"content": map[string]any{"type": "string", "description": "Full file contents to write."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}

	resolved, err := resolveInWorkspace(t.Workspace, input.Path)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrSecurity}, nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
	}
	if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
	}

	return &models.ToolResult{Success: true, Content: fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path)}, nil
}
