package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// ListTool lists the immediate contents of a workspace directory. Read-only
// and safe-concurrent, grounded on the same workspace-containment model as
// ReadTool.
type ListTool struct {
	tool.BaseTool
	Workspace string
}

// NewListTool constructs a ListTool rooted at workspace.
func NewListTool(workspace string) *ListTool {
	return &ListTool{Workspace: workspace}
}

func (t *ListTool) Name() string          { return "ls" }
func (t *ListTool) Description() string   { return "List the contents of a directory in the workspace." }
func (t *ListTool) IsSafeConcurrent() bool { return true }
func (t *ListTool) UsageGuidance() string {
	return "Use ls to see what's in a directory before deciding which files to read."
}

func (t *ListTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list, relative to the workspace (default: workspace root)."},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
		}
	}

	dir := input.Path
	if dir == "" {
		dir = "."
	}
	resolved, err := resolveInWorkspace(t.Workspace, dir)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrSecurity}, nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return &models.ToolResult{Success: true, Content: strings.Join(names, "\n")}, nil
}
