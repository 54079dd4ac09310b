package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const defaultGrepTimeout = 15 * time.Second

// GrepTool searches file contents inside the workspace using the system
// grep binary, grounded on internal/tools/exec's shell-out convention but
// restricted to a read-only search so it can be marked safe-concurrent
// (§4.4 lists "grep" among the default safe tools).
type GrepTool struct {
	tool.BaseTool
	Workspace string
}

// NewGrepTool constructs a GrepTool rooted at workspace.
func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{Workspace: workspace}
}

func (t *GrepTool) Name() string           { return "grep" }
func (t *GrepTool) Description() string    { return "Search file contents in the workspace for a pattern." }
func (t *GrepTool) IsSafeConcurrent() bool  { return true }
func (t *GrepTool) UsageGuidance() string {
	return "Use grep to locate lines matching a pattern across the workspace before reading whole files."
}

func (t *GrepTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Regular expression to search for."},
			"path":    map[string]any{"type": "string", "description": "Directory or file to search, relative to the workspace (default: workspace root)."},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return &models.ToolResult{Success: false, Error: "pattern is required", ErrorType: models.ErrValidation}, nil
	}

	searchPath := input.Path
	if searchPath == "" {
		searchPath = "."
	}
	resolved, err := resolveInWorkspace(t.Workspace, searchPath)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrSecurity}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultGrepTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "grep", "-rn", "--", input.Pattern, resolved)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() != nil {
		return &models.ToolResult{Success: false, Error: "grep timed out", ErrorType: models.ErrTimeout}, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return &models.ToolResult{Success: true, Content: "no matches"}, nil
	}
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("grep failed: %v\n%s", err, stderr.String()), ErrorType: models.ErrCommandFailed}, nil
	}

	return &models.ToolResult{Success: true, Content: stdout.String()}, nil
}
