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

// defaultBashTimeout bounds a command that does not specify timeout_seconds,
// independent of (and typically shorter than) the Orchestrator's own
// per-call execution timeout.
const defaultBashTimeout = 30 * time.Second

// BashTool runs a shell command inside the workspace directory. It is
// destructive and never safe-concurrent: every invocation is sequential and
// permission-gated (§4.2/§4.4), grounded on internal/tools/exec's ExecTool.
type BashTool struct {
	tool.BaseTool
	Workspace string
}

// NewBashTool constructs a BashTool rooted at workspace.
func NewBashTool(workspace string) *BashTool {
	return &BashTool{Workspace: workspace}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the workspace." }
func (t *BashTool) RequiresConfirmation() bool { return true }
func (t *BashTool) UsageGuidance() string {
	return "Use bash for shell commands (running tests, git, package managers). Prefer read/write for file contents over cat/echo."
}

func (t *BashTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 0, "description": "Timeout in seconds (0 uses the tool default)."},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return &models.ToolResult{Success: false, Error: "command is required", ErrorType: models.ErrValidation}, nil
	}

	timeout := defaultBashTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.Workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return &models.ToolResult{Success: false, Error: "command timed out", ErrorType: models.ErrTimeout}, nil
	}
	if err != nil {
		return &models.ToolResult{
			Success:   false,
			Error:     fmt.Sprintf("command failed: %v\nstderr:\n%s", err, stderr.String()),
			ErrorType: models.ErrCommandFailed,
		}, nil
	}

	return &models.ToolResult{Success: true, Content: stdout.String()}, nil
}
