// Package builtin provides the small set of concrete tools the reference CLI
// ships by default: a safe file reader, a gated file writer, a gated shell
// runner, and the safe grep, ls and web-fetch tools. They are grounded on internal/tools/files and
// internal/tools/exec, adapted to the tool.Tool contract (§6.1) and the
// safe/destructive split the Permission Gate enforces (§4.2/§4.4).
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// defaultMaxReadBytes caps a single read, mirroring the reference reader's
// 200000-byte default.
const defaultMaxReadBytes = 200_000

// ReadTool reads a file from within a workspace root. It is safe and
// concurrent: read-only tools never mutate state and are exempt from the
// permission gate (§4.2).
type ReadTool struct {
	tool.BaseTool
	Workspace    string
	MaxReadBytes int
}

// NewReadTool constructs a ReadTool rooted at workspace.
func NewReadTool(workspace string, maxReadBytes int) *ReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &ReadTool{Workspace: workspace, MaxReadBytes: maxReadBytes}
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file from the workspace with an optional offset and byte limit." }
func (t *ReadTool) IsSafeConcurrent() bool { return true }
func (t *ReadTool) UsageGuidance() string {
	return "Use read to inspect file contents before editing. Large files are truncated; pass offset to page through them."
}

func (t *ReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path to the file, relative to the workspace."},
			"offset":    map[string]any{"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
			"max_bytes": map[string]any{"type": "integer", "minimum": 0, "description": "Maximum bytes to read, capped by the tool's own limit."},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int64  `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), ErrorType: models.ErrValidation}, nil
	}

	resolved, err := resolveInWorkspace(t.Workspace, input.Path)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrSecurity}, nil
	}

	limit := int64(t.MaxReadBytes)
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	f, err := os.Open(resolved)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
	}
	defer f.Close()

	if input.Offset > 0 {
		if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
			return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
		}
	}

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorType: models.ErrFile}, nil
	}

	return &models.ToolResult{Success: true, Content: string(buf[:n])}, nil
}

// resolveInWorkspace resolves path relative to root and rejects any
// traversal outside of it, the same containment check the reference
// resolver performs before touching the filesystem.
func resolveInWorkspace(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	joined := filepath.Join(cleanRoot, path)
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return joined, nil
}
