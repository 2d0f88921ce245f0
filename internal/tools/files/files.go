// Package files provides workspace-scoped file tools. Writing is a yellow
// operation; reading is green. Both resolve paths under a single workspace
// root and refuse traversal outside it.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

// Config locates the workspace all file tools operate in.
type Config struct {
	Workspace string
}

// Register adds the file tools to the registry with their default risk
// tags: read_file green, write_file yellow.
func Register(r *tools.Registry, cfg Config) error {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	res := resolver{root: cfg.Workspace}

	if err := r.Register(tools.Registration{
		Tool: &ReadTool{resolver: res},
		Risk: models.RiskGreen,
	}); err != nil {
		return err
	}
	return r.Register(tools.Registration{
		Tool:           &WriteTool{resolver: res},
		Risk:           models.RiskYellow,
		Mutating:       true,
		ApprovalPrompt: "I want to create/modify a file. Review the change plan?",
	})
}

// resolver keeps every path inside the workspace root.
type resolver struct {
	root string
}

func (r resolver) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	joined := filepath.Join(r.root, path)
	rel, err := filepath.Rel(r.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return joined, nil
}

// WriteTool writes files within the workspace.
type WriteTool struct {
	resolver resolver
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: resolver{root: cfg.Workspace}}
}

func (t *WriteTool) Name() string {
	return "write_file"
}

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, creating directories as needed (overwrites by default)."
}

func (t *WriteTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Path to write (relative to workspace).",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "File contents to write.",
		},
		"append": map[string]interface{}{
			"type":        "boolean",
			"description": "Append instead of overwrite (default: false).",
		},
	}, "path", "content")
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	_ = ctx
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return tools.Errorf("create directory: %v", err), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return tools.Errorf("open file: %v", err), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return tools.Errorf("write file: %v", err), nil
	}

	return tools.JSON(map[string]interface{}{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	}), nil
}

// ReadTool reads files within the workspace.
type ReadTool struct {
	resolver resolver
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	return &ReadTool{resolver: resolver{root: cfg.Workspace}}
}

func (t *ReadTool) Name() string {
	return "read_file"
}

func (t *ReadTool) Description() string {
	return "Read a file from the workspace."
}

func (t *ReadTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Path to read (relative to workspace).",
		},
	}, "path")
}

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	_ = ctx
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.Errorf("read file: %v", err), nil
	}
	return tools.Success(string(data)), nil
}
