// Package shell provides the run_shell tool: arbitrary command execution,
// registered red. A small blocklist refuses the catastrophic classics even
// after an operator approves the call.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

// blockedCommands are refused outright, approval or not.
var blockedCommands = []string{
	"rm -rf /",
	"rm -rf ~",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	"chmod 777",
	":(){",
}

// Register adds run_shell to the registry. The registry must permit
// dangerous tools since the declared command splices caller input into a
// shell line.
func Register(r *tools.Registry) error {
	return r.Register(tools.Registration{
		Tool:           &RunTool{},
		Risk:           models.RiskRed,
		Commands:       []string{"sh -c {command}"},
		ApprovalPrompt: "I want to execute a shell command. Review carefully?",
	})
}

// RunTool executes a shell command and reports exit code, stdout, and
// stderr.
type RunTool struct{}

func (t *RunTool) Name() string {
	return "run_shell"
}

func (t *RunTool) Description() string {
	return "Execute a shell command and return its exit code and output."
}

func (t *RunTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"command": map[string]interface{}{
			"type":        "string",
			"description": "Shell command to execute.",
		},
		"cwd": map[string]interface{}{
			"type":        "string",
			"description": "Working directory (default: current).",
		},
	}, "command")
}

func (t *RunTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return tools.Errorf("command is required"), nil
	}

	lower := strings.ToLower(command)
	for _, blocked := range blockedCommands {
		if strings.Contains(lower, blocked) {
			return tools.Errorf("blocked dangerous command: %s", blocked), nil
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if input.Cwd != "" {
		cmd.Dir = input.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return tools.Errorf("failed to execute command: %v", runErr), nil
		}
	}

	outcome := tools.JSON(map[string]interface{}{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	})
	if exitCode != 0 {
		outcome.Status = "error"
		outcome.Error = "command exited with code " + strconv.Itoa(exitCode)
	}
	outcome.Metadata = map[string]string{"exit_code": strconv.Itoa(exitCode)}
	return outcome, nil
}
