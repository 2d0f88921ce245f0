// Package docker provides container tools backed by the docker CLI. The
// listing and log tools are green, in-container exec is yellow and limited
// to non-production contexts, restart and compose-up are red.
package docker

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

// Register adds the docker tools to the registry with the default risk
// table.
func Register(r *tools.Registry) error {
	regs := []tools.Registration{
		{
			Tool:     &PsTool{},
			Risk:     models.RiskGreen,
			Commands: []string{"docker ps"},
		},
		{
			Tool:     &LogsTool{},
			Risk:     models.RiskGreen,
			Commands: []string{"docker logs"},
		},
		{
			Tool:     &InspectTool{},
			Risk:     models.RiskGreen,
			Commands: []string{"docker inspect"},
		},
		{
			Tool:            &ExecTool{},
			Risk:            models.RiskYellow,
			Commands:        []string{"docker exec"},
			AllowedContexts: []models.Environment{models.EnvDev, models.EnvStaging},
			ApprovalPrompt:  "I want to run a command in a container. Review?",
		},
		{
			Tool:           &RestartTool{},
			Risk:           models.RiskRed,
			Commands:       []string{"docker restart"},
			ApprovalPrompt: "CRITICAL: I want to restart a container. This may cause downtime. Approve?",
		},
		{
			Tool:           &ComposeUpTool{},
			Risk:           models.RiskRed,
			Commands:       []string{"docker compose up"},
			ApprovalPrompt: "CRITICAL: I want to start/update Docker services. This affects infrastructure. Approve?",
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// runDocker invokes the docker CLI with an argv vector; caller input never
// passes through a shell.
func runDocker(ctx context.Context, args ...string) *models.ToolOutcome {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return tools.Errorf("failed to run docker: %v", runErr)
		}
	}

	var outcome *models.ToolOutcome
	if exitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "docker exited with code " + strconv.Itoa(exitCode)
		}
		outcome = tools.Errorf("%s", msg)
	} else {
		out := stdout.String()
		if out == "" {
			out = strings.TrimSpace(stderr.String())
		}
		outcome = tools.Success(out)
	}
	outcome.Metadata = map[string]string{"exit_code": strconv.Itoa(exitCode)}
	return outcome
}

// PsTool lists containers.
type PsTool struct{}

func (t *PsTool) Name() string        { return "docker_ps" }
func (t *PsTool) Description() string { return "List containers." }

func (t *PsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"all": map[string]interface{}{
			"type":        "boolean",
			"description": "Include stopped containers (default: false).",
		},
	})
}

func (t *PsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		All bool `json:"all"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return tools.Errorf("invalid parameters: %v", err), nil
		}
	}
	cmdArgs := []string{"ps", "--format", "{{json .}}"}
	if input.All {
		cmdArgs = append(cmdArgs, "--all")
	}
	return runDocker(ctx, cmdArgs...), nil
}

// LogsTool reads container logs.
type LogsTool struct{}

func (t *LogsTool) Name() string        { return "docker_logs" }
func (t *LogsTool) Description() string { return "Read container logs." }

func (t *LogsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"container": map[string]interface{}{
			"type":        "string",
			"description": "Container name or id.",
		},
		"tail": map[string]interface{}{
			"type":        "integer",
			"description": "Number of trailing lines (default: 100).",
		},
	}, "container")
}

func (t *LogsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		Container string `json:"container"`
		Tail      int    `json:"tail"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Container) == "" {
		return tools.Errorf("container is required"), nil
	}
	if input.Tail <= 0 {
		input.Tail = 100
	}
	return runDocker(ctx, "logs", "--tail", strconv.Itoa(input.Tail), input.Container), nil
}

// InspectTool inspects a container.
type InspectTool struct{}

func (t *InspectTool) Name() string        { return "docker_inspect" }
func (t *InspectTool) Description() string { return "Inspect a container." }

func (t *InspectTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"container": map[string]interface{}{
			"type":        "string",
			"description": "Container name or id.",
		},
	}, "container")
}

func (t *InspectTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		Container string `json:"container"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Container) == "" {
		return tools.Errorf("container is required"), nil
	}
	return runDocker(ctx, "inspect", input.Container), nil
}

// ExecTool runs a command inside a container.
type ExecTool struct{}

func (t *ExecTool) Name() string        { return "docker_exec" }
func (t *ExecTool) Description() string { return "Execute a command in a container." }

func (t *ExecTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"container": map[string]interface{}{
			"type":        "string",
			"description": "Container name or id.",
		},
		"command": map[string]interface{}{
			"type":        "string",
			"description": "Command to run inside the container.",
		},
	}, "container", "command")
}

func (t *ExecTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		Container string `json:"container"`
		Command   string `json:"command"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Container) == "" || strings.TrimSpace(input.Command) == "" {
		return tools.Errorf("container and command are required"), nil
	}
	return runDocker(ctx, "exec", input.Container, "sh", "-c", input.Command), nil
}

// RestartTool restarts a container.
type RestartTool struct{}

func (t *RestartTool) Name() string        { return "docker_restart" }
func (t *RestartTool) Description() string { return "Restart a container." }

func (t *RestartTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"container": map[string]interface{}{
			"type":        "string",
			"description": "Container name or id.",
		},
	}, "container")
}

func (t *RestartTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		Container string `json:"container"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Container) == "" {
		return tools.Errorf("container is required"), nil
	}
	return runDocker(ctx, "restart", input.Container), nil
}

// ComposeUpTool starts or updates compose services.
type ComposeUpTool struct{}

func (t *ComposeUpTool) Name() string        { return "docker_compose_up" }
func (t *ComposeUpTool) Description() string { return "Start or update Docker Compose services." }

func (t *ComposeUpTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"project_dir": map[string]interface{}{
			"type":        "string",
			"description": "Directory containing the compose file.",
		},
		"services": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Services to start (default: all).",
		},
	}, "project_dir")
}

func (t *ComposeUpTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	var input struct {
		ProjectDir string   `json:"project_dir"`
		Services   []string `json:"services"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.ProjectDir) == "" {
		return tools.Errorf("project_dir is required"), nil
	}
	cmdArgs := []string{"compose", "--project-directory", input.ProjectDir, "up", "--detach"}
	cmdArgs = append(cmdArgs, input.Services...)
	return runDocker(ctx, cmdArgs...), nil
}
