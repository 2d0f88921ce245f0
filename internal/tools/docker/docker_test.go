package docker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

func TestRegisterRiskTable(t *testing.T) {
	registry := tools.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name       string
		risk       models.RiskLevel
		contexts   int
		wantPrompt bool
	}{
		{"docker_ps", models.RiskGreen, 0, false},
		{"docker_logs", models.RiskGreen, 0, false},
		{"docker_inspect", models.RiskGreen, 0, false},
		{"docker_exec", models.RiskYellow, 2, true},
		{"docker_restart", models.RiskRed, 0, true},
		{"docker_compose_up", models.RiskRed, 0, true},
	}
	for _, tt := range tests {
		entry, ok := registry.Lookup(tt.name)
		if !ok {
			t.Fatalf("tool %s not registered", tt.name)
		}
		if entry.Risk() != tt.risk {
			t.Errorf("%s risk=%s want %s", tt.name, entry.Risk(), tt.risk)
		}
		if len(entry.AllowedContexts()) != tt.contexts {
			t.Errorf("%s contexts=%v want %d entries", tt.name, entry.AllowedContexts(), tt.contexts)
		}
		if tt.wantPrompt && entry.ApprovalPrompt() == "" {
			t.Errorf("%s missing approval prompt", tt.name)
		}
	}
}

func TestRequiredArgsValidatedBeforeExec(t *testing.T) {
	// Missing required fields must fail fast without reaching the docker
	// CLI, so these cases run fine on hosts without docker installed.
	tests := []struct {
		name string
		tool tools.Tool
		args string
	}{
		{"logs", &LogsTool{}, `{}`},
		{"logs blank", &LogsTool{}, `{"container":"  "}`},
		{"inspect", &InspectTool{}, `{}`},
		{"exec no command", &ExecTool{}, `{"container":"web"}`},
		{"exec no container", &ExecTool{}, `{"command":"ls"}`},
		{"restart", &RestartTool{}, `{}`},
		{"compose up", &ComposeUpTool{}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.tool.Execute(context.Background(), json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.OK() {
				t.Error("missing args reported success")
			}
		})
	}
}

func TestMalformedArgs(t *testing.T) {
	all := []tools.Tool{&PsTool{}, &LogsTool{}, &InspectTool{}, &ExecTool{}, &RestartTool{}, &ComposeUpTool{}}
	for _, tool := range all {
		res, err := tool.Execute(context.Background(), json.RawMessage(`{"container":`))
		if err != nil {
			t.Fatalf("%s Execute: %v", tool.Name(), err)
		}
		if res.OK() {
			t.Errorf("%s accepted malformed JSON", tool.Name())
		}
	}
}

func TestSchemasCompile(t *testing.T) {
	registry := tools.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	entry, _ := registry.Lookup("docker_logs")
	if err := entry.ValidateArgs(json.RawMessage(`{"container":"web","tail":50}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := entry.ValidateArgs(json.RawMessage(`{"tail":50}`)); err == nil {
		t.Error("missing container accepted by schema")
	}
	if err := entry.ValidateArgs(json.RawMessage(`{"container":"web","tail":"fifty"}`)); err == nil {
		t.Error("string tail accepted by schema")
	}
}
