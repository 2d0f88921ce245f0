package governance

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/approvals"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

type fakeTool struct {
	name string
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	return &models.ToolOutcome{Status: "success", Data: "ok"}, nil
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(tools.WithDangerousTools())
	regs := []tools.Registration{
		{Tool: &fakeTool{name: "read_state"}, Risk: models.RiskGreen},
		{Tool: &fakeTool{name: "write_file"}, Risk: models.RiskYellow,
			ApprovalPrompt: "I want to create/modify a file. Review the change plan?"},
		{Tool: &fakeTool{name: "container_exec"}, Risk: models.RiskYellow,
			AllowedContexts: []models.Environment{models.EnvDev, models.EnvStaging}},
		{Tool: &fakeTool{name: "restart_service"}, Risk: models.RiskRed,
			ApprovalPrompt: "CRITICAL: restart?"},
		{Tool: &fakeTool{name: "run_shell"}, Risk: models.RiskRed,
			Commands: []string{"sh -c {command}"}},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			t.Fatalf("Register %s: %v", reg.Tool.Name(), err)
		}
	}
	return r
}

func testEngine(t *testing.T, opts ...Option) (*Engine, *approvals.Store) {
	t.Helper()
	store := approvals.Open(filepath.Join(t.TempDir(), "approvals.json"))
	return NewEngine(testRegistry(t), store, opts...), store
}

func request(tool string, env models.Environment, args string) models.InvocationRequest {
	return models.InvocationRequest{
		Tool:        tool,
		Args:        json.RawMessage(args),
		Agent:       "docker",
		TaskID:      "task-1",
		Environment: env,
	}
}

func TestGreenExecutesEverywhere(t *testing.T) {
	engine, _ := testEngine(t)
	for _, env := range []models.Environment{models.EnvDev, models.EnvStaging, models.EnvLocal, models.EnvProduction} {
		d := engine.Decide(request("read_state", env, `{}`))
		if d.Action != ActionExecute {
			t.Errorf("green in %s: action=%s want execute", env, d.Action)
		}
		if !d.Proceed() {
			t.Errorf("green in %s: Proceed()=false", env)
		}
	}
}

func TestYellowAutoApprovesOutsideProduction(t *testing.T) {
	engine, store := testEngine(t)
	for _, env := range []models.Environment{models.EnvDev, models.EnvStaging, models.EnvLocal} {
		d := engine.Decide(request("write_file", env, `{"path":"a.txt","content":"x"}`))
		if d.Action != ActionAutoApprove {
			t.Errorf("yellow in %s: action=%s want auto_approve", env, d.Action)
		}
		if d.Reason != "non-prod yellow" {
			t.Errorf("yellow in %s: reason=%q", env, d.Reason)
		}
	}
	pending, err := store.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("auto-approve persisted %d approvals", len(pending))
	}
}

func TestYellowParksInProduction(t *testing.T) {
	engine, store := testEngine(t)
	d := engine.Decide(request("write_file", models.EnvProduction, `{"path":"a.txt","content":"x"}`))
	if d.Action != ActionRequireApproval {
		t.Fatalf("action=%s want require_approval", d.Action)
	}
	if d.ApprovalID == "" {
		t.Fatal("no approval id")
	}
	if d.Prompt == "" {
		t.Error("no operator prompt")
	}

	approval, err := store.Get(d.ApprovalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if approval.Verdict != approvals.VerdictPending {
		t.Errorf("verdict=%s want pending", approval.Verdict)
	}
	if approval.Tool != "write_file" {
		t.Errorf("tool=%s", approval.Tool)
	}
	if !strings.Contains(approval.Summary, "write_file") {
		t.Errorf("summary missing tool name: %q", approval.Summary)
	}
	if !strings.Contains(approval.Summary, "Review the change plan?") {
		t.Errorf("summary missing prompt: %q", approval.Summary)
	}
}

func TestYellowUnknownEnvironmentFailsClosed(t *testing.T) {
	engine, _ := testEngine(t)
	d := engine.Decide(request("write_file", models.Environment("qa"), `{}`))
	if d.Action != ActionRequireApproval {
		t.Errorf("unrecognized environment: action=%s want require_approval", d.Action)
	}
}

func TestRedAlwaysRequiresApproval(t *testing.T) {
	engine, _ := testEngine(t)
	for _, env := range []models.Environment{models.EnvDev, models.EnvStaging, models.EnvLocal, models.EnvProduction} {
		d := engine.Decide(request("restart_service", env, `{}`))
		if d.Action != ActionRequireApproval {
			t.Errorf("red in %s: action=%s want require_approval", env, d.Action)
		}
		if d.Proceed() {
			t.Errorf("red in %s: Proceed()=true", env)
		}
	}
}

func TestAllowedContextsDeny(t *testing.T) {
	engine, _ := testEngine(t)

	tests := []struct {
		env  models.Environment
		want Action
	}{
		{models.EnvDev, ActionAutoApprove},
		{models.EnvStaging, ActionAutoApprove},
		{models.EnvLocal, ActionDeny},
		{models.EnvProduction, ActionDeny},
	}
	for _, tt := range tests {
		d := engine.Decide(request("container_exec", tt.env, `{}`))
		if d.Action != tt.want {
			t.Errorf("container_exec in %s: action=%s want %s", tt.env, d.Action, tt.want)
		}
		if tt.want == ActionDeny && d.Reason != "context not permitted" {
			t.Errorf("container_exec in %s: reason=%q", tt.env, d.Reason)
		}
	}
}

func TestShellReadOnlyDowngrade(t *testing.T) {
	engine, _ := testEngine(t)
	d := engine.Decide(request("run_shell", models.EnvProduction, `{"command":"docker ps -a"}`))
	if d.Action != ActionExecute {
		t.Fatalf("action=%s want execute", d.Action)
	}
	if d.Risk != models.RiskGreen {
		t.Errorf("risk=%s want green", d.Risk)
	}
	if d.Reason != "read-only command" {
		t.Errorf("reason=%q", d.Reason)
	}
}

func TestShellDestructivePinsRed(t *testing.T) {
	engine, _ := testEngine(t)
	for _, env := range []models.Environment{models.EnvDev, models.EnvProduction} {
		d := engine.Decide(request("run_shell", env, `{"command":"rm -rf /var/lib/app"}`))
		if d.Action != ActionRequireApproval {
			t.Errorf("destructive shell in %s: action=%s want require_approval", env, d.Action)
		}
		if d.Risk != models.RiskRed {
			t.Errorf("destructive shell in %s: risk=%s want red", env, d.Risk)
		}
	}
}

func TestShellOpaqueKeepsRegisteredRed(t *testing.T) {
	engine, _ := testEngine(t)
	d := engine.Decide(request("run_shell", models.EnvDev, `{"command":"terraform plan"}`))
	if d.Action != ActionRequireApproval {
		t.Fatalf("action=%s want require_approval", d.Action)
	}
	if d.Risk != models.RiskRed {
		t.Errorf("risk=%s want red", d.Risk)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	engine, _ := testEngine(t)
	d := engine.Decide(request("teleport", models.EnvDev, `{}`))
	if d.Action != ActionDeny {
		t.Fatalf("action=%s want deny", d.Action)
	}
	if d.Reason != "unknown tool" {
		t.Errorf("reason=%q", d.Reason)
	}
}

func TestDryRunDeniesAndPersistsNothing(t *testing.T) {
	engine, store := testEngine(t, WithDryRun())

	d := engine.Decide(request("write_file", models.EnvProduction, `{"path":"a.txt"}`))
	if d.Action != ActionDeny {
		t.Fatalf("action=%s want deny", d.Action)
	}
	if !strings.Contains(d.Reason, "dry run") {
		t.Errorf("reason=%q want dry run marker", d.Reason)
	}

	d = engine.Decide(request("restart_service", models.EnvDev, `{}`))
	if d.Action != ActionDeny {
		t.Errorf("red in dry run: action=%s want deny", d.Action)
	}

	// Green and non-prod yellow are unaffected.
	if d := engine.Decide(request("read_state", models.EnvProduction, `{}`)); d.Action != ActionExecute {
		t.Errorf("green in dry run: action=%s want execute", d.Action)
	}
	if d := engine.Decide(request("write_file", models.EnvDev, `{}`)); d.Action != ActionAutoApprove {
		t.Errorf("non-prod yellow in dry run: action=%s want auto_approve", d.Action)
	}

	pending, err := store.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("dry run persisted %d approvals", len(pending))
	}
}

func TestMissingStoreFailsClosed(t *testing.T) {
	engine := NewEngine(testRegistry(t), nil)
	d := engine.Decide(request("restart_service", models.EnvProduction, `{}`))
	if d.Action != ActionRequireApproval {
		t.Fatalf("action=%s want require_approval", d.Action)
	}
	if d.Reason != ReasonUnavailable {
		t.Errorf("reason=%q want %q", d.Reason, ReasonUnavailable)
	}
	if d.ApprovalID != "" {
		t.Errorf("approval id=%q want empty", d.ApprovalID)
	}
}

func TestApprovalSummarySanitized(t *testing.T) {
	engine, store := testEngine(t)
	d := engine.Decide(request("write_file", models.EnvProduction,
		`{"path":".env","content":"password=hunter2secret"}`))
	if d.Action != ActionRequireApproval {
		t.Fatalf("action=%s want require_approval", d.Action)
	}

	approval, err := store.Get(d.ApprovalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(approval.Summary, "hunter2secret") {
		t.Errorf("summary leaked secret: %q", approval.Summary)
	}
	if !strings.Contains(approval.Summary, "[PASSWORD_REDACTED]") {
		t.Errorf("summary not sanitized: %q", approval.Summary)
	}
}
