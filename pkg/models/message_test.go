package models

import (
	"encoding/json"
	"testing"
)

func TestToolCallArgsDigest(t *testing.T) {
	call := ToolCall{Name: "docker_restart", Args: json.RawMessage(`{"container":"api"}`)}

	got := call.ArgsDigest()
	if len(got) != 12 {
		t.Fatalf("digest length = %d, want 12", len(got))
	}
	if got != call.ArgsDigest() {
		t.Error("digest is not deterministic")
	}

	otherArgs := ToolCall{Name: "docker_restart", Args: json.RawMessage(`{"container":"db"}`)}
	if otherArgs.ArgsDigest() == got {
		t.Error("different args produced the same digest")
	}
	otherTool := ToolCall{Name: "docker_logs", Args: call.Args}
	if otherTool.ArgsDigest() == got {
		t.Error("different tools produced the same digest")
	}
}

func TestInvocationRequestDigestMatchesCall(t *testing.T) {
	args := json.RawMessage(`{"path":"docker-compose.yml"}`)
	call := ToolCall{Name: "write_file", Args: args}
	req := InvocationRequest{Tool: "write_file", Args: args, Agent: "config", TaskID: "t-1"}

	if call.ArgsDigest() != req.Digest() {
		t.Error("request digest differs from the underlying call digest")
	}
}

func TestToolOutcomeOK(t *testing.T) {
	tests := []struct {
		name    string
		outcome *ToolOutcome
		want    bool
	}{
		{"success", &ToolOutcome{Status: "success", Data: "ok"}, true},
		{"error", &ToolOutcome{Status: "error", Error: "no such container"}, false},
		{"empty status", &ToolOutcome{}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.OK(); got != tt.want {
				t.Errorf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}
