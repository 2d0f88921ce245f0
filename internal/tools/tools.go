// Package tools defines the tool contract and the process-wide registry.
// Registration runs every candidate through validation gates (schema
// compilation, declared-command scanning, risk defaulting) before it becomes
// callable; dispatch runs a registered tool under a deadline and normalizes
// whatever it returns into a ToolOutcome.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardenhq/warden/pkg/models"
)

// Tool is the interface implemented by every callable tool.
type Tool interface {
	// Name returns the unique tool name.
	Name() string
	// Description returns a one-line human description.
	Description() string
	// Schema returns the JSON schema for the tool arguments.
	Schema() json.RawMessage
	// Execute runs the tool. Operational failures are reported inside the
	// outcome; a non-nil error means the tool itself misbehaved.
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error)
}

// Registration carries a tool plus the governance metadata the registry and
// the governance layer need. Zero-value fields use registry defaults.
type Registration struct {
	Tool Tool

	// Risk is the traffic-light tag. Empty means infer: declared commands
	// decide, then Mutating, then green.
	Risk models.RiskLevel

	// Mutating marks tools that write local state without shelling out,
	// bumping the inferred risk to yellow.
	Mutating bool

	// Identity names the auth broker identity the tool needs, if any.
	Identity string

	// AllowedContexts narrows where the tool may run at all. Nil means
	// unrestricted.
	AllowedContexts []models.Environment

	// Commands lists the command lines the tool shells out to. Templates
	// that splice caller input into a shell must be explicitly red and the
	// registry must permit dangerous tools.
	Commands []string

	// ApprovalPrompt is the human-readable question shown when an
	// invocation parks for approval.
	ApprovalPrompt string
}

// Success returns a successful outcome carrying data.
func Success(data string) *models.ToolOutcome {
	return &models.ToolOutcome{Status: "success", Data: data}
}

// Errorf returns a failed outcome with a formatted message.
func Errorf(format string, args ...any) *models.ToolOutcome {
	return &models.ToolOutcome{Status: "error", Error: fmt.Sprintf(format, args...)}
}

// JSON returns a successful outcome whose data is v rendered as indented
// JSON.
func JSON(v any) *models.ToolOutcome {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Errorf("encode result: %v", err)
	}
	return Success(string(payload))
}

// ObjectSchema marshals a property map into a JSON schema of type object.
func ObjectSchema(properties map[string]interface{}, required ...string) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
