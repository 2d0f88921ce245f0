package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in an agent run's conversation. For RoleTool
// messages, Content is always the sanitized form of the raw tool output.
type Message struct {
	Role Role `json:"role"`

	Content string `json:"content,omitempty"`

	// ToolName and ArgsDigest are set on RoleTool messages.
	ToolName   string `json:"tool_name,omitempty"`
	ArgsDigest string `json:"args_digest,omitempty"`

	// IsError marks a tool result that reports failure (tool errors,
	// validation errors, governance rejections, timeouts).
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a parsed request from the assistant to invoke a tool.
type ToolCall struct {
	Name string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ArgsDigest returns a short stable digest of the call's arguments, used
// for loop detection and tool-result provenance.
func (c ToolCall) ArgsDigest() string {
	h := sha256.Sum256(append([]byte(c.Name+"\x00"), c.Args...))
	return hex.EncodeToString(h[:6])
}

// ToolOutcome is the normalized result of dispatching a tool.
type ToolOutcome struct {
	Status   string            `json:"status"` // "success" or "error"
	Data     string            `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OK reports whether the tool ran and succeeded.
func (o *ToolOutcome) OK() bool {
	return o != nil && o.Status == "success"
}

// InvocationRequest is a validated tool call bound to its caller. Governance
// decisions are a pure function of this value plus the rule table.
type InvocationRequest struct {
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args,omitempty"`
	Agent       string          `json:"agent"`
	TaskID      string          `json:"task_id"`
	Environment Environment     `json:"environment"`
}

// Digest returns the args digest of the underlying call.
func (r InvocationRequest) Digest() string {
	return ToolCall{Name: r.Tool, Args: r.Args}.ArgsDigest()
}
