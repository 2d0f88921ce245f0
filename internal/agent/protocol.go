package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

// parseToolCall extracts a trailing {"tool": ..., "args": ...} object from
// the assistant text. The object must be the last thing in the message
// (optionally inside a closing code fence); JSON mentioned mid-prose does
// not trigger a call. Unknown keys reject the candidate so prose that
// merely looks like JSON is not dispatched.
func parseToolCall(content string) (models.ToolCall, bool) {
	text := strings.TrimSpace(content)
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}
	if !strings.HasSuffix(text, "}") {
		return models.ToolCall{}, false
	}

	// Try candidate object starts from the innermost '{' outward; the
	// first candidate that parses cleanly to the end of the text wins.
	for start := strings.LastIndexByte(text, '{'); start >= 0; start = strings.LastIndexByte(text[:start], '{') {
		var call models.ToolCall
		dec := json.NewDecoder(bytes.NewReader([]byte(text[start:])))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&call); err != nil {
			continue
		}
		if dec.More() {
			continue
		}
		if call.Name == "" {
			continue
		}
		return call, true
	}
	return models.ToolCall{}, false
}

// looksLikeCall reports whether text ends in something shaped like a tool
// call that parseToolCall nevertheless refused. Such replies surface as
// validation-error results instead of being mistaken for final answers.
func looksLikeCall(content string) bool {
	text := strings.TrimSpace(content)
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}
	if !strings.HasSuffix(text, "}") {
		return false
	}
	tail := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		tail = text[i+1:]
	}
	return strings.Contains(tail, `"tool"`)
}

// systemPrompt assembles the full system prompt for one run: the agent
// kind's prompt, the tool list it prefers, and the call protocol.
func systemPrompt(def Definition, registry *tools.Registry) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(def.SystemPrompt))
	sb.WriteString("\n\nAvailable tools:\n")

	preferred := make(map[string]bool, len(def.Tools))
	for _, name := range def.Tools {
		preferred[name] = true
	}
	for _, entry := range registry.List() {
		if len(preferred) > 0 && !preferred[entry.Name()] {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", entry.Name(), entry.Risk(), entry.Description())
	}

	sb.WriteString(`
To call a tool, end your reply with exactly one JSON object as the last
line, nothing after it:
{"tool": "<name>", "args": {<arguments>}}

When you are done, reply with your final answer in plain text and no JSON
object.`)
	return sb.String()
}

// suggestFix derives a remembered fix from a tool failure. The heuristics
// cover the error families that actually recur in operations work; anything
// else gets a generic nudge toward a different approach.
func suggestFix(tool, errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return "Check the target service is running and the URL or port is right."
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "401"):
		return "Check credentials and permissions for this operation."
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return "The operation timed out. Check connectivity or narrow the request."
	case strings.Contains(lower, "no such container"), strings.Contains(lower, "not found") && strings.HasPrefix(tool, "docker"):
		return "Verify the container name with docker_ps before operating on it."
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "not found") && (tool == "read_file" || tool == "write_file"):
		return "Verify the path exists inside the workspace before using it."
	case strings.Contains(lower, "not found"):
		return "Verify the name exists before operating on it."
	case strings.Contains(lower, "exited with code"), strings.Contains(lower, "exit status"):
		return "Check the command syntax and its prerequisites."
	default:
		return "This call keeps failing; try a different approach."
	}
}
