package homeassistant

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

const (
	defaultLogTail    = 50
	defaultSearchTail = 100
)

// Register adds the Home Assistant tool set to the registry. Reads are
// green; service calls are yellow and restricted to dev/staging.
func Register(r *tools.Registry, client *Client) error {
	regs := []tools.Registration{
		{
			Tool:     &GetStateTool{client: client},
			Risk:     models.RiskGreen,
			Identity: "home_assistant",
		},
		{
			Tool:     &GetLogsTool{client: client},
			Risk:     models.RiskGreen,
			Identity: "home_assistant",
		},
		{
			Tool:     &SearchLogsTool{client: client},
			Risk:     models.RiskGreen,
			Identity: "home_assistant",
		},
		{
			Tool:     &ListIntegrationsTool{client: client},
			Risk:     models.RiskGreen,
			Identity: "home_assistant",
		},
		{
			Tool:     &GetConfigTool{client: client},
			Risk:     models.RiskGreen,
			Identity: "home_assistant",
		},
		{
			Tool:            &CallServiceTool{client: client},
			Risk:            models.RiskYellow,
			Mutating:        true,
			Identity:        "home_assistant",
			AllowedContexts: []models.Environment{models.EnvDev, models.EnvStaging},
			ApprovalPrompt:  "I want to call a Home Assistant service. Review?",
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// GetStateTool fetches a single entity state.
type GetStateTool struct {
	client *Client
}

func (t *GetStateTool) Name() string { return "ha_get_state" }

func (t *GetStateTool) Description() string {
	return "Get the current state and attributes for a Home Assistant entity."
}

func (t *GetStateTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"entity_id": map[string]interface{}{
			"type":        "string",
			"description": "Entity ID (e.g., light.living_room)",
		},
	}, "entity_id")
}

func (t *GetStateTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	var input struct {
		EntityID string `json:"entity_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return tools.Errorf("invalid arguments: %v", err), nil
		}
	}
	payload, err := t.client.GetState(ctx, input.EntityID)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	return jsonOutcome(payload), nil
}

// GetLogsTool reads the tail of the error log.
type GetLogsTool struct {
	client *Client
}

func (t *GetLogsTool) Name() string { return "ha_get_logs" }

func (t *GetLogsTool) Description() string {
	return "Read recent lines from the Home Assistant error log."
}

func (t *GetLogsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"tail": map[string]interface{}{
			"type":        "integer",
			"description": "Number of log lines to return (default 50)",
		},
	})
}

func (t *GetLogsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	var input struct {
		Tail int `json:"tail"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return tools.Errorf("invalid arguments: %v", err), nil
		}
	}
	if input.Tail <= 0 {
		input.Tail = defaultLogTail
	}
	log, err := t.client.ErrorLog(ctx)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	lines := tailLines(log, input.Tail)
	return tools.JSON(map[string]any{
		"logs":  strings.Join(lines, "\n"),
		"lines": len(lines),
	}), nil
}

// SearchLogsTool greps the error log tail for a term.
type SearchLogsTool struct {
	client *Client
}

func (t *SearchLogsTool) Name() string { return "ha_search_logs" }

func (t *SearchLogsTool) Description() string {
	return "Search the Home Assistant error log for a term (case-insensitive)."
}

func (t *SearchLogsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"search_term": map[string]interface{}{
			"type":        "string",
			"description": "Term to search for",
		},
		"tail": map[string]interface{}{
			"type":        "integer",
			"description": "Number of log lines to search (default 100)",
		},
	}, "search_term")
}

func (t *SearchLogsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	var input struct {
		SearchTerm string `json:"search_term"`
		Tail       int    `json:"tail"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return tools.Errorf("invalid arguments: %v", err), nil
		}
	}
	term := strings.TrimSpace(input.SearchTerm)
	if term == "" {
		return tools.Errorf("search_term is required"), nil
	}
	if input.Tail <= 0 {
		input.Tail = defaultSearchTail
	}
	log, err := t.client.ErrorLog(ctx)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	needle := strings.ToLower(term)
	var matches []string
	for _, line := range tailLines(log, input.Tail) {
		if strings.Contains(strings.ToLower(line), needle) {
			matches = append(matches, line)
		}
	}
	return tools.JSON(map[string]any{
		"search_term": term,
		"matches":     matches,
		"total":       len(matches),
	}), nil
}

// ListIntegrationsTool lists config entries grouped by domain.
type ListIntegrationsTool struct {
	client *Client
}

func (t *ListIntegrationsTool) Name() string { return "ha_list_integrations" }

func (t *ListIntegrationsTool) Description() string {
	return "List configured Home Assistant integrations grouped by domain."
}

func (t *ListIntegrationsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{})
}

func (t *ListIntegrationsTool) Execute(ctx context.Context, _ json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	entries, err := t.client.ConfigEntries(ctx)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	type integration struct {
		Title   string `json:"title"`
		State   string `json:"state"`
		EntryID string `json:"entry_id"`
	}
	grouped := make(map[string][]integration)
	for _, entry := range entries {
		domain := entry.Domain
		if domain == "" {
			domain = "unknown"
		}
		grouped[domain] = append(grouped[domain], integration{
			Title:   entry.Title,
			State:   entry.State,
			EntryID: entry.EntryID,
		})
	}
	return tools.JSON(map[string]any{
		"integrations": grouped,
		"total":        len(grouped),
	}), nil
}

// GetConfigTool reads the core configuration.
type GetConfigTool struct {
	client *Client
}

func (t *GetConfigTool) Name() string { return "ha_get_config" }

func (t *GetConfigTool) Description() string {
	return "Read the Home Assistant core configuration."
}

func (t *GetConfigTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{})
}

func (t *GetConfigTool) Execute(ctx context.Context, _ json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	payload, err := t.client.GetConfig(ctx)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	return jsonOutcome(payload), nil
}

// CallServiceTool calls a service (domain + service) with optional data.
type CallServiceTool struct {
	client *Client
}

func (t *CallServiceTool) Name() string { return "ha_call_service" }

func (t *CallServiceTool) Description() string {
	return "Call a Home Assistant service (domain + service) with optional service_data."
}

func (t *CallServiceTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]interface{}{
		"domain": map[string]interface{}{
			"type":        "string",
			"description": "Service domain (e.g., light, switch)",
		},
		"service": map[string]interface{}{
			"type":        "string",
			"description": "Service name (e.g., turn_on, turn_off)",
		},
		"service_data": map[string]interface{}{
			"type":                 "object",
			"description":          "Service data payload",
			"additionalProperties": true,
		},
		"entity_id": map[string]interface{}{
			"type":        "string",
			"description": "Target entity ID, merged into service_data",
		},
	}, "domain", "service")
}

func (t *CallServiceTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolOutcome, error) {
	if t == nil || t.client == nil {
		return tools.Errorf("home assistant client not configured"), nil
	}
	var input struct {
		Domain      string         `json:"domain"`
		Service     string         `json:"service"`
		ServiceData map[string]any `json:"service_data"`
		EntityID    string         `json:"entity_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return tools.Errorf("invalid arguments: %v", err), nil
		}
	}
	data := input.ServiceData
	if input.EntityID != "" {
		if data == nil {
			data = map[string]any{}
		}
		data["entity_id"] = input.EntityID
	}
	payload, err := t.client.CallService(ctx, input.Domain, input.Service, data)
	if err != nil {
		return tools.Errorf("%v", err), nil
	}
	return jsonOutcome(payload), nil
}

// jsonOutcome re-indents a raw API payload for readability, falling back to
// the trimmed original when it is not valid JSON.
func jsonOutcome(payload json.RawMessage) *models.ToolOutcome {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		if indented, err := json.MarshalIndent(v, "", "  "); err == nil {
			return tools.Success(string(indented))
		}
	}
	return tools.Success(strings.TrimSpace(string(payload)))
}

func tailLines(text string, n int) []string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
