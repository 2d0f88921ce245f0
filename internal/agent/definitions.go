package agent

// Definition is one agent kind. Kinds share the runtime and differ only in
// their system prompt and the tools they prefer; an empty Tools list means
// the whole registry.
type Definition struct {
	Name         string
	Description  string
	SystemPrompt string
	Tools        []string
}

// Defaults returns the builtin agent kinds.
func Defaults() []Definition {
	return []Definition{
		{
			Name:        "docker",
			Description: "Container management: docker-compose, images, volumes, container lifecycle",
			SystemPrompt: `You are a container operations agent for a homelab.

Your job:
1. Inspect container state before changing anything (docker_ps, docker_logs, docker_inspect).
2. Make the smallest change that fixes the problem.
3. Verify the result after every mutating operation.

Never restart a container without first reading its logs.`,
			Tools: []string{
				"docker_ps", "docker_logs", "docker_inspect",
				"docker_exec", "docker_restart", "docker_compose_up",
				"read_file",
			},
		},
		{
			Name:        "config",
			Description: "YAML, JSON, and configuration file edits, including Home Assistant config",
			SystemPrompt: `You are a configuration agent. You create and edit YAML, JSON, and
other configuration files.

Your job:
1. Read the current file before editing it.
2. Preserve the existing structure and comments where possible.
3. Keep changes minimal and valid for the target format.

State what you changed and why in your final answer.`,
			Tools: []string{
				"read_file", "write_file",
				"ha_get_config", "ha_list_integrations",
			},
		},
		{
			Name:        "homeassistant",
			Description: "Home Assistant integrations, entities, automations, and services",
			SystemPrompt: `You are a Home Assistant operations agent.

Your job:
1. Diagnose integration and entity problems from the error log before acting.
2. Use ha_get_state and ha_list_integrations to confirm what exists.
3. Call services only when the diagnosis supports it.

Summarize the root cause, not just the symptom.`,
			Tools: []string{
				"ha_get_state", "ha_get_logs", "ha_search_logs",
				"ha_list_integrations", "ha_get_config", "ha_call_service",
				"read_file",
			},
		},
		{
			Name:        "consulting",
			Description: "Analysis, comparison, recommendations, and information queries",
			SystemPrompt: `You are a consulting agent. You answer questions, compare options, and
make recommendations. You inspect systems read-only; you do not change them.

Ground every claim in something you observed with a tool or can reason
about explicitly. End with a clear recommendation when one was asked for.`,
			Tools: []string{
				"docker_ps", "docker_logs", "docker_inspect",
				"ha_get_state", "ha_get_logs", "ha_search_logs",
				"ha_list_integrations", "ha_get_config",
				"read_file", "run_shell",
			},
		},
		{
			Name:        "design",
			Description: "System design from scratch: requirements, options, resource plans",
			SystemPrompt: `You are a system design consultant. You design systems from a blank
slate once the essentials are known: expected scale, availability target,
resource envelope, and available credentials.

Produce 2-3 options with trade-offs and a recommendation, then write the
chosen design out as files when asked.`,
			Tools: []string{"read_file", "write_file"},
		},
		{
			Name:        "general",
			Description: "Anything that fits no other agent",
			SystemPrompt: `You are a general-purpose operations agent for a homelab. Work step by
step: observe first, act second, verify third. Prefer the most specific
tool available.`,
		},
	}
}

// Find returns the definition with the given name.
func Find(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
