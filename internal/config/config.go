// Package config loads runtime configuration. Values come from three layers:
// built-in defaults, an optional YAML file, and environment variables, with
// the environment winning. A .env file in the working directory is loaded
// into the environment first so local setups need no shell exports.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/pkg/models"
)

// Config is the main configuration structure for Warden.
type Config struct {
	// Environment tags every task that does not carry its own tag. Anything
	// unrecognized is treated as production.
	Environment string `yaml:"environment"`

	Budgets costs.Limits  `yaml:"budgets"`
	Context ContextConfig `yaml:"context"`
	Routing RoutingConfig `yaml:"routing"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	State   StateConfig   `yaml:"state"`
	Logging LoggingConfig `yaml:"logging"`
}

// ContextConfig bounds the conversation the agent runtime carries between
// LLM invocations.
type ContextConfig struct {
	MaxContextTokens           int `yaml:"max_context_tokens"`
	KeepLastNUserMessages      int `yaml:"keep_last_n_user_messages"`
	KeepLastNAssistantMessages int `yaml:"keep_last_n_assistant_messages"`
}

// RoutingConfig selects the router strategy.
type RoutingConfig struct {
	UseSemanticRouting bool `yaml:"use_semantic_routing"`
}

// LLMConfig selects the provider backend. Key material is read from the
// environment only; the YAML file carries non-secret fields.
type LLMConfig struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
}

// ToolsConfig configures the builtin toolpacks.
type ToolsConfig struct {
	// Workspace roots the file tools; paths escaping it are refused.
	Workspace     string              `yaml:"workspace"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
}

// HomeAssistantConfig locates a Home Assistant instance. The token comes
// from the environment only; tools are registered when both are set.
type HomeAssistantConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"-"`
}

// StateConfig locates the durable JSON ledgers.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips the file layer. A missing .env is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	applyDefaults(cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		applyDefaults(cfg)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from defaults, .env, and the environment
// only.
func FromEnv() (*Config, error) {
	return Load("")
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = string(models.EnvProduction)
	}
	if cfg.Budgets.MaxCostPerTask == 0 {
		cfg.Budgets.MaxCostPerTask = costs.DefaultLimits().MaxCostPerTask
	}
	if cfg.Budgets.MaxCostPerHour == 0 {
		cfg.Budgets.MaxCostPerHour = costs.DefaultLimits().MaxCostPerHour
	}
	if cfg.Budgets.MaxTokensPerTask == 0 {
		cfg.Budgets.MaxTokensPerTask = costs.DefaultLimits().MaxTokensPerTask
	}
	if cfg.Budgets.WarnAtPercent == 0 {
		cfg.Budgets.WarnAtPercent = costs.DefaultLimits().WarnAtPercent
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = 100_000
	}
	if cfg.Context.KeepLastNUserMessages == 0 {
		cfg.Context.KeepLastNUserMessages = 3
	}
	if cfg.Context.KeepLastNAssistantMessages == 0 {
		cfg.Context.KeepLastNAssistantMessages = 3
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.Tools.Workspace == "" {
		cfg.Tools.Workspace = "."
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "."
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = string(models.ParseEnvironment(v))
	}
	if err := envFloat("MAX_COST_PER_TASK", &cfg.Budgets.MaxCostPerTask); err != nil {
		return err
	}
	if err := envFloat("MAX_COST_PER_HOUR", &cfg.Budgets.MaxCostPerHour); err != nil {
		return err
	}
	if err := envInt64("MAX_TOKENS_PER_TASK", &cfg.Budgets.MaxTokensPerTask); err != nil {
		return err
	}
	if err := envInt("MAX_CONTEXT_TOKENS", &cfg.Context.MaxContextTokens); err != nil {
		return err
	}
	if err := envInt("KEEP_LAST_N_USER_MESSAGES", &cfg.Context.KeepLastNUserMessages); err != nil {
		return err
	}
	if err := envInt("KEEP_LAST_N_ASSISTANT_MESSAGES", &cfg.Context.KeepLastNAssistantMessages); err != nil {
		return err
	}
	if err := envBool("USE_SEMANTIC_ROUTING", &cfg.Routing.UseSemanticRouting); err != nil {
		return err
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.OpenAIBaseURL = v
	}
	if v := os.Getenv("WARDEN_WORKSPACE"); v != "" {
		cfg.Tools.Workspace = v
	}
	if v := os.Getenv("HA_BASE_URL"); v != "" {
		cfg.Tools.HomeAssistant.BaseURL = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		cfg.Tools.HomeAssistant.Token = v
	} else if v := os.Getenv("HOME_ASSISTANT_TOKEN"); v != "" {
		cfg.Tools.HomeAssistant.Token = v
	}
	if v := os.Getenv("WARDEN_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// TaskEnvironment returns the configured default environment tag.
func (c *Config) TaskEnvironment() models.Environment {
	return models.ParseEnvironment(c.Environment)
}

// ApprovalsPath is the approval ledger location.
func (c *Config) ApprovalsPath() string { return filepath.Join(c.State.Dir, "approvals.json") }

// CostHistoryPath is the cost tracker history location.
func (c *Config) CostHistoryPath() string { return filepath.Join(c.State.Dir, "cost_history.json") }

// FactLedgerPath is the fact ledger location.
func (c *Config) FactLedgerPath() string { return filepath.Join(c.State.Dir, "fact_ledger.json") }

// StopSentinelPath is the emergency stop sentinel location.
func (c *Config) StopSentinelPath() string { return filepath.Join(c.State.Dir, ".emergency_stop") }

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = f
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envInt64(name string, dst *int64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = b
	return nil
}
