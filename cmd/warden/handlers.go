// handlers.go contains the RunE handler functions for all CLI commands.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/approvals"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/compaction"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/costs"
	"github.com/wardenhq/warden/internal/emergency"
	"github.com/wardenhq/warden/internal/facts"
	"github.com/wardenhq/warden/internal/governance"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/router"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/internal/tools/docker"
	"github.com/wardenhq/warden/internal/tools/files"
	"github.com/wardenhq/warden/internal/tools/homeassistant"
	"github.com/wardenhq/warden/internal/tools/shell"
	"github.com/wardenhq/warden/pkg/models"
)

// defaultConfigName is picked up from the working directory when --config is
// not given.
const defaultConfigName = "warden.yaml"

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigName); err == nil {
			path = defaultConfigName
		}
	}
	return config.Load(path)
}

// statusExitCode maps a task status to the documented process exit code.
func statusExitCode(status models.TaskStatus) int {
	switch status {
	case models.TaskSucceeded:
		return 0
	case models.TaskFailed:
		return 2
	case models.TaskBudgetExhausted:
		return 3
	case models.TaskStopped:
		return 4
	case models.TaskAwaitingApproval:
		return 5
	case models.TaskAwaitingHuman:
		return 6
	default:
		return 2
	}
}

// buildRegistry assembles the builtin toolpacks and seals the registry so
// anything registered later enters as dynamic (always red).
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.WithDangerousTools())

	if err := docker.Register(reg); err != nil {
		return nil, fmt.Errorf("register docker tools: %w", err)
	}
	if err := files.Register(reg, files.Config{Workspace: cfg.Tools.Workspace}); err != nil {
		return nil, fmt.Errorf("register file tools: %w", err)
	}
	if err := shell.Register(reg); err != nil {
		return nil, fmt.Errorf("register shell tools: %w", err)
	}
	if ha := cfg.Tools.HomeAssistant; ha.BaseURL != "" && ha.Token != "" {
		client, err := homeassistant.NewClient(homeassistant.Config{
			BaseURL: ha.BaseURL,
			Token:   ha.Token,
		})
		if err != nil {
			return nil, fmt.Errorf("configure home assistant: %w", err)
		}
		if err := homeassistant.Register(reg, client); err != nil {
			return nil, fmt.Errorf("register home assistant tools: %w", err)
		}
	}

	reg.Seal()
	return reg, nil
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAIAPIKey,
			BaseURL:      cfg.LLM.OpenAIBaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	case "anthropic", "":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.LLM.AnthropicAPIKey,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", cfg.LLM.Provider)
	}
}

// components is everything an execute run needs, built once per invocation.
type components struct {
	stop *emergency.Stop
	orc  *orchestrator.Orchestrator
}

func newComponents(cfg *config.Config, dryRun bool) (*components, error) {
	// The --debug flag wins; otherwise the configured level applies.
	if strings.EqualFold(cfg.Logging.Level, "debug") && !debugLogging {
		slog.SetDefault(newLogger(true))
	}
	logger := slog.Default()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure llm provider: %w", err)
	}

	sanitizer := sanitize.New()
	stop := emergency.New(cfg.StopSentinelPath())
	store := approvals.Open(cfg.ApprovalsPath(), approvals.WithLogger(logger))
	tracker := costs.NewTracker(cfg.Budgets, cfg.CostHistoryPath(), costs.WithLogger(logger))
	ledger := facts.Open(cfg.FactLedgerPath(), facts.WithLogger(logger))
	metrics := observability.NewMetrics()

	govOpts := []governance.Option{
		governance.WithSanitizer(sanitizer),
		governance.WithLogger(logger),
	}
	if dryRun {
		govOpts = append(govOpts, governance.WithDryRun())
	}
	gov := governance.NewEngine(registry, store, govOpts...)

	pruner := compaction.NewPruner(
		compaction.WithMaxTokens(cfg.Context.MaxContextTokens),
		compaction.WithKeepLastUsers(cfg.Context.KeepLastNUserMessages),
		compaction.WithKeepLastAssistants(cfg.Context.KeepLastNAssistantMessages),
	)

	runtime := agent.NewRuntime(provider, registry, gov,
		agent.WithApprovalStore(store),
		agent.WithSanitizer(sanitizer),
		agent.WithPruner(pruner),
		agent.WithTracker(tracker),
		agent.WithLedger(ledger),
		agent.WithEmergencyStop(stop),
		agent.WithAuthBroker(auth.NewBroker(auth.WithLogger(logger))),
		agent.WithMetrics(metrics),
		agent.WithLogger(logger),
		agent.WithModel(cfg.LLM.Model),
	)

	defs := agent.Defaults()
	routerOpts := []router.Option{
		router.WithLedger(ledger),
		router.WithLogger(logger),
		router.WithModel(cfg.LLM.Model),
	}
	if cfg.Routing.UseSemanticRouting {
		routerOpts = append(routerOpts, router.WithSemanticOnly())
	}
	rtr := router.New(provider, orchestrator.Descriptors(defs), routerOpts...)

	orc := orchestrator.New(rtr, runtime, defs,
		orchestrator.WithLedger(ledger),
		orchestrator.WithTracker(tracker),
		orchestrator.WithEmergencyStop(stop),
		orchestrator.WithSanitizer(sanitizer),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(logger),
	)

	return &components{stop: stop, orc: orc}, nil
}

// =============================================================================
// Execute Handler
// =============================================================================

func runExecute(cmd *cobra.Command, configPath, taskText, envName string, dryRun, jsonOut bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.TaskEnvironment()
	if envName != "" {
		env = models.ParseEnvironment(envName)
	}

	comps, err := newComponents(cfg, dryRun)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM flip the emergency stop; the run halts at its next
	// yield point and the sentinel stays until 'warden stop reset'.
	uninstall := comps.stop.InstallSignalHandlers()
	defer uninstall()

	result := comps.orc.Execute(cmd.Context(), taskText, env)

	if jsonOut {
		if err := printJSON(cmd, result); err != nil {
			return err
		}
	} else {
		printResult(cmd, result)
	}

	if code := statusExitCode(result.Status); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func printResult(cmd *cobra.Command, res models.TaskResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "task:    %s\n", res.TaskID)
	fmt.Fprintf(out, "status:  %s\n", res.Status)
	if res.Reason != "" {
		fmt.Fprintf(out, "reason:  %s\n", res.Reason)
	}
	if res.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", res.Summary)
	}

	switch res.Status {
	case models.TaskAwaitingApproval:
		fmt.Fprintf(out, "\nRule on the parked call, then re-run the same command to resume:\n")
		fmt.Fprintf(out, "  warden approve show %s\n", res.ApprovalID)
		fmt.Fprintf(out, "  warden approve approve %s\n", res.ApprovalID)
	case models.TaskAwaitingHuman:
		if res.Clarification != "" {
			fmt.Fprintf(out, "\n%s\n", res.Clarification)
		}
		fmt.Fprintf(out, "\nRe-run with the missing details added to the task text.\n")
	case models.TaskStopped:
		fmt.Fprintf(out, "\nClear the stop with 'warden stop reset' before retrying.\n")
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Approve Handlers
// =============================================================================

func runApproveList(cmd *cobra.Command, configPath, status string, jsonOut bool) error {
	verdict := approvals.Verdict(status)
	switch verdict {
	case approvals.VerdictPending, approvals.VerdictApproved, approvals.VerdictRejected:
	default:
		return fmt.Errorf("unknown status %q (want pending, approved or rejected)", status)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := approvals.Open(cfg.ApprovalsPath())

	list, err := store.List(verdict)
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	if jsonOut {
		return printJSON(cmd, list)
	}
	if len(list) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s approvals.\n", status)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOOL\tENV\tAGE\tSUMMARY")
	for _, a := range list {
		age := time.Since(a.CreatedAt).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Tool, a.Environment, age, firstLine(a.Summary))
	}
	return w.Flush()
}

func runApproveShow(cmd *cobra.Command, configPath, id string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := approvals.Open(cfg.ApprovalsPath())

	a, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("show approval: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:          %s\n", a.ID)
	fmt.Fprintf(out, "verdict:     %s\n", a.Verdict)
	fmt.Fprintf(out, "tool:        %s\n", a.Tool)
	fmt.Fprintf(out, "args digest: %s\n", a.ArgsDigest)
	fmt.Fprintf(out, "agent:       %s\n", a.Agent)
	fmt.Fprintf(out, "task:        %s\n", a.TaskID)
	fmt.Fprintf(out, "environment: %s\n", a.Environment)
	fmt.Fprintf(out, "reason:      %s\n", a.Reason)
	fmt.Fprintf(out, "created:     %s\n", a.CreatedAt.Format(time.RFC3339))
	if a.Decided() {
		fmt.Fprintf(out, "decided:     %s\n", a.DecidedAt.Format(time.RFC3339))
		if a.Note != "" {
			fmt.Fprintf(out, "note:        %s\n", a.Note)
		}
	}
	if a.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", a.Summary)
	}
	return nil
}

func runApproveDecide(cmd *cobra.Command, configPath, id string, approve bool, note string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := approvals.Open(cfg.ApprovalsPath())

	var a *approvals.Approval
	if approve {
		a, err = store.Approve(id, note)
	} else {
		a, err = store.Reject(id, note)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", a.Verdict, a.ID, a.Tool)
	fmt.Fprintln(cmd.OutOrStdout(), "Re-run the task's execute command to resume it.")
	return nil
}

// =============================================================================
// Stop Handlers
// =============================================================================

func runStopActivate(cmd *cobra.Command, configPath, reason string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stop := emergency.New(cfg.StopSentinelPath())
	stop.Trigger(reason)

	fmt.Fprintf(cmd.OutOrStdout(), "emergency stop active: %s\n", stop.Reason())
	return nil
}

func runStopStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stop := emergency.New(cfg.StopSentinelPath())

	if stop.IsSet() {
		fmt.Fprintf(cmd.OutOrStdout(), "emergency stop: active (%s)\n", stop.Reason())
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "emergency stop: not active")
	}
	return nil
}

func runStopReset(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stop := emergency.New(cfg.StopSentinelPath())
	stop.Reset()

	fmt.Fprintln(cmd.OutOrStdout(), "emergency stop cleared")
	return nil
}

// =============================================================================
// Tools Handler
// =============================================================================

func runToolsList(cmd *cobra.Command, configPath string, jsonOut bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	type toolInfo struct {
		Name        string   `json:"name"`
		Risk        string   `json:"risk"`
		Identity    string   `json:"identity,omitempty"`
		Contexts    []string `json:"allowed_contexts,omitempty"`
		Description string   `json:"description"`
	}
	var infos []toolInfo
	for _, e := range registry.List() {
		var contexts []string
		for _, env := range e.AllowedContexts() {
			contexts = append(contexts, string(env))
		}
		infos = append(infos, toolInfo{
			Name:        e.Name(),
			Risk:        string(e.Risk()),
			Identity:    e.Identity(),
			Contexts:    contexts,
			Description: e.Description(),
		})
	}
	if jsonOut {
		return printJSON(cmd, infos)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRISK\tIDENTITY\tCONTEXTS\tDESCRIPTION")
	for _, info := range infos {
		identity := info.Identity
		if identity == "" {
			identity = "-"
		}
		contexts := "any"
		if len(info.Contexts) > 0 {
			contexts = strings.Join(info.Contexts, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.Risk, identity, contexts, info.Description)
	}
	return w.Flush()
}

// =============================================================================
// Facts Handler
// =============================================================================

func runFactsStats(cmd *cobra.Command, configPath string, jsonOut bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ledger := facts.Open(cfg.FactLedgerPath())
	stats := ledger.Stats()

	type agentRate struct {
		Agent string  `json:"agent"`
		Rate  float64 `json:"success_rate"`
	}
	var rates []agentRate
	for _, def := range agent.Defaults() {
		if rate := ledger.AgentSuccessRate(def.Name); rate >= 0 {
			rates = append(rates, agentRate{Agent: def.Name, Rate: rate})
		}
	}

	if jsonOut {
		return printJSON(cmd, struct {
			facts.Stats
			Agents []agentRate `json:"agents,omitempty"`
		}{stats, rates})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "successes:       %d\n", stats.Successes)
	fmt.Fprintf(out, "failures:        %d\n", stats.Failures)
	fmt.Fprintf(out, "solutions:       %d\n", stats.Solutions)
	fmt.Fprintf(out, "routing records: %d\n", stats.Routing)

	if len(rates) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSUCCESS RATE")
		for _, r := range rates {
			fmt.Fprintf(w, "%s\t%.0f%%\n", r.Agent, r.Rate*100)
		}
		return w.Flush()
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
