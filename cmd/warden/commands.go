// commands.go contains the cobra command definitions and their flags. Each
// builder wires a command to its handler in handlers.go.
package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Execute Command
// =============================================================================

func buildExecuteCmd() *cobra.Command {
	var (
		configPath string
		envName    string
		dryRun     bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "execute [task text]",
		Short: "Run a task through routing, governance, and an agent",
		Long: `Run one natural-language task to completion or to a parked state.

The task is routed to an agent (docker, homeassistant, config, consulting,
design, or general), which works in a bounded loop of LLM turns and governed
tool calls. A call that needs sign-off parks the task; rule on it with
'warden approve' and re-run the exact same execute command to resume.

Exit codes: 0 succeeded, 2 failed, 3 budget exhausted, 4 stopped,
5 awaiting approval, 6 needs input.`,
		Example: `  # Read-only diagnosis
  warden execute "why is the api container restarting?"

  # Mutation in dev: yellow calls auto-approve
  warden execute "restart the api container" --env dev

  # Preview the governance verdicts without side effects
  warden execute "clean up stopped containers" --env production --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, configPath, strings.Join(args, " "), envName, dryRun, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Environment tag: dev, staging, production, local (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Deny instead of parking approval-requiring calls; persist nothing")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the task result as JSON")

	return cmd
}

// =============================================================================
// Approve Commands
// =============================================================================

func buildApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Review and rule on parked tool calls",
	}
	cmd.AddCommand(
		buildApproveListCmd(),
		buildApproveShowCmd(),
		buildApproveApproveCmd(),
		buildApproveRejectCmd(),
	)
	return cmd
}

func buildApproveListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals (pending by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproveList(cmd, configPath, status, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&status, "status", "pending", "Filter by verdict: pending, approved or rejected")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print approvals as JSON")
	return cmd
}

func buildApproveShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one approval, including its change plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproveShow(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildApproveApproveCmd() *cobra.Command {
	var (
		configPath string
		note       string
	)
	cmd := &cobra.Command{
		Use:   "approve [id]",
		Short: "Approve a parked call",
		Long: `Approve a parked call. The verdict is final; re-run the task's execute
command to resume it through the approved call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproveDecide(cmd, configPath, args[0], true, note)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&note, "note", "", "Optional note recorded with the verdict")
	return cmd
}

func buildApproveRejectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reject [id] [reason]",
		Short: "Reject a parked call",
		Long: `Reject a parked call. The verdict is final; on resume the agent sees the
rejection reason as the tool result and works around it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproveDecide(cmd, configPath, args[0], false, strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Stop Commands
// =============================================================================

func buildStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Control the emergency stop",
	}
	cmd.AddCommand(buildStopActivateCmd(), buildStopStatusCmd(), buildStopResetCmd())
	return cmd
}

func buildStopActivateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "activate [reason]",
		Short: "Halt all execution until reset",
		Long: `Write the stop sentinel. Every running task halts at its next yield point
and new tasks refuse to start until 'warden stop reset'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStopActivate(cmd, configPath, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildStopStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the emergency stop is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStopStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildStopResetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the emergency stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStopReset(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Tools Command
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools with their risk tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print tools as JSON")
	return cmd
}

// =============================================================================
// Facts Command
// =============================================================================

func buildFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect the fact ledger",
	}
	cmd.AddCommand(buildFactsStatsCmd())
	return cmd
}

func buildFactsStatsCmd() *cobra.Command {
	var (
		configPath string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger counts and per-agent success rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFactsStats(cmd, configPath, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print stats as JSON")
	return cmd
}
