// Package main provides the warden CLI: a governed autonomous task runner.
//
// Warden routes free-form operations tasks to specialized agents, runs them
// in a bounded reason/act loop, and parks every risky tool call behind a
// durable approval. A parked task is resumed by re-running the same execute
// command after ruling on the approval.
//
// # Basic Usage
//
// Run a task:
//
//	warden execute "restart the api container" --env dev
//
// Rule on a parked call and resume:
//
//	warden approve list
//	warden approve approve 3f2a9c1b
//	warden execute "restart the api container" --env dev
//
// Halt everything:
//
//	warden stop activate "bad deploy in progress"
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key (default provider)
//   - OPENAI_API_KEY: OpenAI-compatible API key
//   - LLM_PROVIDER / LLM_MODEL: provider backend and model
//   - ENVIRONMENT: default environment tag (unset means production)
//   - WARDEN_STATE_DIR: directory for the durable JSON ledgers
//   - WARDEN_WORKSPACE: root directory for the file tools
//   - HA_BASE_URL / HA_TOKEN: Home Assistant instance, enables its toolpack
//
// A .env file in the working directory is loaded automatically.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var debugLogging bool

func main() {
	slog.SetDefault(newLogger(false))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - governed autonomous task runner",
		Long: `Warden routes natural-language operations tasks to specialized agents and
runs them under traffic-light governance: read-only calls execute, risky
calls outside production are auto-approved, and everything else parks behind
a durable approval you rule on with 'warden approve'.

State lives in local JSON ledgers next to the binary (or WARDEN_STATE_DIR).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugLogging {
				slog.SetDefault(newLogger(true))
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildExecuteCmd(),
		buildApproveCmd(),
		buildStopCmd(),
		buildToolsCmd(),
		buildFactsCmd(),
	)

	return rootCmd
}

// exitError carries a task-status exit code through cobra without any error
// text; main unwraps it.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
