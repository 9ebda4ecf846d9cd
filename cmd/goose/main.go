// Package main is the goose CLI: a turn orchestration engine driving
// multi-turn agent sessions against LLM providers with permission-gated
// tool execution.
//
// Start a session:
//
//	goose run "fix the failing test in pkg/models"
//
// Resume one:
//
//	goose resume <session-id> "continue"
//
// Configuration comes from a YAML file (--config), GOOSE_* environment
// variables, and provider API keys (ANTHROPIC_API_KEY, OPENAI_API_KEY).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "goose",
		Short: "goose - autonomous agent session engine",
		Long: `goose drives multi-turn agent sessions: model call, permission gate,
tool dispatch, token accounting, and automatic history compaction.

Supported providers: Anthropic (Claude), OpenAI (GPT)
Extensions attach over stdio JSON-RPC or in process.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildPlanCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}
