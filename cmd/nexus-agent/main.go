// Command nexus-agent is the terminal entry point for the agent runtime: an
// interactive read-eval-print loop backed by the Agent Runtime Turn Loop,
// wired to either an Anthropic or an OpenAI-compatible LLM client.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main() for testability (the reference CLI's convention).
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nexus-agent",
		Short:        "Interactive terminal assistant backed by the agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}
