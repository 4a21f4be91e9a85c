// Package main is the CLI entry point for the Ruster daemon: a UNIX-socket
// agent runtime that pairs a skill registry with an LLM-backed inference
// loop (spec.md §1-§2).
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
	date    = "unknown"
)

// defaultConfigPath is where ruster looks for its config absent --config
// or RUSTER_CONFIG.
const defaultConfigPath = "/etc/ruster/ruster.yaml"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ruster",
		Short: "Ruster - a skill-augmented agent daemon",
		Long: `Ruster binds a UNIX domain socket and services session.create/send,
skill.{add,list,search,remove,ban,unban}, and config.{get,set,list}
commands against an LLM-backed inference loop with RAG skill selection
and sandboxed tool execution.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("RUSTER_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ruster version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ruster %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
