// Package main is the CLI entry point for the travel chat gateway.
//
// Start the gateway:
//
//	travelchat serve --config travelchat.yaml
//
// Apply database migrations:
//
//	travelchat migrate
//
// Issue a development token signed with the configured secret:
//
//	travelchat token --subject alice@example.com
package main

import (
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

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "travelchat",
		Short:        "Real-time group chat and presence gateway for travel groups",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TRAVELCHAT_CONFIG"),
		"Path to YAML configuration file (or set TRAVELCHAT_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildMigrateCmd(&configPath),
		buildTokenCmd(&configPath),
		buildUserCmd(&configPath),
		buildGroupCmd(&configPath),
	)
	return rootCmd
}
