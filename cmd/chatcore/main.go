// Package main provides the CLI entry point for chatcore, the Jenkins
// assistant chat service.
//
// # Basic Usage
//
// Start the server:
//
//	chatcore serve --config chatcore.yaml
//
// Build the knowledge index and keep it fresh:
//
//	chatcore index --watch
//
// Ask a question from a terminal:
//
//	chatcore ask "How do I archive artifacts in a pipeline?"
//
// # Environment Variables
//
//   - CHATCORE_CONFIG: Path to configuration file (default: chatcore.yaml)
//
// Configuration values may reference the environment as ${VAR} or
// ${VAR:-fallback}, for example api_key: ${OPENAI_API_KEY}.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "chatcore.yaml"

var (
	configPath string
	debug      bool
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command execution failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatcore",
		Short: "chatcore - Jenkins assistant chat service",
		Long: `chatcore answers Jenkins questions over HTTP and websockets.

Each question is classified, split into sub-questions when needed, answered
from retrieved documentation with relevance checks, and stored in a
per-user session.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML or JSON5 configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAskCmd(),
		buildIndexCmd(),
		buildSessionsCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("CHATCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigName
}
