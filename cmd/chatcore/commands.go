package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the chat server.
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the HTTP and websocket chat server.

The server will:
1. Load configuration and open session storage
2. Load the knowledge index, and watch it when retrieval.watch is set
3. Connect the configured language model provider
4. Serve the chat API, /healthz and /metrics
5. Sweep idle sessions on the configured schedule

Graceful shutdown is handled on SIGINT/SIGTERM; pending session writes are
flushed before exit.`,
		Example: `  chatcore serve
  chatcore serve --config /etc/chatcore/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// =============================================================================
// Ask Command
// =============================================================================

func buildAskCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question, or start an interactive chat",
		Long: `With a question argument, print one answer and exit. Without one,
start an interactive chat that keeps a session until you type /exit.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, user, args)
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "Session owner id")
	return cmd
}

// =============================================================================
// Index Command
// =============================================================================

func buildIndexCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load documents into the knowledge index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and reload on file changes")
	return cmd
}

// =============================================================================
// Sessions Commands
// =============================================================================

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean up stored sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsDeleteCmd(), buildSessionsSweepCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, owner)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its stored history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, args[0])
		},
	}
}

func buildSessionsSweepCmd() *cobra.Command {
	var (
		owner   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete a user's sessions idle longer than the timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsSweep(cmd, owner, timeout)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Idle timeout (default: session.timeout)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tooling",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd)
			},
		},
	)
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		userID string
		name   string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a Jenkins user",
		Long: `Sign a bearer token with auth.jwt_secret for the given Jenkins user.

The Jenkins plugin sends it as "Authorization: Bearer <token>" in place of
the X-Jenkins-User-ID header.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, userID, name, email)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Jenkins user id (required)")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("chatcore %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
