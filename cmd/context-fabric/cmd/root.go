// Package cmd provides the CLI commands for Context Fabric.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/contextfabric/context-fabric/internal/logging"
	"github.com/contextfabric/context-fabric/pkg/version"
)

// Debug logging flag, shared across PersistentPreRunE/PersistentPostRunE.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the context-fabric CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context-fabric",
		Short: "Local memory server for AI coding assistants",
		Long: `Context Fabric is a local-first memory server for AI coding
assistants, exposed over MCP. It keeps a three-tier memory of a coding
session — ephemeral working notes, durable project decisions, and a
cross-project semantic store — plus an optional local code index.

Running 'context-fabric serve' starts the MCP server over stdio; most
assistants invoke this directly and never need the other subcommands.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context(), "")
		},
	}

	cmd.SetVersionTemplate("context-fabric version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.context-fabric/logs/")
	cmd.PersistentPreRunE = startDebugLogging
	cmd.PersistentPostRunE = stopDebugLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// startDebugLogging enables verbose file logging for non-serve subcommands.
// serve/the default RunE manage their own logging via SetupMCPModeWithLevel
// since the MCP transport has stricter stdout/stderr constraints.
func startDebugLogging(cmd *cobra.Command, _ []string) error {
	if !debugMode || cmd.Name() == "serve" || cmd.Name() == "context-fabric" {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopDebugLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
