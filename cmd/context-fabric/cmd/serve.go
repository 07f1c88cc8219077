package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/contextfabric/context-fabric/internal/codeindex"
	"github.com/contextfabric/context-fabric/internal/config"
	"github.com/contextfabric/context-fabric/internal/embedding"
	"github.com/contextfabric/context-fabric/internal/engine"
	"github.com/contextfabric/context-fabric/internal/logging"
	"github.com/contextfabric/context-fabric/internal/mcpserver"
	"github.com/contextfabric/context-fabric/internal/tier1"
	"github.com/contextfabric/context-fabric/internal/tier2"
	"github.com/contextfabric/context-fabric/internal/tier3"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP memory server",
		Long: `Run Context Fabric as an MCP server over the given transport.

BUG-034: MCP protocol requires stdout to be used EXCLUSIVELY for JSON-RPC
messages. All logging is file-based (~/.context-fabric/logs/) regardless
of --debug; nothing is written to stdout or stderr once the server starts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport to serve on (stdio; overrides config)")
	return cmd
}

// runServe loads configuration for the current project, assembles the
// engine, and blocks serving MCP requests until ctx is cancelled.
func runServe(ctx context.Context, transportOverride string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanup, err := logging.SetupMCPModeWithLevel(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	logger := slog.Default()

	eng, closeEngine, err := buildEngine(ctx, cfg, root, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer closeEngine()

	srv, err := mcpserver.NewServer(eng, logger)
	if err != nil {
		return fmt.Errorf("failed to build mcp server: %w", err)
	}

	transport := cfg.Server.Transport
	if transportOverride != "" {
		transport = transportOverride
	}
	return srv.Serve(ctx, transport)
}

// buildEngine assembles the three memory tiers, the embedding stack, and
// (when enabled) the per-project code index into a ready-to-serve Engine.
// The returned closer stops the code index file watcher, flushes the code
// index vector graph, and closes both storage tiers, in that order.
func buildEngine(ctx context.Context, cfg *config.Config, root string, logger *slog.Logger) (*engine.Engine, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	embedder := embedding.New(cfg.Embedding.Dimension, 0)

	l1 := tier1.New(0)

	l2Path := cfg.ResolvedL2Path(root)
	l2, err := tier2.Open(l2Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open L2 store: %w", err)
	}

	l3Path := cfg.ResolvedL3Path()
	l3, err := tier3.Open(l3Path)
	if err != nil {
		_ = l2.Close()
		return nil, nil, fmt.Errorf("failed to open L3 store: %w", err)
	}

	var codeIndex *codeindex.Index
	var vectorPath string
	var stopWatcher func()

	if cfg.CodeIndex.Enabled {
		var dbPath string
		dbPath, vectorPath = cfg.ResolvedCodeIndexPaths(root)

		idx, err := codeindex.Open(root, dbPath, vectorPath, embedder)
		if err != nil {
			logger.Warn("code index disabled: failed to open", slog.String("error", err.Error()))
		} else {
			if err := idx.Scan(ctx); err != nil {
				logger.Warn("code index initial scan failed", slog.String("error", err.Error()))
			}
			codeIndex = idx

			if cfg.CodeIndex.WatchEnabled {
				watchCtx, cancel := context.WithCancel(context.Background())
				handler := func(handlerCtx context.Context, paths []string) {
					if err := idx.RefreshPaths(handlerCtx, paths); err != nil {
						logger.Warn("code index refresh failed", slog.String("error", err.Error()))
					}
				}
				go func() {
					if err := codeindex.Watch(watchCtx, root, handler); err != nil && watchCtx.Err() == nil {
						logger.Warn("code index watcher stopped", slog.String("error", err.Error()))
					}
				}()
				stopWatcher = cancel
			}
		}
	}

	eng := engine.New(l1, l2, l3, embedder, codeIndex, vectorPath, stopWatcher)
	eng.SetContextLimits(cfg.Context.MaxWorkingMemories, cfg.Context.MaxRelevantMemories)

	closer := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("error during engine shutdown", slog.String("error", err.Error()))
		}
	}
	return eng, closer, nil
}
