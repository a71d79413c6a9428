package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"pipesync/internal/api"
	"pipesync/internal/mcp"
	"pipesync/internal/observability"
	"pipesync/internal/state"
	"pipesync/internal/watch"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		Long: `Start the sync daemon: boot the session from the highest-precedence tier,
propagate every change to the local cache and the remote store, and serve
the status API and MCP tools.

Example:
  pipesync run --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, rootOpts)
		},
	}
}

func runDaemon(ctx context.Context, opts *RootOptions) error {
	cfg, logger, err := loadRuntime(opts)
	if err != nil {
		return err
	}

	metrics, err := observability.Setup("pipesync")
	if err != nil {
		return err
	}
	defer metrics.Shutdown(context.Background())

	sess, err := openSession(ctx, cfg, logger, metrics.Meter("pipesync/orchestrator"))
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.orch.Boot(ctx); err != nil {
		return fmt.Errorf("failed to boot session: %w", err)
	}

	rollover := state.NewRollover(sess.store, logger)
	if err := rollover.Start(); err != nil {
		return err
	}
	defer rollover.Stop()

	if cfg.Sync.WatchFile != "" {
		importer, err := watch.NewImporter(cfg.Sync.WatchFile, sess.store, logger)
		if err != nil {
			return err
		}
		if err := importer.Start(); err != nil {
			return err
		}
		defer importer.Stop()
	}

	e := newEcho("pipesync", logger)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	api.RegisterHandlers(e.Group("/api/v1"), api.NewServer(sess.orch, sess.store, sess.identity, logger))
	if cfg.Server.EnableMCP {
		mcpServer := mcp.NewServer(sess.orch, sess.store)
		e.Any("/mcp/*", echo.WrapHandler(mcp.Handler(mcpServer.GetMCPServer())))
		logger.Info("MCP protocol handlers mounted")
	}

	return serveHTTP(ctx, e, cfg, logger)
}
