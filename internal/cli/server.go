package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pipesync/internal/api"
)

// NewServerCommand creates the root command of the self-hosted file
// backend.
func NewServerCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pipesync-server",
		Short: "Serve the remote file backend",
		Long: `Serve GET /persistence/load and POST /persistence/save, keeping the whole
snapshot in one JSON file. Requests must carry X-Persistence-Secret when
server.secret is set.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Server.Secret == "" {
				logger.Warn("server.secret is empty; persistence endpoints are unauthenticated")
			}
			e := newEcho("pipesync-server", logger)
			api.NewPersistence(cfg.Server.DataFile, logger).Register(e, cfg.Server.Secret)
			logger.Info("Persistence handlers mounted", "data_file", cfg.Server.DataFile)

			return serveHTTP(ctx, e, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default: ./config.yaml)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	return cmd
}
