package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the remote store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			store, closeStore, err := openRemoteStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			if store == nil {
				return errors.New("remote.driver is not configured")
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", cfg.Remote.Driver)
			return nil
		},
	}
}
