package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipesync/internal/cache"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the identity and what the local cache holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			kv, closeKV, err := cache.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeKV()

			provider, err := identityProvider(ctx, cfg, kv, logger)
			if err != nil {
				return err
			}
			id, err := provider.Identity(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if id.Authenticated() {
				fmt.Fprintf(out, "Identity:    %s\n", id.UserID)
			} else {
				fmt.Fprintln(out, "Identity:    guest")
			}
			remote := cfg.Remote.Driver
			if remote == "" {
				remote = "not configured"
			}
			fmt.Fprintf(out, "Remote:      %s\n", remote)

			snapCache := cache.NewSnapshotCache(kv)
			lastOpened, err := snapCache.LastOpened()
			if err != nil {
				return err
			}
			if lastOpened == "" {
				lastOpened = "never"
			}
			fmt.Fprintf(out, "Last opened: %s\n", lastOpened)

			snap, ok, err := snapCache.Load()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Cache:       empty")
				return nil
			}
			fmt.Fprintf(out, "Cache:       %d pipelines, %d routines, %d history entries\n",
				len(snap.Pipelines), len(snap.Routines), len(snap.History))
			return nil
		},
	}
}
