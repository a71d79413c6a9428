package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrPullFailed is returned when a pull did not load any data.
var ErrPullFailed = errors.New("pull failed")

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Replace local state with the cloud copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.orch.Boot(cmd.Context()); err != nil {
				return err
			}
			result := sess.orch.SyncFromCloud(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			if !result.OK {
				return ErrPullFailed
			}
			return nil
		},
	}
}
