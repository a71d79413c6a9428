package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipesync/internal/auth"
	"pipesync/internal/cache"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the configured OpenID provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oidc, closeKV, err := openOIDC(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeKV()

			out := cmd.OutOrStdout()
			id, err := oidc.Login(cmd.Context(), func(uri, code string) {
				fmt.Fprintf(out, "Open %s and enter the code %s\n", uri, code)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in as %s\n", id.UserID)
			return nil
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the cached sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			kv, closeKV, err := cache.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeKV()
			if err := kv.Remove(cache.KeyIDToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func openOIDC(cmd *cobra.Command, rootOpts *RootOptions) (*auth.OIDC, func() error, error) {
	cfg, logger, err := loadRuntime(rootOpts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.Issuer == "" {
		return nil, nil, errors.New("auth.issuer is not configured")
	}
	kv, closeKV, err := cache.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	oidc, err := auth.NewOIDC(cmd.Context(), cfg.Auth.Issuer, cfg.Auth.ClientID, kv, logger)
	if err != nil {
		_ = closeKV()
		return nil, nil, err
	}
	return oidc, closeKV, nil
}
