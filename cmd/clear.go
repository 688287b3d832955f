package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/spf13/cobra"
)

type clearFlags struct {
	all bool
}

func newClearCmd(r *Root) {
	flags := &clearFlags{}

	cmd := &cobra.Command{
		Use:   "clear-cache [settings file]",
		Short: "Drop cached SSO access tokens",
		Long: `Drop cached SSO access tokens for the configured start url, forcing a fresh login.
Profiles already written to the config and credentials files are left alone`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := settingsFromArgs(args)
			if err != nil {
				return err
			}
			if !flags.all {
				if err := settings.Validate(); err != nil {
					return err
				}
			}
			cacheDir := filepath.Join(credentialexchange.HomeDir(), settings.Paths.AwsFolderName, settings.Paths.SsoCacheFolder)
			removed, err := credentialexchange.RemoveCachedTokens(cacheDir, settings.Aws.SsoStartUrl, flags.all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached token(s)\n", removed)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.all, "all", "a", false, `Remove every cache entry, not just the ones for the configured start url.

Use this when a previous run left entries for a start url that is no longer in any settings file`)
	r.Cmd.AddCommand(cmd)
}
