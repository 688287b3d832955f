package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/DevLabFoundry/aws-sso-sync/internal/web"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/spf13/cobra"
)

type loginCmdFlags struct {
	startUrl             string
	ssoRegion            string
	noBrowser            bool
	customExecutablePath string
}

func newLoginCmd(r *Root) {
	flags := &loginCmdFlags{}

	cmd := &cobra.Command{
		Use:   "login [settings file]",
		Short: "Authenticate against the AWS access portal",
		Long: `Authenticate against the AWS access portal via the OIDC device authorization flow.
Opens the approval page in a browser (or prints the URL with --no-browser), waits for approval
and deposits the resulting access token into the SSO token cache for the sync command to consume`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := settingsFromArgs(args)
			if err != nil {
				return err
			}
			if err := ConfigFromFlags(settings, &SyncCmdFlags{StartUrl: flags.startUrl, SsoRegion: flags.ssoRegion}); err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			awsConf, err := config.LoadDefaultConfig(ctx, config.WithRegion(settings.Aws.SsoRegion))
			if err != nil {
				return fmt.Errorf("failed to create session %s, %w", err, ErrUnableToCreateSession)
			}
			svc := ssooidc.NewFromConfig(awsConf)

			var browser *web.Web
			openVerification := func(v credentialexchange.Verification) <-chan error {
				if !flags.noBrowser {
					webConf := web.NewWebConf(r.Datadir).WithCustomExecutable(flags.customExecutablePath)
					if browser, err = web.New(ctx, webConf); err == nil {
						r.Log.Debug().Str("url", v.Url).Msg("opening verification page")
						return browser.OpenVerification(v.Url)
					}
					r.Log.Warn().Err(err).Msg("unable to launch a browser, falling back to manual approval")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Open %s and confirm code %s\n", v.Url, v.UserCode)
				// nil channel - the poll only ends on approval, timeout or interrupt
				return nil
			}

			token, err := credentialexchange.DeviceLogin(ctx, svc, settings.Aws.SsoStartUrl, openVerification)
			if browser != nil {
				browser.MustClose()
			}
			if err != nil {
				return err
			}

			cacheDir := filepath.Join(credentialexchange.HomeDir(), settings.Paths.AwsFolderName, settings.Paths.SsoCacheFolder)
			path, err := credentialexchange.SaveCachedToken(cacheDir, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "login complete, token cached in %s until %s\n", path, token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.startUrl, "start-url", "u", "", "The AWS access portal start url. Overrides sso_start_url from the settings file")
	cmd.PersistentFlags().StringVarP(&flags.ssoRegion, "sso-region", "", "", "Region the SSO portal is hosted in. Overrides sso_region from the settings file")
	cmd.PersistentFlags().BoolVarP(&flags.noBrowser, "no-browser", "", false, "Print the verification URL instead of opening a controlled browser")
	cmd.PersistentFlags().StringVarP(&flags.customExecutablePath, "executable-path", "", "", `Custom path to an executable

This needs to be a chromium like executable - e.g. Chrome, Chromium, Brave, Edge.

You can find out the path by opening your browser and typing in chrome|brave|edge://version
`)
	r.Cmd.AddCommand(cmd)
}
