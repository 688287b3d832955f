package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/spf13/cobra"
	"github.com/werf/lockgate/pkg/file_locker"
)

var ErrUnableToCreateSession = errors.New("sso - cannot start a new session")

type SyncCmdFlags struct {
	StartUrl    string
	SsoRegion   string
	Region      string
	Output      string
	Concurrency int
	CallTimeout int
}

func newSyncCmd(r *Root) {
	flags := &SyncCmdFlags{}

	cmd := &cobra.Command{
		Use:   "sync [settings file]",
		Short: "Reconcile every reachable account/role into local profiles",
		Long: `Reconcile every reachable account/role into local profiles.
Uses the cached SSO access token (see the login command), lists the accounts and roles the
identity is entitled to, fetches temporary credentials per role and upserts one
sso-<account>-<role> profile per pair into the config and credentials files.
Per role failures do not abort the run - the summary lists exactly what succeeded and what to re-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := settingsFromArgs(args)
			if err != nil {
				return err
			}
			if err := ConfigFromFlags(settings, flags); err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			paths, err := credentialexchange.ResolvePaths(credentialexchange.HomeDir(), settings)
			if err != nil {
				return err
			}

			// the client level timeout also bounds the paginated listing
			// calls, which run outside the per exchange timeout
			awsConf, err := config.LoadDefaultConfig(ctx,
				config.WithRegion(settings.Aws.SsoRegion),
				config.WithHTTPClient(&http.Client{Timeout: 2 * time.Duration(flags.CallTimeout) * time.Second}),
			)
			if err != nil {
				return fmt.Errorf("failed to create session %s, %w", err, ErrUnableToCreateSession)
			}
			svc := sso.NewFromConfig(awsConf)

			locker, err := file_locker.NewFileLocker(filepath.Join(r.Datadir, "locks"))
			if err != nil {
				return err
			}
			writer := credentialexchange.NewWriter(paths, settings, locker)

			summary, err := credentialexchange.NewOrchestrator(svc, writer, settings, r.Log).
				WithConcurrency(flags.Concurrency).
				WithCallTimeout(time.Duration(flags.CallTimeout) * time.Second).
				Run(ctx, paths)
			if err != nil {
				return err
			}
			summary.Render(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.StartUrl, "start-url", "u", "", `The AWS access portal start url, e.g. https://acme.awsapps.com/start.
Overrides sso_start_url from the settings file`)
	cmd.PersistentFlags().StringVarP(&flags.SsoRegion, "sso-region", "", "", "Region the SSO portal is hosted in. Overrides sso_region from the settings file")
	cmd.PersistentFlags().StringVarP(&flags.Region, "region", "r", "", "Default region written into each generated profile")
	cmd.PersistentFlags().StringVarP(&flags.Output, "output", "o", "", "Output format written into each generated profile")
	cmd.PersistentFlags().IntVarP(&flags.Concurrency, "concurrency", "c", 4, "Number of parallel credential exchanges. 1 processes roles sequentially")
	cmd.PersistentFlags().IntVarP(&flags.CallTimeout, "call-timeout", "", 30, "Timeout in seconds applied to each credential exchange call")
	r.Cmd.AddCommand(cmd)
}

// ConfigFromFlags overlays command line values on top of the settings file
// values - anything set on the command line wins.
func ConfigFromFlags(fileSettings *credentialexchange.Settings, sf *SyncCmdFlags) error {
	flagAws := credentialexchange.AwsSettings{
		SsoStartUrl:   sf.StartUrl,
		SsoRegion:     sf.SsoRegion,
		DefaultRegion: sf.Region,
		OutputFormat:  sf.Output,
	}
	return mergo.Merge(&fileSettings.Aws, flagAws, mergo.WithOverride)
}
