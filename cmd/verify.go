package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"
)

type verifyCmdFlags struct {
	profile string
	region  string
}

func newVerifyCmd(r *Root) {
	flags := &verifyCmdFlags{}

	cmd := &cobra.Command{
		Use:   "verify [settings file]",
		Short: "Check a synced profile actually works",
		Long: `Check a synced profile actually works.
Reads the named profile back out of the credentials store and asks STS who the credentials belong to`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := settingsFromArgs(args)
			if err != nil {
				return err
			}
			credentialsFile := filepath.Join(credentialexchange.HomeDir(), settings.Paths.AwsFolderName, settings.Paths.CredentialsFile)
			cred, err := credentialexchange.LoadStoredCredential(credentialsFile, flags.profile)
			if err != nil {
				return err
			}

			region := flags.region
			if region == "" {
				region = settings.Aws.DefaultRegion
			}
			awsConf, err := config.LoadDefaultConfig(ctx,
				config.WithRegion(region),
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cred.AccessKeyId, cred.SecretAccessKey, cred.SessionToken)),
			)
			if err != nil {
				return fmt.Errorf("failed to create session %s, %w", err, ErrUnableToCreateSession)
			}

			arn, err := credentialexchange.VerifyIdentity(ctx, sts.NewFromConfig(awsConf))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s => %s\n", flags.profile, arn)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", "", "Name of a synced profile, e.g. sso-111111111111-ReadOnly")
	cmd.PersistentFlags().StringVarP(&flags.region, "region", "r", "", "Region to call STS in, defaults to the profile default region")
	_ = cmd.MarkPersistentFlagRequired("profile")
	r.Cmd.AddCommand(cmd)
}
