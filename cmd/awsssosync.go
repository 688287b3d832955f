package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version  string = "0.0.1"
	Revision string = "1111aaaa"
)

const defaultSettingsFile = "config.ini"

type Root struct {
	ctx       context.Context
	Cmd       *cobra.Command
	Log       zerolog.Logger
	rootFlags *rootCmdFlags
	Datadir   string
}

type rootCmdFlags struct {
	verbose bool
}

func New() *Root {
	rf := &rootCmdFlags{}
	r := &Root{
		rootFlags: rf,
		Log:       zerolog.Nop(),
		Cmd: &cobra.Command{
			Use:   "aws-sso-sync",
			Short: "Sync AWS SSO entitlements into named CLI profiles",
			Long: `Sync AWS SSO entitlements into named CLI profiles.
Authenticates once against the AWS access portal, discovers every account/role pair the identity can reach,
fetches temporary credentials per role and writes them as sso-<account>-<role> profiles into the shared
config and credentials files - without touching any unrelated profile sections`,
			Version:       fmt.Sprintf("%s-%s", Version, Revision),
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	}

	r.Cmd.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false, "Verbose output")
	r.Cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if rf.verbose {
			level = zerolog.DebugLevel
		}
		r.Log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
	}
	_ = r.dataDirInit()
	return r
}

// SubCommands is a standalone Builder helper
//
// IF you are making your sub commands public, you can just pass them directly `WithSubCommands`
func SubCommands() []func(*Root) {
	return []func(*Root){
		newSyncCmd,
		newLoginCmd,
		newVerifyCmd,
		newClearCmd,
	}
}

func (r *Root) WithSubCommands(iocFuncs ...func(rootCmd *Root)) {
	for _, fn := range iocFuncs {
		fn(r)
	}
}

func (r *Root) Execute(ctx context.Context) error {
	return r.Cmd.ExecuteContext(ctx)
}

func (r *Root) dataDirInit() error {
	datadir := path.Join(credentialexchange.HomeDir(), fmt.Sprintf(".%s-data", credentialexchange.SELF_NAME))
	r.Datadir = datadir
	if _, err := os.Stat(datadir); err != nil {
		return os.MkdirAll(datadir, 0755)
	}
	return nil
}

// settingsFromArgs loads the settings file, an optional single positional
// argument overriding the default location. A missing default file is not
// fatal - flags may carry the whole configuration.
func settingsFromArgs(args []string) (*credentialexchange.Settings, error) {
	settingsPath := defaultSettingsFile
	explicit := false
	if len(args) > 0 {
		settingsPath = args[0]
		explicit = true
	}
	settings, err := credentialexchange.LoadSettings(settingsPath)
	if err != nil {
		if !explicit && errors.Is(err, credentialexchange.ErrSettingsNotFound) {
			return credentialexchange.DefaultSettings(), nil
		}
		return nil, err
	}
	return settings, nil
}
