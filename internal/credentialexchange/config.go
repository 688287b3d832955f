package credentialexchange

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

const (
	SELF_NAME        = "aws-sso-sync"
	AWS_SECTION      = "aws"
	PATHS_SECTION    = "paths"
	PROFILE_ENV_VAR  = "AWS_DEFAULT_PROFILE"
	PROFILE_PREFIX   = "sso"
	CONSOLE_TEMPLATE = "%s/#/console?account_id=%s&role_name=%s"
)

var (
	ErrSettingsNotFound = errors.New("settings file not found")
	ErrMissingStartUrl  = errors.New("sso_start_url must be set in the [aws] section")
)

// AwsSettings is the [aws] section of the settings file.
type AwsSettings struct {
	SsoProfile    string `ini:"sso_profile"`
	SsoStartUrl   string `ini:"sso_start_url"`
	SsoRegion     string `ini:"sso_region"`
	DefaultRegion string `ini:"default_region"`
	OutputFormat  string `ini:"output_format"`
}

// PathSettings is the [paths] section of the settings file.
//
// All values are segments relative to the user home directory,
// defaulting to the standard AWS CLI layout.
type PathSettings struct {
	AwsFolderName   string `ini:"aws_folder_name"`
	ConfigFile      string `ini:"config_file"`
	CredentialsFile string `ini:"credentials_file"`
	SsoCacheFolder  string `ini:"sso_cache_folder"`
}

type Settings struct {
	Aws   AwsSettings
	Paths PathSettings
}

// DefaultSettings returns the AWS CLI compatible layout with json output.
func DefaultSettings() *Settings {
	return &Settings{
		Aws: AwsSettings{
			OutputFormat: "json",
		},
		Paths: PathSettings{
			AwsFolderName:   ".aws",
			ConfigFile:      "config",
			CredentialsFile: "credentials",
			SsoCacheFolder:  "sso/cache",
		},
	}
}

// LoadSettings reads the settings ini and overlays it on the defaults.
func LoadSettings(path string) (*Settings, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrSettingsNotFound)
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	s := DefaultSettings()
	if sec, err := f.GetSection(AWS_SECTION); err == nil {
		if err := sec.MapTo(&s.Aws); err != nil {
			return nil, err
		}
	}
	if sec, err := f.GetSection(PATHS_SECTION); err == nil {
		if err := sec.MapTo(&s.Paths); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Validate checks the parts of the settings the core cannot run without.
func (s *Settings) Validate() error {
	if s.Aws.SsoStartUrl == "" {
		return ErrMissingStartUrl
	}
	return nil
}
