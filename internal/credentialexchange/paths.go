package credentialexchange

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrCacheDirNotFound = errors.New("sso token cache directory not found - run `aws-sso-sync login` first")

// Paths holds the resolved on-disk locations of the two profile stores
// and the token cache.
type Paths struct {
	AwsDir          string
	ConfigFile      string
	CredentialsFile string
	SsoCacheDir     string
}

// HomeDir returns the current user home. Both stores and the token
// cache are anchored under it, there is no fallback location.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return home
}

// ResolvePaths computes the store and cache locations under home from the
// configured relative segments. It never creates anything - a missing token
// cache dir means no login was ever performed on this machine.
func ResolvePaths(home string, s *Settings) (*Paths, error) {
	awsDir := filepath.Join(home, s.Paths.AwsFolderName)
	p := &Paths{
		AwsDir:          awsDir,
		ConfigFile:      filepath.Join(awsDir, s.Paths.ConfigFile),
		CredentialsFile: filepath.Join(awsDir, s.Paths.CredentialsFile),
		SsoCacheDir:     filepath.Join(awsDir, s.Paths.SsoCacheFolder),
	}
	if _, err := os.Stat(p.SsoCacheDir); err != nil {
		return nil, fmt.Errorf("%s: %w", p.SsoCacheDir, ErrCacheDirNotFound)
	}
	return p, nil
}
