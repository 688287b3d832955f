package credentialexchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrTokenNotFound = errors.New("no cached sso token for this start url - run `aws-sso-sync login`")
	ErrTokenExpired  = errors.New("cached sso token has expired - run `aws-sso-sync login`")
)

// CachedToken is a single entry deposited by the login flow into the
// token cache directory. Read-only to this tool's sync path.
type CachedToken struct {
	StartUrl    string    `json:"startUrl"`
	Region      string    `json:"region,omitempty"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Usable reports whether the token is still valid at the given instant.
func (t CachedToken) Usable(now time.Time) bool {
	return t.ExpiresAt.After(now)
}

// LocateToken scans cacheDir for the entry matching startUrl with the
// latest expiry.
//
// Individual entries that cannot be read or parsed are skipped - one
// corrupt cache file must never mask a valid one next to it. No matching
// entry yields ErrTokenNotFound; a matching but stale one ErrTokenExpired.
func LocateToken(cacheDir, startUrl string, now time.Time) (*CachedToken, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cacheDir, ErrCacheDirNotFound)
	}

	var best *CachedToken
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(cacheDir, entry.Name()))
		if err != nil {
			continue
		}
		tok := &CachedToken{}
		if err := json.Unmarshal(raw, tok); err != nil {
			continue
		}
		if tok.StartUrl != startUrl || tok.AccessToken == "" || tok.ExpiresAt.IsZero() {
			continue
		}
		if best == nil || tok.ExpiresAt.After(best.ExpiresAt) {
			best = tok
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%s: %w", startUrl, ErrTokenNotFound)
	}
	if !best.Usable(now) {
		return nil, fmt.Errorf("%s expired at %s: %w", startUrl, best.ExpiresAt.Format(time.RFC3339), ErrTokenExpired)
	}
	return best, nil
}
