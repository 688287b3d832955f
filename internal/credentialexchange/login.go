package credentialexchange

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

var (
	ErrDeviceFlow    = errors.New("device authorization flow failed")
	ErrLoginAborted  = errors.New("login aborted before the device code was approved")
	ErrLoginTimedOut = errors.New("device authorization expired before approval")
)

// OidcApi is the slice of the SSO OIDC service the login flow consumes.
type OidcApi interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// Verification is handed to the caller so it can surface the approval
// page, in a browser or as a printed URL.
type Verification struct {
	Url      string
	UserCode string
}

// DeviceLogin runs the OIDC device authorization handshake and returns a
// token ready to be deposited into the cache.
//
// openVerification is called once with the approval page; the returned
// channel, if non nil, aborts the poll when the user walks away (e.g.
// closes the browser).
func DeviceLogin(ctx context.Context, svc OidcApi, startUrl string, openVerification func(Verification) <-chan error) (*CachedToken, error) {
	registered, err := svc.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(SELF_NAME),
		ClientType: aws.String("public"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceFlow, err)
	}

	device, err := svc.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     registered.ClientId,
		ClientSecret: registered.ClientSecret,
		StartUrl:     aws.String(startUrl),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceFlow, err)
	}

	abandoned := openVerification(Verification{
		Url:      aws.ToString(device.VerificationUriComplete),
		UserCode: aws.ToString(device.UserCode),
	})

	interval := time.Duration(device.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(device.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLoginAborted, ctx.Err())
		case err := <-abandoned:
			return nil, fmt.Errorf("%w: %w", ErrLoginAborted, err)
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, ErrLoginTimedOut
		}

		created, err := svc.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     registered.ClientId,
			ClientSecret: registered.ClientSecret,
			DeviceCode:   device.DeviceCode,
			GrantType:    aws.String(deviceGrantType),
		})
		if err != nil {
			var pending *oidctypes.AuthorizationPendingException
			if errors.As(err, &pending) {
				continue
			}
			var slowDown *oidctypes.SlowDownException
			if errors.As(err, &slowDown) {
				interval += 5 * time.Second
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrDeviceFlow, err)
		}

		return &CachedToken{
			StartUrl:    startUrl,
			AccessToken: aws.ToString(created.AccessToken),
			ExpiresAt:   time.Now().Add(time.Duration(created.ExpiresIn) * time.Second).UTC(),
		}, nil
	}
}

// SaveCachedToken deposits the token into cacheDir in the same record
// shape LocateToken consumes: a JSON file named after the SHA-1 of the
// start url. Written through a temp file rename.
func SaveCachedToken(cacheDir string, token *CachedToken) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(token.StartUrl))
	path := filepath.Join(cacheDir, hex.EncodeToString(sum[:])+".json")

	raw, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(cacheDir, "token.*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return path, os.Rename(tmp.Name(), path)
}

// RemoveCachedTokens deletes cache entries for startUrl, or every entry
// when all is set. Returns how many files were removed; unparseable
// entries are left alone unless all is set.
func RemoveCachedTokens(cacheDir, startUrl string, all bool) (int, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(cacheDir, entry.Name())
		if !all {
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			tok := &CachedToken{}
			if err := json.Unmarshal(raw, tok); err != nil || tok.StartUrl != startUrl {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
