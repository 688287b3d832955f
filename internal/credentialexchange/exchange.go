package credentialexchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/smithy-go"
)

var ErrExchange = errors.New("unable to exchange token for role credentials")

// TemporaryCredential is the short lived credential set fetched for one
// entitlement. Consumed within a single reconciliation pass, never cached
// here.
type TemporaryCredential struct {
	AccessKeyId     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Exchange fetches temporary credentials for a single (account, role)
// pair. callTimeout bounds the service call; a timed out call surfaces as
// an ExchangeError for this entitlement only.
func Exchange(ctx context.Context, svc SsoApi, accessToken string, ent Entitlement, callTimeout time.Duration) (*TemporaryCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := svc.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(accessToken),
		AccountId:   aws.String(ent.AccountId),
		RoleName:    aws.String(ent.RoleName),
	})
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrExchange, ent, err)
	}
	rc := out.RoleCredentials
	if rc == nil {
		return nil, fmt.Errorf("%w for %s: empty credential payload", ErrExchange, ent)
	}
	return &TemporaryCredential{
		AccessKeyId:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
		Expiration:      time.UnixMilli(rc.Expiration).UTC(),
	}, nil
}

// IsAuthError reports whether err indicates the access token itself is no
// longer accepted (expired or revoked mid run), as opposed to a per role
// failure. The orchestrator uses this to fail the remaining, not yet
// started entitlements without issuing doomed calls.
func IsAuthError(err error) bool {
	var unauthorized *ssotypes.UnauthorizedException
	if errors.As(err, &unauthorized) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnauthorizedException", "ExpiredTokenException", "InvalidGrantException":
			return true
		}
	}
	return false
}
