package credentialexchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"gopkg.in/ini.v1"
)

var ErrProfileNotFound = errors.New("profile not present in the credentials store")

type StsApi interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// LoadStoredCredential reads a previously synced profile section back out
// of the credentials store.
func LoadStoredCredential(credentialsFile, profile string) (*TemporaryCredential, error) {
	f, err := ini.Load(credentialsFile)
	if err != nil {
		return nil, err
	}
	sec, err := f.GetSection(profile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", profile, ErrProfileNotFound)
	}
	return &TemporaryCredential{
		AccessKeyId:     sec.Key("aws_access_key_id").String(),
		SecretAccessKey: sec.Key("aws_secret_access_key").String(),
		SessionToken:    sec.Key("aws_session_token").String(),
	}, nil
}

// VerifyIdentity proves a synced profile is usable by asking STS who the
// credentials belong to.
func VerifyIdentity(ctx context.Context, svc StsApi) (string, error) {
	out, err := svc.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Arn), nil
}
