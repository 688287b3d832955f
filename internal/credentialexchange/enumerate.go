package credentialexchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
)

var ErrListAccounts = errors.New("unable to list accessible accounts")

// SsoApi is the slice of the AWS SSO portal API the engine consumes.
//
// The two embedded interfaces are the SDK generated paginator clients,
// so a *sso.Client satisfies this directly and tests can fake it.
type SsoApi interface {
	sso.ListAccountsAPIClient
	sso.ListAccountRolesAPIClient
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
}

// Entitlement is one authorized (account, role) pair discovered for the
// current token. Transient - never persisted.
type Entitlement struct {
	AccountId string
	RoleName  string
}

func (e Entitlement) String() string {
	return fmt.Sprintf("%s/%s", e.AccountId, e.RoleName)
}

// ProfileName derives the deterministic profile section name for this
// pair. Account id and role name are taken verbatim, no normalisation.
func (e Entitlement) ProfileName() string {
	return fmt.Sprintf("%s-%s-%s", PROFILE_PREFIX, e.AccountId, e.RoleName)
}

// ConsoleUrl renders the deep link into the provider web console.
// The template is byte-exact per the console redirector contract.
func (e Entitlement) ConsoleUrl(startUrl string) string {
	return fmt.Sprintf(CONSOLE_TEMPLATE, startUrl, e.AccountId, e.RoleName)
}

// AccountFailure records an account whose role listing failed; the run
// continues without it.
type AccountFailure struct {
	AccountId string
	Err       error
}

// Enumerate lists every reachable (account, role) pair for the token,
// pagination hidden, in source order: accounts as returned by the portal,
// roles as returned per account. Duplicate pairs are dropped.
//
// A failure listing accounts is fatal (no partial account list is
// meaningful). A failure listing roles for one account is degraded to an
// AccountFailure and enumeration moves on to the next account.
func Enumerate(ctx context.Context, svc SsoApi, accessToken string) ([]Entitlement, []AccountFailure, error) {
	entitlements := []Entitlement{}
	failures := []AccountFailure{}
	seen := map[Entitlement]bool{}

	accounts := sso.NewListAccountsPaginator(svc, &sso.ListAccountsInput{
		AccessToken: aws.String(accessToken),
	})
	for accounts.HasMorePages() {
		page, err := accounts.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrListAccounts, err)
		}
		for _, account := range page.AccountList {
			accountId := aws.ToString(account.AccountId)
			roles := sso.NewListAccountRolesPaginator(svc, &sso.ListAccountRolesInput{
				AccessToken: aws.String(accessToken),
				AccountId:   account.AccountId,
			})
			for roles.HasMorePages() {
				rolePage, err := roles.NextPage(ctx)
				if err != nil {
					failures = append(failures, AccountFailure{AccountId: accountId, Err: err})
					break
				}
				for _, role := range rolePage.RoleList {
					ent := Entitlement{AccountId: accountId, RoleName: aws.ToString(role.RoleName)}
					if seen[ent] {
						continue
					}
					seen[ent] = true
					entitlements = append(entitlements, ent)
				}
			}
		}
	}
	return entitlements, failures, nil
}
