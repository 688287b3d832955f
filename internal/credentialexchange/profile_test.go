package credentialexchange_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DevLabFoundry/aws-sso-sync/internal/credentialexchange"
	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"
)

func newTestLocker(t *testing.T) lockgate.Locker {
	t.Helper()
	locker, err := file_locker.NewFileLocker(filepath.Join(t.TempDir(), "locks"))
	if err != nil {
		t.Fatal(err)
	}
	return locker
}

func readStore(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func Test_Store_Upsert_rejects_unmanaged_sections(t *testing.T) {
	store := credentialexchange.NewStore(filepath.Join(t.TempDir(), "credentials"), newTestLocker(t))

	ttests := map[string]string{
		"plain profile":        "default",
		"wrong prefix":         "prod-111111111111-Admin",
		"short account id":     "sso-1234-Admin",
		"missing role segment": "sso-111111111111-",
	}
	for name, section := range ttests {
		t.Run(name, func(t *testing.T) {
			err := store.Upsert(section, []credentialexchange.Field{{Key: "k", Value: "v"}})
			if !errors.Is(err, credentialexchange.ErrUnmanagedSection) {
				t.Errorf("got %v, wanted %v", err, credentialexchange.ErrUnmanagedSection)
			}
		})
	}
}

func Test_Store_Upsert_preserves_unrelated_sections_and_order(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials")
	preExisting := `[default]
aws_access_key_id     = AKIADEFAULT
aws_secret_access_key = handcrafted

[work]
region = us-east-1
`
	if err := os.WriteFile(path, []byte(preExisting), 0600); err != nil {
		t.Fatal(err)
	}

	store := credentialexchange.NewStore(path, newTestLocker(t))
	if err := store.Upsert("sso-111111111111-ReadOnly", []credentialexchange.Field{
		{Key: "aws_access_key_id", Value: "AKIANEW"},
	}); err != nil {
		t.Fatal(err)
	}

	got := readStore(t, path)
	defaultIdx := strings.Index(got, "[default]")
	workIdx := strings.Index(got, "[work]")
	ssoIdx := strings.Index(got, "[sso-111111111111-ReadOnly]")
	if defaultIdx < 0 || workIdx < 0 || ssoIdx < 0 {
		t.Fatalf("missing sections in:\n%s", got)
	}
	if !(defaultIdx < workIdx && workIdx < ssoIdx) {
		t.Errorf("section order changed:\n%s", got)
	}
	if !strings.Contains(got, "AKIADEFAULT") || !strings.Contains(got, "handcrafted") {
		t.Errorf("pre-existing content lost:\n%s", got)
	}
}

func Test_Store_Upsert_replaces_field_set_entirely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	store := credentialexchange.NewStore(path, newTestLocker(t))

	if err := store.Upsert("sso-111111111111-ReadOnly", []credentialexchange.Field{
		{Key: "aws_access_key_id", Value: "OLD"},
		{Key: "stale_key_from_old_schema", Value: "leftover"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert("sso-111111111111-ReadOnly", []credentialexchange.Field{
		{Key: "aws_access_key_id", Value: "NEW"},
	}); err != nil {
		t.Fatal(err)
	}

	got := readStore(t, path)
	if strings.Contains(got, "stale_key_from_old_schema") {
		t.Errorf("stale field survived the upsert:\n%s", got)
	}
	if !strings.Contains(got, "NEW") {
		t.Errorf("new value missing:\n%s", got)
	}
}

func Test_Store_Upsert_is_idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	store := credentialexchange.NewStore(path, newTestLocker(t))
	fields := []credentialexchange.Field{
		{Key: "aws_access_key_id", Value: "AKIA123"},
		{Key: "aws_secret_access_key", Value: "s3cret"},
		{Key: "aws_session_token", Value: "tok"},
	}

	if err := store.Upsert("sso-111111111111-ReadOnly", fields); err != nil {
		t.Fatal(err)
	}
	first := readStore(t, path)
	if err := store.Upsert("sso-111111111111-ReadOnly", fields); err != nil {
		t.Fatal(err)
	}
	second := readStore(t, path)
	if first != second {
		t.Errorf("repeated upsert changed bytes:\n%s\nvs\n%s", first, second)
	}
}

func Test_Writer_reports_partial_application(t *testing.T) {
	dir := t.TempDir()
	// a directory where the credentials file should be makes the second
	// store write fail after the config store already succeeded
	if err := os.MkdirAll(filepath.Join(dir, "credentials"), 0755); err != nil {
		t.Fatal(err)
	}
	settings := credentialexchange.DefaultSettings()
	settings.Aws.SsoStartUrl = testStartUrl
	paths := &credentialexchange.Paths{
		AwsDir:          dir,
		ConfigFile:      filepath.Join(dir, "config"),
		CredentialsFile: filepath.Join(dir, "credentials"),
	}
	writer := credentialexchange.NewWriter(paths, settings, newTestLocker(t))

	err := writer.Write(
		credentialexchange.Entitlement{AccountId: "111111111111", RoleName: "ReadOnly"},
		&credentialexchange.TemporaryCredential{AccessKeyId: "AKIA", SecretAccessKey: "s", SessionToken: "t"},
	)
	if !errors.Is(err, credentialexchange.ErrPartiallyApplied) {
		t.Errorf("got %v, wanted %v", err, credentialexchange.ErrPartiallyApplied)
	}
	if _, statErr := os.Stat(paths.ConfigFile); statErr != nil {
		t.Error("config store should have been written before the failure")
	}
}

func Test_Writer_writes_no_secret_material_into_config_store(t *testing.T) {
	dir := t.TempDir()
	settings := credentialexchange.DefaultSettings()
	settings.Aws.SsoStartUrl = testStartUrl
	settings.Aws.SsoRegion = "eu-west-1"
	settings.Aws.DefaultRegion = "eu-west-1"
	paths := &credentialexchange.Paths{
		AwsDir:          dir,
		ConfigFile:      filepath.Join(dir, "config"),
		CredentialsFile: filepath.Join(dir, "credentials"),
	}
	writer := credentialexchange.NewWriter(paths, settings, newTestLocker(t))

	if err := writer.Write(
		credentialexchange.Entitlement{AccountId: "111111111111", RoleName: "ReadOnly"},
		&credentialexchange.TemporaryCredential{AccessKeyId: "AKIA", SecretAccessKey: "sup3rs3cret", SessionToken: "sessiontok"},
	); err != nil {
		t.Fatal(err)
	}

	configStore := readStore(t, paths.ConfigFile)
	if !strings.Contains(configStore, "[profile sso-111111111111-ReadOnly]") {
		t.Errorf("missing profile section:\n%s", configStore)
	}
	for _, secret := range []string{"sup3rs3cret", "sessiontok", "AKIA"} {
		if strings.Contains(configStore, secret) {
			t.Errorf("secret material %q leaked into the config store", secret)
		}
	}
	credentialsStore := readStore(t, paths.CredentialsFile)
	if !strings.Contains(credentialsStore, "[sso-111111111111-ReadOnly]") {
		t.Errorf("missing credentials section:\n%s", credentialsStore)
	}
	if !strings.Contains(credentialsStore, "sup3rs3cret") {
		t.Errorf("secret key missing from credentials store:\n%s", credentialsStore)
	}
}
