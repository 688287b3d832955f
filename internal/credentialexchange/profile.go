package credentialexchange

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/werf/lockgate"
	"gopkg.in/ini.v1"
)

var (
	ErrUnmanagedSection  = errors.New("section name is outside the managed sso profile namespace")
	ErrStoreLock         = errors.New("unable to acquire store lock")
	ErrPartiallyApplied  = errors.New("profile config written but credentials store update failed - re-run to repair")
	managedSectionRegexp = regexp.MustCompile(`^(profile )?sso-\d{12}-.+$`)
)

const storeLockTimeout = 30 * time.Second

// Field is one key/value entry of a profile section. Ordered, so that
// repeated runs serialize sections byte-identically.
type Field struct {
	Key   string
	Value string
}

// Store is one physical ini backed profile store. Upserts are serialized
// per store: an in-process mutex guards concurrent workers of this run, a
// lockgate file lock guards concurrent processes. Every upsert rewrites
// the whole file through a temp file rename so no half-written section is
// ever observable.
type Store struct {
	path   string
	locker lockgate.Locker
	mu     sync.Mutex
}

func NewStore(path string, locker lockgate.Locker) *Store {
	return &Store{path: path, locker: locker}
}

// Upsert replaces the field set of the named section, or appends the
// section if absent, leaving every other section and its order untouched.
// Only section names within the managed sso namespace are accepted.
func (s *Store) Upsert(section string, fields []Field) error {
	if !managedSectionRegexp.MatchString(section) {
		return fmt.Errorf("%s: %w", section, ErrUnmanagedSection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return lockgate.WithAcquire(s.locker, filepath.Base(s.path), lockgate.AcquireOptions{Shared: false, Timeout: storeLockTimeout}, func(acquired bool) error {
		if !acquired {
			return fmt.Errorf("%s: %w", s.path, ErrStoreLock)
		}
		f, err := ini.LooseLoad(s.path)
		if err != nil {
			return err
		}
		sec, err := f.GetSection(section)
		if err != nil {
			sec, err = f.NewSection(section)
			if err != nil {
				return err
			}
		}
		// drop stale keys from a previous schema before re-populating
		for _, key := range sec.KeyStrings() {
			sec.DeleteKey(key)
		}
		for _, field := range fields {
			if _, err := sec.NewKey(field.Key, field.Value); err != nil {
				return err
			}
		}
		return atomicSave(f, s.path)
	})
}

// atomicSave serializes the whole store into a temp file next to the
// target and renames it over, so interrupts leave the previous intact.
func atomicSave(f *ini.File, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Writer upserts one profile into both physical stores for each fetched
// credential: connection parameters into the config store, secret material
// into the credentials store only.
type Writer struct {
	Config      *Store
	Credentials *Store
	settings    *Settings
}

func NewWriter(paths *Paths, settings *Settings, locker lockgate.Locker) *Writer {
	return &Writer{
		Config:      NewStore(paths.ConfigFile, locker),
		Credentials: NewStore(paths.CredentialsFile, locker),
		settings:    settings,
	}
}

// Write upserts both sections for the entitlement. A failure after the
// config store was already updated wraps ErrPartiallyApplied so the caller
// can report exactly which entitlement needs a re-run.
func (w *Writer) Write(ent Entitlement, cred *TemporaryCredential) error {
	profile := ent.ProfileName()

	if err := w.Config.Upsert("profile "+profile, []Field{
		{"region", w.settings.Aws.DefaultRegion},
		{"output", w.settings.Aws.OutputFormat},
		{"sso_start_url", w.settings.Aws.SsoStartUrl},
		{"sso_region", w.settings.Aws.SsoRegion},
	}); err != nil {
		return err
	}

	if err := w.Credentials.Upsert(profile, []Field{
		{"aws_access_key_id", cred.AccessKeyId},
		{"aws_secret_access_key", cred.SecretAccessKey},
		{"aws_session_token", cred.SessionToken},
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPartiallyApplied, err)
	}
	return nil
}
