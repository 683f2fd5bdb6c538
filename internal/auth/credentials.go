package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNoCredentials is returned by a store when nothing has been saved yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the long-lived credential record: a refresh token bound to
// the device id it was issued for. The file layout stays compatible with
// the credentials.json written by earlier versions of the tool, including a
// legacy access_token key that is tolerated on load and never written back
// (access tokens are session state, not credentials).
type Credentials struct {
	RefreshToken string    `json:"refresh_token"`
	DeviceID     string    `json:"device_id"`
	AccessToken  string    `json:"access_token,omitempty"`
	SaveTime     time.Time `json:"save_time,omitempty"`
}

// Validate enforces the both-or-neither invariant before any network call:
// a refresh token without its device id cannot be used.
func (c *Credentials) Validate() error {
	if c == nil {
		return ErrNoCredentials
	}
	if c.RefreshToken == "" || c.DeviceID == "" {
		return &Error{
			Kind: KindInvalidCredentials,
			Op:   "validate credentials",
			Err:  errors.New("refresh token and device id must both be present"),
		}
	}
	return nil
}

// NewDeviceID mints a device identifier for a fresh login.
func NewDeviceID() string {
	return uuid.NewString()
}

// CredentialStore persists the credential record. Re-authentication or
// token rotation replaces the whole record.
type CredentialStore interface {
	Load() (*Credentials, error)
	Save(*Credentials) error
}

// FileStore keeps credentials in a human-readable JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load reads and validates the stored record. A missing file yields
// ErrNoCredentials so callers can distinguish "log in first" from a
// corrupt file.
func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read credentials %s: %w", s.path, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Save writes the record atomically with owner-only permissions. The
// legacy access_token field is dropped on write.
func (s *FileStore) Save(creds *Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	out := *creds
	out.AccessToken = ""
	out.SaveTime = time.Now()

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
