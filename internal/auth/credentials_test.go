package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundtrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))

	in := &Credentials{RefreshToken: "rt-1", DeviceID: "dev-1"}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "rt-1", out.RefreshToken)
	assert.Equal(t, "dev-1", out.DeviceID)
	assert.False(t, out.SaveTime.IsZero())
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestFileStoreRejectsIncompleteRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	// refresh token without a device id violates the invariant
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token": "rt-1"}`), 0o600))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidCredentials))
}

func TestFileStoreToleratesLegacyAccessToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	legacy := `{
  "access_token": "stale-at",
  "refresh_token": "rt-1",
  "device_id": "dev-1",
  "save_time": "2025-01-02T03:04:05Z"
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	store := NewFileStore(path)
	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "rt-1", creds.RefreshToken)

	// the legacy access_token key is not written back
	require.NoError(t, store.Save(creds))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "access_token")
}

func TestFileStoreSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(&Credentials{RefreshToken: "rt", DeviceID: "dev"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestValidateBothOrNeither(t *testing.T) {
	var nilCreds *Credentials
	assert.True(t, errors.Is(nilCreds.Validate(), ErrNoCredentials))

	assert.Error(t, (&Credentials{RefreshToken: "rt"}).Validate())
	assert.Error(t, (&Credentials{DeviceID: "dev"}).Validate())
	assert.NoError(t, (&Credentials{RefreshToken: "rt", DeviceID: "dev"}).Validate())
}

func TestNewDeviceID(t *testing.T) {
	a, b := NewDeviceID(), NewDeviceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
