package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://api.xiaoyuzhoufm.com", cfg.API.BaseURL)
	assert.Equal(t, 25, cfg.API.PageSize)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.Equal(t, int64(1<<20), cfg.Download.PlaceholderBytes)
	assert.Equal(t, "credentials.json", cfg.Auth.CredentialsFile)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	overlay := `{"api": {"page_size": 10}, "download": {"parallel": 4}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(overlay), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.API.PageSize)
	assert.Equal(t, 4, cfg.Download.Parallel)
	// untouched keys keep defaults
	assert.Equal(t, "https://api.xiaoyuzhoufm.com", cfg.API.BaseURL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XYZ_API_BASE_URL", "https://example.test")
	t.Setenv("XYZ_PARALLEL", "3")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://example.test", cfg.API.BaseURL)
	assert.Equal(t, 3, cfg.Download.Parallel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	overlay := `{"download": {"parallel": 99}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(overlay), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestCredentialsPathResolution(t *testing.T) {
	cfg := Default()
	cfg.ConfigDir = "/tmp/confdir"
	assert.Equal(t, filepath.Join("/tmp/confdir", "credentials.json"), cfg.CredentialsPath())

	cfg.Auth.CredentialsFile = "/abs/creds.json"
	assert.Equal(t, "/abs/creds.json", cfg.CredentialsPath())
}
