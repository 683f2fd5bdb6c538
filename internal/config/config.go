package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ConfigFileName is looked up in the config dir; when absent the defaults
// are used as-is (and no file is written, unlike the platform app which
// persists its config eagerly).
const ConfigFileName = "xyz-config.json"

// APIConfig covers the authenticated platform API.
type APIConfig struct {
	BaseURL        string `json:"base_url" validate:"required,url"`
	WebBaseURL     string `json:"web_base_url" validate:"required,url"`
	TimeoutSeconds int    `json:"timeout" validate:"min=1"`
	MaxRetries     int    `json:"max_retries" validate:"min=0,max=10"`
	PageSize       int    `json:"page_size" validate:"min=1,max=100"`
}

// DownloadConfig covers the transfer engine.
type DownloadConfig struct {
	ChunkSize          int    `json:"chunk_size" validate:"min=512"`
	DownloadDir        string `json:"download_dir" validate:"required"`
	DataDir            string `json:"data_dir" validate:"required"`
	MaxRetries         int    `json:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds  int    `json:"retry_delay" validate:"min=0"`
	TimeoutSeconds     int    `json:"timeout" validate:"min=1"`
	Parallel           int    `json:"parallel" validate:"min=1,max=16"`
	PlaceholderBytes   int64  `json:"placeholder_bytes" validate:"min=0"`
	ProgressIntervalMS int    `json:"progress_interval_ms" validate:"min=10"`
}

// AuthConfig covers credential storage and token lifetime assumptions. The
// platform does not report an access-token expiry, so the TTL here is a
// working assumption validated against live behavior (a 401 always forces
// a refresh regardless).
type AuthConfig struct {
	CredentialsFile            string `json:"credentials_file" validate:"required"`
	AccessTokenTTLMinutes      int    `json:"access_token_ttl_minutes" validate:"min=1"`
	RefreshSafetyMarginSeconds int    `json:"refresh_safety_margin_seconds" validate:"min=0"`
}

type Config struct {
	API      APIConfig      `json:"api"`
	Download DownloadConfig `json:"download"`
	Auth     AuthConfig     `json:"auth"`

	// ConfigDir anchors relative paths (credentials file, data dir).
	ConfigDir string `json:"-"`
}

// Default returns the built-in configuration, matching the values the
// platform's mobile client tolerates.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "https://api.xiaoyuzhoufm.com",
			WebBaseURL:     "https://www.xiaoyuzhoufm.com",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			PageSize:       25,
		},
		Download: DownloadConfig{
			ChunkSize:          8192,
			DownloadDir:        "download",
			DataDir:            "data",
			MaxRetries:         3,
			RetryDelaySeconds:  2,
			TimeoutSeconds:     60,
			Parallel:           1,
			PlaceholderBytes:   1 << 20,
			ProgressIntervalMS: 150,
		},
		Auth: AuthConfig{
			CredentialsFile:            "credentials.json",
			AccessTokenTTLMinutes:      30,
			RefreshSafetyMarginSeconds: 60,
		},
		ConfigDir: ".",
	}
}

// Load builds the effective configuration: defaults, overlaid with
// xyz-config.json from configDir when present, then environment overrides.
// A .env file in the working directory is honored the same way system
// environment variables are.
func Load(configDir string) (Config, error) {
	cfg := Default()
	cfg.ConfigDir = configDir

	// Don't fail when no .env exists; system env may be set directly.
	_ = godotenv.Load()

	path := filepath.Join(configDir, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XYZ_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("XYZ_WEB_BASE_URL"); v != "" {
		cfg.API.WebBaseURL = v
	}
	if v := os.Getenv("XYZ_DOWNLOAD_DIR"); v != "" {
		cfg.Download.DownloadDir = v
	}
	if v := os.Getenv("XYZ_DATA_DIR"); v != "" {
		cfg.Download.DataDir = v
	}
	if v := os.Getenv("XYZ_CREDENTIALS_FILE"); v != "" {
		cfg.Auth.CredentialsFile = v
	}
	if v := os.Getenv("XYZ_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Download.Parallel = n
		}
	}
}

// Validate checks structural constraints on the configuration.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelaySeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RefreshSafetyMargin() time.Duration {
	return time.Duration(c.Auth.RefreshSafetyMarginSeconds) * time.Second
}

func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.Download.ProgressIntervalMS) * time.Millisecond
}

// CredentialsPath resolves the credentials file against the config dir.
func (c Config) CredentialsPath() string {
	if filepath.IsAbs(c.Auth.CredentialsFile) {
		return c.Auth.CredentialsFile
	}
	return filepath.Join(c.ConfigDir, c.Auth.CredentialsFile)
}

// DataPath resolves the catalog dump dir against the config dir.
func (c Config) DataPath() string {
	if filepath.IsAbs(c.Download.DataDir) {
		return c.Download.DataDir
	}
	return filepath.Join(c.ConfigDir, c.Download.DataDir)
}
