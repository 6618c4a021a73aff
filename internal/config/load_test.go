package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
token_store_path = "/var/lib/stepsync/tokens"
state_db_path = "/var/lib/stepsync/state.db"
max_credential_attempts = 3

[garmin]
sso_url = "https://sso.example.com"
api_url = "https://api.example.com"
connect_timeout = "5s"
data_timeout = "30s"
user_agent = "stepsync-test"

[tracker]
url = "https://tracker.example.com"

[sync]
default_days = 7
parallel_fetch = 2
requests_per_second = 0.5

[logging]
log_level = "debug"
log_file = "/tmp/stepsync.log"
log_retention_days = 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stepsync/tokens", cfg.TokenStorePath)
	assert.Equal(t, 3, cfg.MaxCredentialAttempts)
	assert.Equal(t, "https://sso.example.com", cfg.Garmin.SSOURL)
	assert.Equal(t, "stepsync-test", cfg.Garmin.UserAgent)
	assert.Equal(t, "https://tracker.example.com", cfg.Tracker.URL)
	assert.Equal(t, 7, cfg.Sync.DefaultDays)
	assert.InDelta(t, 0.5, cfg.Sync.RequestsPerSecond, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[sync]\ndefault_days = 3\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Sync.DefaultDays)
	assert.Equal(t, defaultParallelFetch, cfg.Sync.ParallelFetch)
	assert.Equal(t, defaultTokenStorePath, cfg.TokenStorePath)
	assert.Equal(t, defaultSSOURL, cfg.Garmin.SSOURL)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "this is not [valid toml")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
parallel_fetch = 0
default_days = 0

[logging]
log_level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.parallel_fetch")
	assert.Contains(t, err.Error(), "sync.default_days")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
token_store_path = "from-file"

[tracker]
url = "https://file.example.com"
token = "file-token"
`)

	// File only.
	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "from-file", r.TokenStorePath)
	assert.Equal(t, "file-token", r.Tracker.Token)
	assert.Equal(t, path, r.ConfigPath)

	// Env beats file.
	env := EnvOverrides{
		TokenStorePath: "from-env",
		TrackerToken:   "env-token",
		TrackerURL:     "https://env.example.com",
	}

	r, err = Resolve(env, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "from-env", r.TokenStorePath)
	assert.Equal(t, "env-token", r.Tracker.Token)
	assert.Equal(t, "https://env.example.com", r.Tracker.URL)

	// CLI beats env.
	cliStore := "from-cli"

	r, err = Resolve(env, CLIOverrides{ConfigPath: path, TokenStorePath: &cliStore})
	require.NoError(t, err)
	assert.Equal(t, "from-cli", r.TokenStorePath)
}

func TestResolve_ConfigPathFromEnv(t *testing.T) {
	path := writeTestConfig(t, "max_credential_attempts = 5\n")

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, 5, r.MaxCredentialAttempts)
}

func TestResolve_NoFileDefaults(t *testing.T) {
	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")})
	require.NoError(t, err)

	assert.Equal(t, "tokens", r.TokenStorePath)
	assert.Equal(t, defaultTrackerURL, r.Tracker.URL)
	assert.Equal(t, defaultDays, r.Sync.DefaultDays)
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	store := "~/stepsync-tokens"

	r, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath:     filepath.Join(t.TempDir(), "absent.toml"),
		TokenStorePath: &store,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "stepsync-tokens"), r.TokenStorePath)
}

func TestResolve_EmptyStorePathRejected(t *testing.T) {
	empty := " "

	_, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath:     filepath.Join(t.TempDir(), "absent.toml"),
		TokenStorePath: &empty,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_store_path")
}

func TestResolved_Timeouts(t *testing.T) {
	r := &Resolved{Config: *DefaultConfig()}

	assert.Equal(t, "10s", r.ConnectTimeout().String())
	assert.Equal(t, "1m0s", r.DataTimeout().String())
}
