// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for stepsync. Values resolve through a
// four-layer override chain: defaults -> config file -> environment (including
// a .env file in the working directory) -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	TokenStorePath        string `toml:"token_store_path" json:"token_store_path"`
	StateDBPath           string `toml:"state_db_path" json:"state_db_path"`
	MaxCredentialAttempts int    `toml:"max_credential_attempts" json:"max_credential_attempts"`

	Garmin  GarminConfig  `toml:"garmin" json:"garmin"`
	Tracker TrackerConfig `toml:"tracker" json:"tracker"`
	Sync    SyncConfig    `toml:"sync" json:"sync"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// GarminConfig controls the provider endpoints and HTTP client.
type GarminConfig struct {
	SSOURL         string `toml:"sso_url" json:"sso_url"`
	APIURL         string `toml:"api_url" json:"api_url"`
	ConnectTimeout string `toml:"connect_timeout" json:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout" json:"data_timeout"`
	UserAgent      string `toml:"user_agent" json:"user_agent"`
}

// TrackerConfig locates the step tracker. The token is normally supplied via
// TRACKER_TOKEN rather than written to the file.
type TrackerConfig struct {
	URL   string `toml:"url" json:"url"`
	Token string `toml:"token" json:"token"`
}

// SyncConfig controls the step sync.
type SyncConfig struct {
	DefaultDays       int     `toml:"default_days" json:"default_days"`
	ParallelFetch     int     `toml:"parallel_fetch" json:"parallel_fetch"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// LoggingConfig controls log output: level and optional rotated file.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level" json:"log_level"`
	LogFile          string `toml:"log_file" json:"log_file"`
	LogRetentionDays int    `toml:"log_retention_days" json:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set".
type CLIOverrides struct {
	ConfigPath     string  // --config flag (empty = use default)
	TokenStorePath *string // --token-store flag
}

// Resolved is the effective configuration after all override layers.
type Resolved struct {
	Config

	// ConfigPath is the file the configuration was read from. The file may
	// not exist, in which case only defaults and overrides apply.
	ConfigPath string `json:"config_path"`
}
