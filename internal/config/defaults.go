package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultTokenStorePath        = "tokens"
	defaultMaxCredentialAttempts = 0
	defaultSSOURL                = "https://sso.garmin.com"
	defaultAPIURL                = "https://connectapi.garmin.com"
	defaultConnectTimeout        = "10s"
	defaultDataTimeout           = "60s"
	defaultTrackerURL            = "https://steps.mayb.gay"
	defaultDays                  = 1
	defaultParallelFetch         = 4
	defaultRequestsPerSecond     = 2.0
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenStorePath:        defaultTokenStorePath,
		StateDBPath:           DefaultStateDBPath(),
		MaxCredentialAttempts: defaultMaxCredentialAttempts,
		Garmin: GarminConfig{
			SSOURL:         defaultSSOURL,
			APIURL:         defaultAPIURL,
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		Tracker: TrackerConfig{
			URL: defaultTrackerURL,
		},
		Sync: SyncConfig{
			DefaultDays:       defaultDays,
			ParallelFetch:     defaultParallelFetch,
			RequestsPerSecond: defaultRequestsPerSecond,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
