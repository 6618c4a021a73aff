package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConnectTimeout   = 1 * time.Second
	minDataTimeout      = 5 * time.Second
	minParallelFetch    = 1
	maxParallelFetch    = 16
	minDays             = 1
	maxDays             = 366
	minLogRetention     = 1
	maxRequestsPerSec   = 50
	maxCredentialTrials = 100
)

// Validate checks all configuration values and returns all errors found,
// not only the first.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.TokenStorePath) == "" {
		errs = append(errs, errors.New("token_store_path: must not be empty"))
	}

	if cfg.MaxCredentialAttempts < 0 || cfg.MaxCredentialAttempts > maxCredentialTrials {
		errs = append(errs, fmt.Errorf("max_credential_attempts: must be between 0 and %d, got %d",
			maxCredentialTrials, cfg.MaxCredentialAttempts))
	}

	errs = append(errs, validateGarmin(&cfg.Garmin)...)
	errs = append(errs, validateTracker(&cfg.Tracker)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateGarmin(g *GarminConfig) []error {
	var errs []error

	errs = append(errs, validateURL("garmin.sso_url", g.SSOURL)...)
	errs = append(errs, validateURL("garmin.api_url", g.APIURL)...)
	errs = append(errs, validateDurationMin("garmin.connect_timeout", g.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("garmin.data_timeout", g.DataTimeout, minDataTimeout)...)

	return errs
}

func validateTracker(t *TrackerConfig) []error {
	return validateURL("tracker.url", t.URL)
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.DefaultDays < minDays || s.DefaultDays > maxDays {
		errs = append(errs, fmt.Errorf("sync.default_days: must be between %d and %d, got %d",
			minDays, maxDays, s.DefaultDays))
	}

	if s.ParallelFetch < minParallelFetch || s.ParallelFetch > maxParallelFetch {
		errs = append(errs, fmt.Errorf("sync.parallel_fetch: must be between %d and %d, got %d",
			minParallelFetch, maxParallelFetch, s.ParallelFetch))
	}

	if s.RequestsPerSecond < 0 || s.RequestsPerSecond > maxRequestsPerSec {
		errs = append(errs, fmt.Errorf("sync.requests_per_second: must be between 0 and %d, got %g",
			maxRequestsPerSec, s.RequestsPerSecond))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

func validateURL(field, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}

// ConnectTimeout returns the parsed garmin.connect_timeout. Validate has
// already rejected unparseable values.
func (r *Resolved) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(r.Garmin.ConnectTimeout)
	return d
}

// DataTimeout returns the parsed garmin.data_timeout.
func (r *Resolved) DataTimeout() time.Duration {
	d, _ := time.ParseDuration(r.Garmin.DataTimeout)
	return d
}
