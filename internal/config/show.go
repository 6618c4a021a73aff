package config

import (
	"fmt"
	"io"
)

// redacted replaces secrets in rendered output.
const redacted = "(set)"

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. The tracker token is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	ew.printf("token_store_path        = %q\n", r.TokenStorePath)
	ew.printf("state_db_path           = %q\n", r.StateDBPath)
	ew.printf("max_credential_attempts = %d\n\n", r.MaxCredentialAttempts)

	renderGarminSection(ew, &r.Garmin)
	renderTrackerSection(ew, &r.Tracker)
	renderSyncSection(ew, &r.Sync)
	renderLoggingSection(ew, &r.Logging)

	return ew.err
}

// Redacted returns a copy of r with secrets masked, for machine-readable output.
func (r *Resolved) Redacted() Resolved {
	out := *r
	if out.Tracker.Token != "" {
		out.Tracker.Token = redacted
	}

	return out
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderGarminSection(ew *errWriter, g *GarminConfig) {
	ew.printf("[garmin]\n")
	ew.printf("  sso_url         = %q\n", g.SSOURL)
	ew.printf("  api_url         = %q\n", g.APIURL)
	ew.printf("  connect_timeout = %q\n", g.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", g.DataTimeout)

	if g.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", g.UserAgent)
	}

	ew.printf("\n")
}

func renderTrackerSection(ew *errWriter, t *TrackerConfig) {
	ew.printf("[tracker]\n")
	ew.printf("  url   = %q\n", t.URL)

	if t.Token != "" {
		ew.printf("  token = %q\n", redacted)
	} else {
		ew.printf("  # token not set (TRACKER_TOKEN)\n")
	}

	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  default_days        = %d\n", s.DefaultDays)
	ew.printf("  parallel_fetch      = %d\n", s.ParallelFetch)
	ew.printf("  requests_per_second = %g\n", s.RequestsPerSecond)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
}
