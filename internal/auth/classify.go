// Package auth turns a token store and a provider into an authenticated
// session. Initializer drives the login state machine; Classify is the one
// place that decides, per call site, whether a failure falls back, retries or
// aborts.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tonimelisma/garmin-stepsync/internal/garmin"
)

// Sentinel errors raised outside the provider.
var (
	ErrCancelled       = errors.New("auth: cancelled by user")
	ErrNotInteractive  = errors.New("auth: credentials required but input is not a terminal")
	ErrTooManyAttempts = errors.New("auth: too many login attempts")
)

// Site identifies the step of the login flow a failure was raised at.
type Site int

// Call sites consulted by Classify.
const (
	SiteTokenLogin Site = iota
	SiteCredentialLogin
	SiteMFA
	SitePersist
)

func (s Site) String() string {
	switch s {
	case SiteTokenLogin:
		return "token-login"
	case SiteCredentialLogin:
		return "credential-login"
	case SiteMFA:
		return "mfa"
	case SitePersist:
		return "persist"
	default:
		return fmt.Sprintf("site(%d)", int(s))
	}
}

// Outcome is the policy decision for a failure.
type Outcome int

// Policy outcomes.
const (
	FallbackToCredentials Outcome = iota
	RetryCredentials
	AbortConnection
	AbortFatal
	AbortRateLimited
	AbortCancelled
)

func (o Outcome) String() string {
	switch o {
	case FallbackToCredentials:
		return "fallback-to-credentials"
	case RetryCredentials:
		return "retry-credentials"
	case AbortConnection:
		return "abort-connection"
	case AbortFatal:
		return "abort-fatal"
	case AbortRateLimited:
		return "abort-rate-limited"
	case AbortCancelled:
		return "abort-cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether the outcome ends the login flow.
func (o Outcome) Terminal() bool {
	return o != FallbackToCredentials && o != RetryCredentials
}

// Classify maps a failure raised at site to a policy outcome. Retries are
// reserved for failures caused by user input; infrastructure trouble aborts.
func Classify(site Site, err error) Outcome {
	if errors.Is(err, ErrCancelled) {
		return AbortCancelled
	}

	var gErr *garmin.Error
	isProvider := errors.As(err, &gErr)

	switch site {
	case SiteTokenLogin:
		if isProvider {
			switch gErr.Kind {
			case garmin.KindTokenMissing, garmin.KindTokenInvalid,
				garmin.KindAuthentication, garmin.KindHTTP, garmin.KindConnection:
				return FallbackToCredentials
			}
		}

		return AbortFatal

	case SiteCredentialLogin:
		if isRateLimited(err) {
			return AbortRateLimited
		}

		if !isProvider {
			return AbortFatal
		}

		switch gErr.Kind {
		case garmin.KindAuthentication:
			return RetryCredentials
		case garmin.KindConnection, garmin.KindHTTP:
			return AbortConnection
		default:
			return AbortFatal
		}

	case SiteMFA:
		if isRateLimited(err) {
			return AbortRateLimited
		}

		if isProvider && (gErr.StatusCode == http.StatusUnauthorized || gErr.StatusCode == http.StatusForbidden) {
			return RetryCredentials
		}

		return AbortFatal

	default:
		return AbortFatal
	}
}

// isRateLimited reports whether err signals throttling. Structured status
// codes win; the message is only inspected when no status is available.
func isRateLimited(err error) bool {
	if errors.Is(err, garmin.ErrThrottled) {
		return true
	}

	var gErr *garmin.Error
	if errors.As(err, &gErr) && gErr.StatusCode != 0 {
		return gErr.StatusCode == http.StatusTooManyRequests
	}

	return hasRateLimitMarker(err.Error())
}

// hasRateLimitMarker matches the status line some proxies put in plain-text errors.
func hasRateLimitMarker(msg string) bool {
	lower := strings.ToLower(msg)

	return strings.Contains(lower, "429") && strings.Contains(lower, "too many requests")
}
