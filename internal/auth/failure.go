package auth

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/garmin-stepsync/internal/garmin"
)

// User-facing hints, one per terminal outcome.
const (
	hintBadCredentials = "Please check your username and password and try again"
	hintInvalidMFA     = "Please verify your MFA code and try again"
	hintRateLimited    = "Please wait 30 minutes before trying again"
	hintConnection     = "Please check your internet connection and try again"
	hintPersist        = "Check that the token store directory is writable"
	hintNotInteractive = "Run 'stepsync login' from a terminal to create a token bundle"
)

// Failure is the error returned by Initializer.Init when the flow ends
// without a session.
type Failure struct {
	Outcome Outcome
	Site    Site
	Hint    string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("auth: %s at %s: %v", f.Outcome, f.Site, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// hintFor returns the actionable hint shown for a terminal outcome.
func hintFor(site Site, outcome Outcome, err error) string {
	switch outcome {
	case AbortRateLimited:
		return hintRateLimited
	case AbortConnection:
		return hintConnection
	case AbortCancelled:
		return ""
	}

	switch {
	case site == SitePersist:
		return hintPersist
	case site == SiteMFA && isAuthentication(err):
		return hintInvalidMFA
	case isNotInteractive(err):
		return hintNotInteractive
	default:
		return ""
	}
}

// isAuthentication reports whether the provider rejected what the user typed.
func isAuthentication(err error) bool {
	var gErr *garmin.Error

	return errors.As(err, &gErr) && gErr.Kind == garmin.KindAuthentication
}

func isNotInteractive(err error) bool {
	return errors.Is(err, ErrNotInteractive)
}
