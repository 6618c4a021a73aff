// Package garmin provides a client for the Garmin Connect SSO and API
// endpoints: credential login with MFA, token-bundle login, persistence of
// the bundle, and daily summary retrieval. Every failure is returned as a
// *Error carrying an enumerated Kind and the HTTP status, so callers classify
// by value instead of by message text.
package garmin

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, garmin.ErrThrottled) to check.
var (
	ErrBadRequest   = errors.New("garmin: bad request")
	ErrUnauthorized = errors.New("garmin: unauthorized")
	ErrForbidden    = errors.New("garmin: forbidden")
	ErrNotFound     = errors.New("garmin: not found")
	ErrThrottled    = errors.New("garmin: too many requests")
	ErrServerError  = errors.New("garmin: server error")
)

// Sentinel errors for client-side failures.
var (
	ErrChallengeConsumed = errors.New("garmin: MFA challenge already used")
	ErrNoDisplayName     = errors.New("garmin: session has no display name")
)

// ErrorKind is the semantic category of a failure.
type ErrorKind int

// Failure kinds. The zero value is KindUnknown.
const (
	KindUnknown        ErrorKind = iota
	KindTokenMissing             // no token bundle at the store path
	KindTokenInvalid             // bundle present but unreadable
	KindAuthentication           // credentials, code or token rejected (401/403)
	KindHTTP                     // any other non-2xx response
	KindConnection               // request never got a response
	KindProtocol                 // response received but not understood
)

func (k ErrorKind) String() string {
	switch k {
	case KindTokenMissing:
		return "token-missing"
	case KindTokenInvalid:
		return "token-invalid"
	case KindAuthentication:
		return "authentication"
	case KindHTTP:
		return "http"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the structured failure returned by every operation in this package.
type Error struct {
	Kind       ErrorKind
	Op         string // e.g. "signin", "verify-mfa", "daily-summary"
	StatusCode int    // 0 when no HTTP response was received
	Message    string // response body or short description
	Err        error  // sentinel or underlying cause, for errors.Is()
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("garmin: %s: HTTP %d %s: %s",
			e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("garmin: %s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("garmin: %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newStatusError builds the Error for a non-2xx response.
func newStatusError(op string, code int, body string) *Error {
	kind := KindHTTP
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		kind = KindAuthentication
	}

	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: code,
		Message:    body,
		Err:        classifyStatus(code),
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a data request with this status should be retried.
// Auth requests are never retried regardless of status.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
