package auth

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Credentials hold one login attempt's email and password. They live only for
// the duration of that attempt and never reach a log or the token store.
type Credentials struct {
	Email    string
	Password string
}

// NewCredentials trims and NFC-normalizes the email so that visually equal
// addresses typed on different keyboards compare equal. The password is kept
// byte-for-byte.
func NewCredentials(email, password string) Credentials {
	return Credentials{
		Email:    norm.NFC.String(strings.TrimSpace(email)),
		Password: password,
	}
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email: %q, Password: [REDACTED]}", c.Email)
}

// LogValue implements slog.LogValuer so a stray log call cannot leak the password.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("email", c.Email))
}
