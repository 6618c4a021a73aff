package garmin

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

// calendarDateLayout is the date format used by the summary endpoints.
const calendarDateLayout = "2006-01-02"

// Session is an authenticated handle. It is owned by the caller that
// received it and is not safe for concurrent Bundle calls during a refresh.
type Session struct {
	client  *Client
	src     oauth2.TokenSource
	profile tokenstore.Profile
}

// DisplayName returns the Garmin display name of the authenticated user.
func (s *Session) DisplayName() string {
	return s.profile.DisplayName
}

// FullName returns the user's full name, if the profile carried one.
func (s *Session) FullName() string {
	return s.profile.FullName
}

// Bundle returns the current token bundle, refreshing the access token first
// if it has expired.
func (s *Session) Bundle() (*tokenstore.Bundle, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, tokenError("bundle", err)
	}

	return &tokenstore.Bundle{Token: tok, Profile: s.profile}, nil
}

// DailySteps returns the total step count recorded on day (in day's location).
// A day without data yields 0.
func (s *Session) DailySteps(ctx context.Context, day time.Time) (int64, error) {
	const op = "daily-summary"

	if s.profile.DisplayName == "" {
		return 0, &Error{Kind: KindProtocol, Op: op, Err: ErrNoDisplayName}
	}

	path := pathDailySummary + url.PathEscape(s.profile.DisplayName) +
		"?calendarDate=" + url.QueryEscape(day.Format(calendarDateLayout))

	body, err := s.client.Get(ctx, op, path)
	if err != nil {
		return 0, err
	}

	doc, err := parseJSON(op, body)
	if err != nil {
		return 0, err
	}

	steps := doc.Get("totalSteps")
	if !steps.Exists() || steps.Type == gjson.Null {
		return 0, nil
	}

	return steps.Int(), nil
}

// fetchProfile loads the social profile, which doubles as a token check.
func (s *Session) fetchProfile(ctx context.Context) (tokenstore.Profile, error) {
	const op = "profile"

	body, err := s.client.Get(ctx, op, pathProfile)
	if err != nil {
		return tokenstore.Profile{}, err
	}

	doc, err := parseJSON(op, body)
	if err != nil {
		return tokenstore.Profile{}, err
	}

	name := doc.Get("displayName").String()
	if name == "" {
		return tokenstore.Profile{}, &Error{Kind: KindProtocol, Op: op, Message: fmt.Sprintf("profile has no displayName: %.200s", body)}
	}

	return tokenstore.Profile{
		DisplayName: name,
		FullName:    doc.Get("fullName").String(),
	}, nil
}
