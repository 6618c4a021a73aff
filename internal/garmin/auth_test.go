package garmin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

// testTokenJSON is the canonical exchange/refresh response for tests.
const testTokenJSON = `{
	"access_token": "test-access-token",
	"token_type": "Bearer",
	"refresh_token": "test-refresh-token",
	"expires_in": 3600
}`

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// fakeGarmin is a scripted SSO + API server. Handlers left nil get defaults.
type fakeGarmin struct {
	signin    http.HandlerFunc
	verifyMFA http.HandlerFunc
	exchange  http.HandlerFunc
	refresh   http.HandlerFunc
	profile   http.HandlerFunc
	summary   http.HandlerFunc

	signinCalls  atomic.Int32
	verifyCalls  atomic.Int32
	refreshCalls atomic.Int32
	profileCalls atomic.Int32
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeGarmin) start(t *testing.T) *Provider {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("POST "+pathSignin, func(w http.ResponseWriter, r *http.Request) {
		f.signinCalls.Add(1)

		if f.signin != nil {
			f.signin(w, r)
			return
		}

		writeJSON(w, http.StatusOK, `{"status":"SUCCESS","ticket":"ST-1"}`)
	})

	mux.HandleFunc("POST "+pathVerifyMFA, func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)

		if f.verifyMFA != nil {
			f.verifyMFA(w, r)
			return
		}

		writeJSON(w, http.StatusOK, `{"ticket":"ST-MFA"}`)
	})

	mux.HandleFunc("POST "+pathExchange, func(w http.ResponseWriter, r *http.Request) {
		if f.exchange != nil {
			f.exchange(w, r)
			return
		}

		writeJSON(w, http.StatusOK, testTokenJSON)
	})

	mux.HandleFunc("POST "+pathRefresh, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)

		if f.refresh != nil {
			f.refresh(w, r)
			return
		}

		writeJSON(w, http.StatusOK, `{"access_token":"refreshed-token","token_type":"Bearer","refresh_token":"r2","expires_in":3600}`)
	})

	mux.HandleFunc("GET "+pathProfile, func(w http.ResponseWriter, r *http.Request) {
		f.profileCalls.Add(1)

		if f.profile != nil {
			f.profile(w, r)
			return
		}

		writeJSON(w, http.StatusOK, `{"displayName":"runner42","fullName":"Alice Runner"}`)
	})

	mux.HandleFunc("GET "+pathDailySummary+"{name}", func(w http.ResponseWriter, r *http.Request) {
		if f.summary != nil {
			f.summary(w, r)
			return
		}

		writeJSON(w, http.StatusOK, `{"totalSteps":1234}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewProvider(Options{
		SSOURL:     srv.URL,
		APIURL:     srv.URL,
		HTTPClient: srv.Client(),
		Logger:     testLogger(t),
	})
}

func saveBundle(t *testing.T, dir string, tok *oauth2.Token) {
	t.Helper()

	require.NoError(t, tokenstore.New(dir).Save(&tokenstore.Bundle{
		Token:   tok,
		Profile: tokenstore.Profile{DisplayName: "runner42"},
	}))
}

func validToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()

	var gErr *Error
	require.True(t, errors.As(err, &gErr), "expected *garmin.Error, got %T: %v", err, err)
	assert.Equal(t, kind, gErr.Kind, "kind mismatch: %v", err)

	return gErr
}

func TestLoginWithCredentials_Success(t *testing.T) {
	f := &fakeGarmin{}
	p := f.start(t)

	res, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, LoginSucceeded, res.Status)
	assert.Nil(t, res.Challenge)
	require.NotNil(t, res.Session)
	assert.Equal(t, "runner42", res.Session.DisplayName())
	assert.Equal(t, "Alice Runner", res.Session.FullName())
}

func TestLoginWithCredentials_SendsCredentials(t *testing.T) {
	var got signinRequest

	f := &fakeGarmin{signin: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusOK, `{"status":"SUCCESS","ticket":"ST-1"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, "pw", got.Password)
}

func TestLoginWithCredentials_BadPassword(t *testing.T) {
	f := &fakeGarmin{signin: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid credentials"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "wrong")
	gErr := requireKind(t, err, KindAuthentication)
	assert.Equal(t, http.StatusUnauthorized, gErr.StatusCode)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLoginWithCredentials_ServerErrorNotRetried(t *testing.T) {
	f := &fakeGarmin{signin: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `down`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	requireKind(t, err, KindHTTP)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), f.signinCalls.Load())
}

func TestLoginWithCredentials_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProvider(Options{SSOURL: url, APIURL: url, Logger: testLogger(t)})

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	requireKind(t, err, KindConnection)
}

func TestLoginWithCredentials_NeedsMFA(t *testing.T) {
	f := &fakeGarmin{signin: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"NEEDS_MFA","mfa_token":"mfa-1"}`)
	}}
	p := f.start(t)

	res, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, LoginNeedsMFA, res.Status)
	assert.Equal(t, "needs_mfa", res.Status.String())
	require.NotNil(t, res.Challenge)
	assert.Nil(t, res.Session)
}

func TestLoginWithCredentials_NeedsMFAWithoutToken(t *testing.T) {
	f := &fakeGarmin{signin: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"NEEDS_MFA"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	requireKind(t, err, KindProtocol)
}

func TestLoginWithCredentials_UnknownStatus(t *testing.T) {
	f := &fakeGarmin{signin: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"LOCKED"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	gErr := requireKind(t, err, KindProtocol)
	assert.Contains(t, gErr.Message, "LOCKED")
}

func TestResumeLogin_Success(t *testing.T) {
	var got verifyMFARequest

	f := &fakeGarmin{
		signin: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, `{"status":"NEEDS_MFA","mfa_token":"mfa-1"}`)
		},
		verifyMFA: func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			writeJSON(w, http.StatusOK, `{"ticket":"ST-MFA"}`)
		},
	}
	p := f.start(t)

	res, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	sess, err := p.ResumeLogin(context.Background(), res.Challenge, " 123456\n")
	require.NoError(t, err)
	assert.Equal(t, "runner42", sess.DisplayName())
	assert.Equal(t, "mfa-1", got.MFAToken)
	assert.Equal(t, "123456", got.Code)
}

func TestResumeLogin_ChallengeSingleUse(t *testing.T) {
	f := &fakeGarmin{}
	p := f.start(t)

	ch := &MFAChallenge{mfaToken: "mfa-1"}

	_, err := p.ResumeLogin(context.Background(), ch, "111111")
	require.NoError(t, err)

	_, err = p.ResumeLogin(context.Background(), ch, "111111")
	assert.ErrorIs(t, err, ErrChallengeConsumed)
	assert.Equal(t, int32(1), f.verifyCalls.Load())
}

func TestResumeLogin_NilChallenge(t *testing.T) {
	p := (&fakeGarmin{}).start(t)

	_, err := p.ResumeLogin(context.Background(), nil, "1")
	assert.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestResumeLogin_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		kind     ErrorKind
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, KindHTTP, ErrThrottled},
		{"invalid code", http.StatusUnauthorized, KindAuthentication, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, KindAuthentication, ErrForbidden},
		{"server error", http.StatusInternalServerError, KindHTTP, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeGarmin{verifyMFA: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, `{}`)
			}}
			p := f.start(t)

			_, err := p.ResumeLogin(context.Background(), &MFAChallenge{mfaToken: "m"}, "000000")
			gErr := requireKind(t, err, tt.kind)
			assert.Equal(t, tt.status, gErr.StatusCode)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestLoginWithTokens_Missing(t *testing.T) {
	p := (&fakeGarmin{}).start(t)

	_, err := p.LoginWithTokens(context.Background(), filepath.Join(t.TempDir(), "none"))
	requireKind(t, err, KindTokenMissing)
	assert.ErrorIs(t, err, tokenstore.ErrNoTokens)
}

func TestLoginWithTokens_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenstore.TokenFileName), []byte("{oops"), 0o600))

	f := &fakeGarmin{}
	p := f.start(t)

	_, err := p.LoginWithTokens(context.Background(), dir)
	requireKind(t, err, KindTokenInvalid)
	assert.Zero(t, f.profileCalls.Load())
}

func TestLoginWithTokens_Valid(t *testing.T) {
	dir := t.TempDir()
	saveBundle(t, dir, validToken())

	var auth string

	f := &fakeGarmin{profile: func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, `{"displayName":"runner42"}`)
	}}
	p := f.start(t)

	sess, err := p.LoginWithTokens(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "runner42", sess.DisplayName())
	assert.Equal(t, "Bearer stored-access", auth)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestLoginWithTokens_RejectedToken(t *testing.T) {
	dir := t.TempDir()
	saveBundle(t, dir, validToken())

	f := &fakeGarmin{profile: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithTokens(context.Background(), dir)
	requireKind(t, err, KindAuthentication)
}

func TestLoginWithTokens_ExpiredRefreshesWithoutRewriting(t *testing.T) {
	dir := t.TempDir()
	tok := validToken()
	tok.Expiry = time.Now().Add(-time.Hour)
	saveBundle(t, dir, tok)

	before, err := os.ReadFile(filepath.Join(dir, tokenstore.TokenFileName))
	require.NoError(t, err)

	var auth string

	f := &fakeGarmin{profile: func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, `{"displayName":"runner42"}`)
	}}
	p := f.start(t)

	_, err = p.LoginWithTokens(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "Bearer refreshed-token", auth)
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	after, err := os.ReadFile(filepath.Join(dir, tokenstore.TokenFileName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoginWithTokens_RefreshRejected(t *testing.T) {
	dir := t.TempDir()
	tok := validToken()
	tok.Expiry = time.Now().Add(-time.Hour)
	saveBundle(t, dir, tok)

	f := &fakeGarmin{refresh: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithTokens(context.Background(), dir)
	requireKind(t, err, KindAuthentication)
	assert.Zero(t, f.profileCalls.Load())
}

func TestPersist_WritesBundle(t *testing.T) {
	f := &fakeGarmin{}
	p := f.start(t)

	res, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "tokens")
	require.NoError(t, p.Persist(context.Background(), res.Session, dir))

	b, err := tokenstore.New(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", b.Token.AccessToken)
	assert.Equal(t, "test-refresh-token", b.Token.RefreshToken)
	assert.Equal(t, "runner42", b.Profile.DisplayName)

	// The persisted bundle is immediately usable for token login.
	sess, err := p.LoginWithTokens(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "runner42", sess.DisplayName())
}

func TestPersist_UnwritableDir(t *testing.T) {
	f := &fakeGarmin{}
	p := f.start(t)

	res, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	err = p.Persist(context.Background(), res.Session, filepath.Join(file, "tokens"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting tokens")
}

func TestExchange_MissingAccessToken(t *testing.T) {
	f := &fakeGarmin{exchange: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"token_type":"Bearer"}`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	requireKind(t, err, KindProtocol)
}

func TestProfile_InvalidJSON(t *testing.T) {
	f := &fakeGarmin{profile: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `<html>`)
	}}
	p := f.start(t)

	_, err := p.LoginWithCredentials(context.Background(), "a@example.com", "pw")
	requireKind(t, err, KindProtocol)
}

func TestNewProvider_Defaults(t *testing.T) {
	p := NewProvider(Options{SSOURL: "https://sso.example.com/"})
	assert.Equal(t, "https://sso.example.com", p.ssoURL)
	assert.Equal(t, DefaultAPIURL, p.apiURL)
	assert.Equal(t, DefaultUserAgent, p.userAgent)
	assert.Nil(t, p.limiter)

	p = NewProvider(Options{RequestsPerSecond: 2})
	require.NotNil(t, p.limiter)
}
