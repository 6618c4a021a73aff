package garmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

// Default service endpoints.
const (
	DefaultSSOURL = "https://sso.garmin.com"
	DefaultAPIURL = "https://connectapi.garmin.com"
)

// oauthClientID identifies this application to the token endpoint.
const oauthClientID = "stepsync"

// SSO response status values.
const (
	ssoStatusSuccess  = "SUCCESS"
	ssoStatusNeedsMFA = "NEEDS_MFA"
)

// API paths.
const (
	pathSignin       = "/sso/signin"
	pathVerifyMFA    = "/sso/verifyMFA"
	pathExchange     = "/oauth/exchange"
	pathRefresh      = "/oauth/token"
	pathProfile      = "/userprofile-service/socialProfile"
	pathDailySummary = "/usersummary-service/usersummary/daily/"
)

// LoginStatus is the primary outcome of a credential login.
type LoginStatus int

// Login outcomes.
const (
	LoginSucceeded LoginStatus = iota
	LoginNeedsMFA
)

func (s LoginStatus) String() string {
	if s == LoginNeedsMFA {
		return "needs_mfa"
	}

	return "success"
}

// MFAChallenge is the single-use context returned when a credential login
// requires a second factor. It is valid for exactly one ResumeLogin call.
type MFAChallenge struct {
	mfaToken string
	consumed bool
}

// LoginResult is returned by LoginWithCredentials. Challenge is set when
// Status is LoginNeedsMFA; Session is set when Status is LoginSucceeded.
type LoginResult struct {
	Status    LoginStatus
	Challenge *MFAChallenge
	Session   *Session
}

// Options configures a Provider. Zero values select the defaults.
type Options struct {
	SSOURL            string
	APIURL            string
	HTTPClient        *http.Client
	UserAgent         string
	RequestsPerSecond float64 // data-request limit; 0 disables
	Logger            *slog.Logger
}

// Provider performs the network side of authentication and creates Sessions.
type Provider struct {
	ssoURL     string
	apiURL     string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewProvider returns a Provider for opts.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		ssoURL:     strings.TrimRight(opts.SSOURL, "/"),
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		httpClient: opts.HTTPClient,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
	}

	if p.ssoURL == "" {
		p.ssoURL = DefaultSSOURL
	}

	if p.apiURL == "" {
		p.apiURL = DefaultAPIURL
	}

	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}

	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	if opts.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return p
}

// LoginWithTokens loads the token bundle from dir and verifies it against the
// profile endpoint. An expired access token is refreshed in memory; the
// bundle on disk is left untouched.
func (p *Provider) LoginWithTokens(ctx context.Context, dir string) (*Session, error) {
	const op = "token-login"

	bundle, err := tokenstore.New(dir).Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoTokens) {
			return nil, &Error{Kind: KindTokenMissing, Op: op, Err: err}
		}

		return nil, &Error{Kind: KindTokenInvalid, Op: op, Err: err}
	}

	expired := !bundle.Token.Expiry.IsZero() && bundle.Token.Expiry.Before(time.Now())
	p.logger.Info("loaded saved token",
		slog.String("path", dir),
		slog.Time("expiry", bundle.Token.Expiry),
		slog.Bool("expired", expired),
	)

	sess := p.newSession(ctx, bundle.Token, bundle.Profile)

	// A stored bundle is only trusted once the API accepts it.
	profile, err := sess.fetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	sess.profile = profile

	return sess, nil
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinResponse struct {
	Status   string `json:"status"`
	Ticket   string `json:"ticket"`
	MFAToken string `json:"mfa_token"`
}

// LoginWithCredentials signs in with email and password. When the account has
// a second factor enabled the result carries LoginNeedsMFA and a challenge to
// pass to ResumeLogin; otherwise it carries the new Session.
func (p *Provider) LoginWithCredentials(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "signin"

	p.logger.Debug("signing in with credentials", slog.String("email", email))

	var resp signinResponse
	if err := postJSON(ctx, p.httpClient, p.userAgent, op, p.ssoURL+pathSignin,
		signinRequest{Email: email, Password: password}, &resp); err != nil {
		return LoginResult{}, err
	}

	switch resp.Status {
	case ssoStatusNeedsMFA:
		if resp.MFAToken == "" {
			return LoginResult{}, &Error{Kind: KindProtocol, Op: op, Message: "MFA required but no MFA token returned"}
		}

		p.logger.Info("second factor required")

		return LoginResult{
			Status:    LoginNeedsMFA,
			Challenge: &MFAChallenge{mfaToken: resp.MFAToken},
		}, nil
	case ssoStatusSuccess:
		sess, err := p.completeLogin(ctx, resp.Ticket)
		if err != nil {
			return LoginResult{}, err
		}

		return LoginResult{Status: LoginSucceeded, Session: sess}, nil
	default:
		return LoginResult{}, &Error{Kind: KindProtocol, Op: op, Message: fmt.Sprintf("unexpected status %q", resp.Status)}
	}
}

type verifyMFARequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type verifyMFAResponse struct {
	Ticket string `json:"ticket"`
}

// ResumeLogin completes an MFA login. The challenge is consumed by the call
// whatever its outcome; a second call with the same challenge fails with
// ErrChallengeConsumed.
func (p *Provider) ResumeLogin(ctx context.Context, challenge *MFAChallenge, code string) (*Session, error) {
	const op = "verify-mfa"

	if challenge == nil || challenge.consumed {
		return nil, &Error{Kind: KindUnknown, Op: op, Err: ErrChallengeConsumed}
	}

	challenge.consumed = true

	var resp verifyMFAResponse
	if err := postJSON(ctx, p.httpClient, p.userAgent, op, p.ssoURL+pathVerifyMFA,
		verifyMFARequest{MFAToken: challenge.mfaToken, Code: strings.TrimSpace(code)}, &resp); err != nil {
		return nil, err
	}

	return p.completeLogin(ctx, resp.Ticket)
}

// Persist writes the session's current token bundle to dir.
func (p *Provider) Persist(ctx context.Context, sess *Session, dir string) error {
	bundle, err := sess.Bundle()
	if err != nil {
		return err
	}

	if err := tokenstore.New(dir).Save(bundle); err != nil {
		return fmt.Errorf("garmin: persisting tokens: %w", err)
	}

	p.logger.Info("token bundle saved",
		slog.String("path", dir),
		slog.Time("expiry", bundle.Token.Expiry),
	)

	return nil
}

type exchangeRequest struct {
	Ticket string `json:"ticket"`
}

type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// completeLogin exchanges a service ticket for an OAuth2 token and loads the
// user profile.
func (p *Provider) completeLogin(ctx context.Context, ticket string) (*Session, error) {
	const op = "exchange"

	if ticket == "" {
		return nil, &Error{Kind: KindProtocol, Op: op, Message: "no service ticket returned"}
	}

	var resp exchangeResponse
	if err := postJSON(ctx, p.httpClient, p.userAgent, op, p.ssoURL+pathExchange,
		exchangeRequest{Ticket: ticket}, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, &Error{Kind: KindProtocol, Op: op, Message: "no access token returned"}
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}

	if resp.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	p.logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	sess := p.newSession(ctx, tok, tokenstore.Profile{})

	profile, err := sess.fetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	sess.profile = profile

	return sess, nil
}

// newSession wires an auto-refreshing token source and an API client around tok.
func (p *Provider) newSession(ctx context.Context, tok *oauth2.Token, profile tokenstore.Profile) *Session {
	cfg := &oauth2.Config{
		ClientID: oauthClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.ssoURL + pathRefresh,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// The session outlives the login call; refreshes must not inherit its cancellation.
	refreshCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, p.httpClient)
	src := cfg.TokenSource(refreshCtx, tok)
	bridge := &tokenBridge{src: src, logger: p.logger}

	return &Session{
		client:  NewClient(p.apiURL, p.httpClient, bridge, p.logger, p.userAgent, p.limiter),
		src:     src,
		profile: profile,
	}
}

// tokenBridge adapts oauth2.TokenSource to garmin.TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", err
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}

// tokenError converts a token-source failure into an Error. A rejected
// refresh is an authentication failure; anything else means the token
// endpoint could not be reached.
func tokenError(op string, err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		e := newStatusError(op, re.Response.StatusCode, string(re.Body))
		if re.Response.StatusCode == http.StatusBadRequest {
			// invalid_grant: the refresh token is no longer accepted.
			e.Kind = KindAuthentication
		}

		return e
	}

	return &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("obtaining token: %w", err)}
}

// parseJSON validates body and returns it as a gjson result.
func parseJSON(op string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &Error{Kind: KindProtocol, Op: op, Message: "response is not valid JSON"}
	}

	return gjson.ParseBytes(body), nil
}
