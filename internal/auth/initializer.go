package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tonimelisma/garmin-stepsync/internal/garmin"
	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

// Status markers prefixed to console lines.
const (
	markerFound   = "📄"
	markerKey     = "🔑"
	markerWarn    = "⚠️"
	markerEmpty   = "📭"
	markerWorking = "🔄"
	markerOK      = "✅"
	markerLogin   = "➜]"
	markerMFA     = "🔐"
	markerFail    = "❌"
	markerHint    = "💡"
	markerSaved   = "💾"
	markerBye     = "👋"
)

// Prompt labels.
const (
	promptEmail    = "Login email: "
	promptPassword = "Enter password: "
	promptMFA      = "Please enter your MFA code: "
)

// Provider is the network side of authentication.
type Provider interface {
	LoginWithTokens(ctx context.Context, dir string) (*garmin.Session, error)
	LoginWithCredentials(ctx context.Context, email, password string) (garmin.LoginResult, error)
	ResumeLogin(ctx context.Context, challenge *garmin.MFAChallenge, code string) (*garmin.Session, error)
	Persist(ctx context.Context, sess *garmin.Session, dir string) error
}

// Prompter reads one line of user input. Implementations return ErrCancelled
// when the user interrupts and ErrNotInteractive when no user is present.
type Prompter interface {
	Prompt(ctx context.Context, label string) (string, error)
	PromptSecret(ctx context.Context, label string) (string, error)
}

// Config holds the initializer settings.
type Config struct {
	// StorePath is the token store directory.
	StorePath string
	// MaxCredentialAttempts bounds credential entry; 0 means unbounded.
	MaxCredentialAttempts int
}

// state is a step of the login state machine.
type state int

const (
	stateTokenLogin state = iota
	stateCredentialLogin
	stateMFAChallenge
	statePersistTokens
	stateDone
)

func (s state) String() string {
	switch s {
	case stateTokenLogin:
		return "token-login"
	case stateCredentialLogin:
		return "credential-login"
	case stateMFAChallenge:
		return "mfa-challenge"
	case statePersistTokens:
		return "persist-tokens"
	default:
		return "done"
	}
}

// attempt is the mutable state of one Init call.
type attempt struct {
	session   *garmin.Session
	challenge *garmin.MFAChallenge
	tries     int
	err       error
}

// Initializer produces an authenticated session, preferring the persisted
// token bundle over interactive credential entry.
type Initializer struct {
	cfg      Config
	provider Provider
	prompter Prompter
	store    *tokenstore.Store
	out      io.Writer
	logger   *slog.Logger
}

// NewInitializer returns an Initializer writing status lines to out.
func NewInitializer(cfg Config, provider Provider, prompter Prompter, out io.Writer, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}

	if out == nil {
		out = io.Discard
	}

	return &Initializer{
		cfg:      cfg,
		provider: provider,
		prompter: prompter,
		store:    tokenstore.New(cfg.StorePath),
		out:      out,
		logger:   logger,
	}
}

// Init runs the login flow to completion. It returns a session whose token
// bundle is on disk, or a *Failure describing why none could be produced.
func (in *Initializer) Init(ctx context.Context) (*garmin.Session, error) {
	in.probeStore()

	a := &attempt{}

	for st := stateTokenLogin; st != stateDone; {
		next := in.step(ctx, st, a)
		in.logger.Debug("login state transition",
			slog.String("from", st.String()),
			slog.String("to", next.String()),
		)
		st = next
	}

	if a.err != nil {
		return nil, a.err
	}

	return a.session, nil
}

func (in *Initializer) step(ctx context.Context, st state, a *attempt) state {
	switch st {
	case stateTokenLogin:
		return in.tokenLogin(ctx, a)
	case stateCredentialLogin:
		return in.credentialLogin(ctx, a)
	case stateMFAChallenge:
		return in.mfaChallenge(ctx, a)
	case statePersistTokens:
		return in.persistTokens(ctx, a)
	default:
		return stateDone
	}
}

// probeStore reports what the token store holds. Diagnostics only; the
// provider decides whether the contents are usable.
func (in *Initializer) probeStore() {
	if !in.store.Exists() {
		in.statusf(markerEmpty, "No existing token directory found")
		return
	}

	in.statusf(markerFound, "Found existing token directory")

	files := in.store.ListFiles()
	if len(files) == 0 {
		in.statusf(markerWarn, "Token directory exists but no token files found")
		return
	}

	in.statusf(markerKey, "Found token file(s): %v", files)
}

func (in *Initializer) tokenLogin(ctx context.Context, a *attempt) state {
	in.statusf(markerWorking, "Attempting to use saved authentication tokens...")

	sess, err := in.provider.LoginWithTokens(ctx, in.cfg.StorePath)
	if err != nil {
		if Classify(SiteTokenLogin, err) == FallbackToCredentials {
			in.logger.Info("token login failed, falling back to credentials", slog.String("error", err.Error()))
			in.statusf(markerKey, "No valid tokens found. Requesting fresh login credentials.")

			return stateCredentialLogin
		}

		return in.fail(a, SiteTokenLogin, err)
	}

	in.statusf(markerOK, "Successfully logged in using saved tokens!")
	a.session = sess

	return stateDone
}

func (in *Initializer) credentialLogin(ctx context.Context, a *attempt) state {
	if in.cfg.MaxCredentialAttempts > 0 && a.tries >= in.cfg.MaxCredentialAttempts {
		return in.fail(a, SiteCredentialLogin, fmt.Errorf("%w (%d)", ErrTooManyAttempts, a.tries))
	}

	a.tries++

	creds, err := in.readCredentials(ctx)
	if err != nil {
		return in.fail(a, SiteCredentialLogin, err)
	}

	in.statusf(markerLogin, "Logging in with credentials...")
	in.logger.Debug("credential login attempt", slog.Int("attempt", a.tries), slog.Any("credentials", creds))

	res, err := in.provider.LoginWithCredentials(ctx, creds.Email, creds.Password)
	if err != nil {
		if Classify(SiteCredentialLogin, err) == RetryCredentials {
			in.statusf(markerFail, "Authentication failed: %v", err)
			in.statusf(markerHint, hintBadCredentials)

			return stateCredentialLogin
		}

		return in.fail(a, SiteCredentialLogin, err)
	}

	if res.Status == garmin.LoginNeedsMFA {
		in.statusf(markerMFA, "Multi-factor authentication required")
		a.challenge = res.Challenge

		return stateMFAChallenge
	}

	a.session = res.Session

	return statePersistTokens
}

func (in *Initializer) readCredentials(ctx context.Context) (Credentials, error) {
	email, err := in.prompter.Prompt(ctx, promptEmail)
	if err != nil {
		return Credentials{}, err
	}

	password, err := in.prompter.PromptSecret(ctx, promptPassword)
	if err != nil {
		return Credentials{}, err
	}

	return NewCredentials(email, password), nil
}

// mfaChallenge submits the second factor. An invalid code restarts credential
// entry from the email prompt, not just the code prompt.
func (in *Initializer) mfaChallenge(ctx context.Context, a *attempt) state {
	code, err := in.prompter.Prompt(ctx, promptMFA)
	if err != nil {
		return in.fail(a, SiteMFA, err)
	}

	in.statusf(markerWorking, "Submitting MFA code...")

	challenge := a.challenge
	a.challenge = nil

	sess, err := in.provider.ResumeLogin(ctx, challenge, code)
	if err != nil {
		if Classify(SiteMFA, err) == RetryCredentials {
			in.statusf(markerFail, "Invalid MFA code")
			in.statusf(markerHint, hintInvalidMFA)

			return stateCredentialLogin
		}

		return in.fail(a, SiteMFA, err)
	}

	in.statusf(markerOK, "MFA authentication successful!")
	a.session = sess

	return statePersistTokens
}

// persistTokens saves the bundle. A session is only handed out once this
// succeeds; a write failure ends the flow without one.
func (in *Initializer) persistTokens(ctx context.Context, a *attempt) state {
	if err := in.provider.Persist(ctx, a.session, in.cfg.StorePath); err != nil {
		a.session = nil
		return in.fail(a, SitePersist, err)
	}

	in.statusf(markerSaved, "Authentication tokens saved")
	in.statusf(markerOK, "Login successful!")

	return stateDone
}

// fail records a terminal failure, reports it and ends the flow.
func (in *Initializer) fail(a *attempt, site Site, err error) state {
	outcome := Classify(site, err)
	if !outcome.Terminal() {
		// A retry or fallback outcome reaching here means the step had no
		// transition for it; treat it as fatal rather than loop.
		outcome = AbortFatal
	}

	f := &Failure{
		Outcome: outcome,
		Site:    site,
		Hint:    hintFor(site, outcome, err),
		Err:     err,
	}

	switch outcome {
	case AbortCancelled:
		fmt.Fprintln(in.out)
		in.statusf(markerBye, "Cancelled by user")
	case AbortRateLimited:
		if site == SiteMFA {
			in.statusf(markerFail, "Too many MFA attempts")
		} else {
			in.statusf(markerFail, "Too many login attempts")
		}
	case AbortConnection:
		in.statusf(markerFail, "Connection error: %v", err)
	default:
		in.statusf(markerFail, "%s failed: %v", siteTitle(site), err)
	}

	if f.Hint != "" {
		in.statusf(markerHint, "%s", f.Hint)
	}

	in.logger.Warn("login failed",
		slog.String("site", site.String()),
		slog.String("outcome", outcome.String()),
		slog.String("error", err.Error()),
	)

	a.err = f

	return stateDone
}

func siteTitle(site Site) string {
	switch site {
	case SiteTokenLogin:
		return "Token login"
	case SiteMFA:
		return "MFA authentication"
	case SitePersist:
		return "Saving tokens"
	default:
		return "Login"
	}
}

// statusf prints one marker-prefixed status line.
func (in *Initializer) statusf(marker, format string, args ...any) {
	fmt.Fprintf(in.out, marker+" "+format+"\n", args...)
}
