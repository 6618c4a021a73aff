package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-stepsync/internal/auth"
	"github.com/tonimelisma/garmin-stepsync/internal/garmin"
	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to Garmin Connect and save the token bundle",
		Long: `Log in to Garmin Connect. Saved tokens are tried first; when they are
missing or rejected you are asked for your email, password and, if enabled,
your MFA code. The resulting token bundle is written to the token store so
later runs need no credentials.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token bundle",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cc.Logger.Info("login started", slog.String("token_store", cc.Cfg.TokenStorePath))

	sess, err := initSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("display_name", sess.DisplayName()))

	if name := sess.FullName(); name != "" {
		cc.Statusf("Logged in as %s (%s)\n", name, sess.DisplayName())
	} else {
		cc.Statusf("Logged in as %s\n", sess.DisplayName())
	}

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	store := tokenstore.New(cc.Cfg.TokenStorePath)

	n, err := store.Remove()
	if err != nil {
		return err
	}

	cc.Logger.Info("logout", slog.String("token_store", store.Dir()), slog.Int("removed", n))

	if n == 0 {
		cc.Statusf("No saved tokens in %s\n", store.Dir())
		return nil
	}

	cc.Statusf("Removed %d token file(s) from %s\n", n, store.Dir())

	return nil
}

// newProvider builds the Garmin provider from the resolved configuration.
func newProvider(cc *CLIContext) *garmin.Provider {
	g := cc.Cfg.Garmin

	return garmin.NewProvider(garmin.Options{
		SSOURL:            g.SSOURL,
		APIURL:            g.APIURL,
		HTTPClient:        newHTTPClient(cc.Cfg.ConnectTimeout(), cc.Cfg.DataTimeout()),
		UserAgent:         g.UserAgent,
		RequestsPerSecond: cc.Cfg.Sync.RequestsPerSecond,
		Logger:            cc.Logger,
	})
}

// initSession runs the login flow against the console. Status lines go to
// cc.Out; prompts read stdin and fail when it is not a terminal.
func initSession(ctx context.Context, cc *CLIContext) (*garmin.Session, error) {
	in := auth.NewInitializer(
		auth.Config{
			StorePath:             cc.Cfg.TokenStorePath,
			MaxCredentialAttempts: cc.Cfg.MaxCredentialAttempts,
		},
		newProvider(cc),
		auth.NewConsolePrompter(os.Stdin, cc.Out),
		cc.Out,
		cc.Logger,
	)

	sess, err := in.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	return sess, nil
}
