package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/garmin-stepsync/internal/auth"
	"github.com/tonimelisma/garmin-stepsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// logFileMaxSizeMB is the size at which the log file is rotated.
const logFileMaxSizeMB = 10

// CLIFlags holds the persistent flag values.
type CLIFlags struct {
	ConfigPath string
	TokenStore string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once per invocation by the root pre-run and handed to
// subcommands through the command context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "stepsync",
		Short:   "Garmin Connect step sync",
		Long:    "Log in to Garmin Connect and copy daily step totals to a step tracker.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			ctx := shutdownContext(cmd.Context(), cc.Logger)
			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.TokenStore, "token-store", "", "token store directory (overrides TOKEN_STORE_PATH)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration and builds the logger. A .env file in
// the working directory is merged into the environment first.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	if err := config.LoadDotEnv(config.DotEnvFile); err != nil {
		return nil, err
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	if cmd.Flags().Changed("token-store") {
		cli.TokenStorePath = &flags.TokenStore
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer := buildLogger(resolved, flags)

	logger.Debug("configuration resolved",
		slog.String("config_path", resolved.ConfigPath),
		slog.String("token_store", resolved.TokenStorePath),
	)

	return &CLIContext{
		Flags:     flags,
		Cfg:       resolved,
		Logger:    logger,
		Out:       cmd.OutOrStdout(),
		logCloser: closer,
	}, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it. When log_file is set, logs go to a rotated file
// instead of stderr and the returned closer must be closed.
func buildLogger(cfg *config.Resolved, flags CLIFlags) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg != nil && cfg.Logging.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.Logging.LogFile,
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.Logging.LogRetentionDays,
			Compress: true,
		}

		return slog.New(slog.NewTextHandler(lj, opts)), lj
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// newHTTPClient returns the client used for provider and tracker calls.
// connect bounds dialing; data bounds each whole request.
func newHTTPClient(connect, data time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	transport.TLSHandshakeTimeout = connect

	return &http.Client{Transport: transport, Timeout: data}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	if msg := errorMessage(err); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}

	os.Exit(1)
}

// errorMessage returns the stderr line for err. A login cancelled at a prompt
// has already said "Cancelled by user" and gets no extra line.
func errorMessage(err error) string {
	var f *auth.Failure
	if errors.As(err, &f) && f.Outcome == auth.AbortCancelled {
		return ""
	}

	return fmt.Sprintf("Error: %v", err)
}
