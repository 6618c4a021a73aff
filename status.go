package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-stepsync/internal/config"
	"github.com/tonimelisma/garmin-stepsync/internal/stepsync"
	"github.com/tonimelisma/garmin-stepsync/internal/tokenstore"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateCorrupt = "unreadable"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

// statusRecentPushes is how many ledger rows status shows.
const statusRecentPushes = 7

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token, sync lock and recent push status",
		Long: `Display the local state: whether a token bundle is saved and usable,
whether a sync is currently running, and the most recent pushes recorded in
the ledger. Makes no network calls.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

type statusToken struct {
	Store       string     `json:"store"`
	StoreExists bool       `json:"store_exists"`
	Files       []string   `json:"files"`
	State       string     `json:"state"`
	DisplayName string     `json:"display_name,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
}

type statusSync struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type statusOutput struct {
	Token  statusToken     `json:"token"`
	Sync   statusSync      `json:"sync"`
	Ledger string          `json:"ledger"`
	Recent []stepsync.Push `json:"recent"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	out := statusOutput{
		Token:  probeToken(cc.Cfg.TokenStorePath),
		Ledger: cc.Cfg.StateDBPath,
		Recent: []stepsync.Push{},
	}

	if pid, ok := runningSyncPID(config.PIDFilePath()); ok {
		out.Sync = statusSync{Running: true, PID: pid}
	}

	recent, err := recentPushes(cmd.Context(), cc.Cfg.StateDBPath, cc.Logger)
	if err != nil {
		cc.Logger.Warn("reading ledger", slog.String("error", err.Error()))
	}

	if recent != nil {
		out.Recent = recent
	}

	if cc.Flags.JSON {
		return printStatusJSON(cc.Out, out)
	}

	printStatusText(cc.Out, out)

	return nil
}

// probeToken inspects the saved bundle without refreshing or contacting Garmin.
func probeToken(dir string) statusToken {
	store := tokenstore.New(dir)

	st := statusToken{
		Store:       store.Dir(),
		StoreExists: store.Exists(),
		Files:       store.ListFiles(),
		State:       tokenStateMissing,
	}

	b, err := store.Load()

	switch {
	case errors.Is(err, tokenstore.ErrNoTokens):
		return st
	case err != nil:
		st.State = tokenStateCorrupt
		return st
	}

	st.DisplayName = b.Profile.DisplayName

	if !b.Token.Expiry.IsZero() {
		exp := b.Token.Expiry
		st.Expiry = &exp
	}

	st.State = tokenStateValid
	if !b.Token.Valid() {
		st.State = tokenStateExpired
	}

	return st
}

// recentPushes returns the newest ledger rows. A ledger that has never been
// created yields nil without creating it.
func recentPushes(ctx context.Context, dbPath string, logger *slog.Logger) ([]stepsync.Push, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil
	}

	ledger, err := stepsync.OpenLedger(ctx, dbPath, logger)
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	return ledger.Recent(ctx, statusRecentPushes)
}

func printStatusJSON(w io.Writer, out statusOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, out statusOutput) {
	fmt.Fprintf(w, "Token store: %s\n", out.Token.Store)

	switch out.Token.State {
	case tokenStateMissing:
		fmt.Fprintln(w, "  Token:   missing (run 'stepsync login')")
	case tokenStateCorrupt:
		fmt.Fprintln(w, "  Token:   unreadable (run 'stepsync logout' then 'stepsync login')")
	default:
		fmt.Fprintf(w, "  Token:   %s\n", out.Token.State)
	}

	if out.Token.DisplayName != "" {
		fmt.Fprintf(w, "  User:    %s\n", out.Token.DisplayName)
	}

	if out.Token.Expiry != nil {
		fmt.Fprintf(w, "  Expires: %s\n", formatTime(*out.Token.Expiry))
	}

	if out.Sync.Running {
		fmt.Fprintf(w, "Sync:        running (PID %d)\n", out.Sync.PID)
	} else {
		fmt.Fprintln(w, "Sync:        idle")
	}

	fmt.Fprintf(w, "Ledger:      %s\n", out.Ledger)

	if len(out.Recent) == 0 {
		fmt.Fprintln(w, "  No pushes recorded.")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(out.Recent))
	for _, p := range out.Recent {
		rows = append(rows, []string{p.Date, strconv.FormatInt(p.Steps, 10), formatTime(p.PushedAt)})
	}

	printTable(w, []string{"DATE", "STEPS", "PUSHED"}, rows)
}
