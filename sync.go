package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/garmin-stepsync/internal/config"
	"github.com/tonimelisma/garmin-stepsync/internal/stepsync"
	"github.com/tonimelisma/garmin-stepsync/internal/tracker"
)

// errSyncUsage is returned for a days argument that is not a positive integer.
var errSyncUsage = errors.New("usage: stepsync sync [days]")

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [days]",
		Short: "Copy daily step totals from Garmin Connect to the tracker",
		Long: `Fetch the step total for each of the last [days] days (today included)
from Garmin Connect and push them to the step tracker, newest first.

Saved tokens are used when possible. If they are missing or rejected and
stdin is a terminal you are asked to log in; otherwise the run fails.
Requires TRACKER_TOKEN. Only one sync can run at a time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}
}

// parseDays returns the requested day count, or def when no argument is given.
func parseDays(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a positive whole number", errSyncUsage, args[0])
	}

	return n, nil
}

type syncDayJSON struct {
	Date     string `json:"date"`
	Steps    int64  `json:"steps"`
	Response string `json:"response"`
}

type syncResultJSON struct {
	RunID string        `json:"run_id"`
	Days  []syncDayJSON `json:"days"`
}

func runSync(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	days, err := parseDays(args, cc.Cfg.Sync.DefaultDays)
	if err != nil {
		return err
	}

	if cc.Cfg.Tracker.Token == "" {
		return fmt.Errorf("%w: set %s", tracker.ErrNoToken, config.EnvTrackerToken)
	}

	cleanup, err := writePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := initSession(ctx, cc)
	if err != nil {
		return err
	}

	ledger, err := stepsync.OpenLedger(ctx, cc.Cfg.StateDBPath, cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	trackerClient := tracker.NewClient(
		cc.Cfg.Tracker.URL,
		cc.Cfg.Tracker.Token,
		newHTTPClient(cc.Cfg.ConnectTimeout(), cc.Cfg.DataTimeout()),
		cc.Logger,
	)

	// Progress lines would corrupt the JSON document.
	var progress io.Writer = cc.Out
	if cc.Flags.JSON {
		progress = io.Discard
	}

	syncer := stepsync.NewSyncer(sess, trackerClient, ledger, progress, cc.Logger, cc.Cfg.Sync.ParallelFetch)

	res, err := syncer.Run(ctx, days)
	if err != nil {
		if res != nil && len(res.Days) > 0 {
			cc.Logger.Warn("sync stopped early",
				slog.String("run_id", res.RunID),
				slog.Int("pushed", len(res.Days)),
				slog.Int("requested", days),
			)
		}

		return err
	}

	if cc.Flags.JSON {
		return printSyncJSON(cc.Out, res)
	}

	return nil
}

func printSyncJSON(w io.Writer, res *stepsync.Result) error {
	out := syncResultJSON{RunID: res.RunID, Days: make([]syncDayJSON, 0, len(res.Days))}
	for _, d := range res.Days {
		out.Days = append(out.Days, syncDayJSON{
			Date:     d.Date.Format("2006-01-02"),
			Steps:    d.Steps,
			Response: d.Response,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding sync result: %w", err)
	}

	return nil
}
