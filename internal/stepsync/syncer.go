// Package stepsync copies daily step totals from Garmin Connect to the step
// tracker. Days are fetched concurrently, then pushed one at a time in date
// order so the tracker sees the same sequence on every run.
package stepsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/garmin-stepsync/internal/tracker"
)

const dateLayout = "2006-01-02"

// DefaultParallelFetch bounds concurrent provider requests when unset.
const DefaultParallelFetch = 4

// ErrInvalidDays is returned by Run for a day count below one.
var ErrInvalidDays = errors.New("stepsync: days must be at least 1")

// StepSource reads one day's step total. *garmin.Session implements it.
type StepSource interface {
	DailySteps(ctx context.Context, day time.Time) (int64, error)
}

// Pusher uploads one day's record. *tracker.Client implements it.
type Pusher interface {
	PushSteps(ctx context.Context, rec tracker.Record) (string, error)
}

// Recorder persists successful pushes. *Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, runID string, rec tracker.Record, response string) error
}

// DayResult is the outcome for one date.
type DayResult struct {
	Date     time.Time
	Steps    int64
	Response string
}

// Result summarises a completed run.
type Result struct {
	RunID string
	Days  []DayResult
}

// Syncer runs step syncs.
type Syncer struct {
	source   StepSource
	pusher   Pusher
	recorder Recorder
	out      io.Writer
	logger   *slog.Logger
	parallel int
	nowFunc  func() time.Time
}

// NewSyncer returns a Syncer. recorder may be nil to skip the ledger.
func NewSyncer(source StepSource, pusher Pusher, recorder Recorder, out io.Writer, logger *slog.Logger, parallel int) *Syncer {
	if parallel < 1 {
		parallel = DefaultParallelFetch
	}

	if out == nil {
		out = io.Discard
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		source:   source,
		pusher:   pusher,
		recorder: recorder,
		out:      out,
		logger:   logger,
		parallel: parallel,
		nowFunc:  time.Now,
	}
}

// Run syncs the last days days, today included. A fetch failure aborts before
// anything is pushed; a push failure stops the run at that day.
func (s *Syncer) Run(ctx context.Context, days int) (*Result, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidDays, days)
	}

	res := &Result{RunID: uuid.NewString()}
	dates := dateRange(s.nowFunc(), days)

	s.logger.Info("step sync started",
		slog.String("run_id", res.RunID),
		slog.Int("days", days),
		slog.String("from", dates[len(dates)-1].Format(dateLayout)),
		slog.String("to", dates[0].Format(dateLayout)),
	)

	steps, err := s.fetchAll(ctx, dates)
	if err != nil {
		return nil, err
	}

	for i, day := range dates {
		fmt.Fprintf(s.out, "Pulled steps(%d) from Garmin for date(%s)\n", steps[i], day.Format(dateLayout))

		rec := tracker.Record{Date: day, Steps: steps[i]}

		resp, err := s.pusher.PushSteps(ctx, rec)
		if err != nil {
			return res, fmt.Errorf("stepsync: pushing %s: %w", day.Format(dateLayout), err)
		}

		fmt.Fprintf(s.out, "Pushed to tracker: %s\n", resp)

		if s.recorder != nil {
			if err := s.recorder.Record(ctx, res.RunID, rec, resp); err != nil {
				// The tracker already has the data; a ledger miss only affects status output.
				s.logger.Warn("recording push failed", slog.String("error", err.Error()))
			}
		}

		res.Days = append(res.Days, DayResult{Date: day, Steps: steps[i], Response: resp})
	}

	s.logger.Info("step sync complete",
		slog.String("run_id", res.RunID),
		slog.Int("pushed", len(res.Days)),
	)

	return res, nil
}

// fetchAll reads every date with at most s.parallel requests in flight.
// Results are indexed like dates.
func (s *Syncer) fetchAll(ctx context.Context, dates []time.Time) ([]int64, error) {
	steps := make([]int64, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for i, day := range dates {
		g.Go(func() error {
			n, err := s.source.DailySteps(gctx, day)
			if err != nil {
				return fmt.Errorf("stepsync: fetching %s: %w", day.Format(dateLayout), err)
			}

			steps[i] = n

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return steps, nil
}

// dateRange returns n calendar days ending at now, newest first, each at
// local midnight.
func dateRange(now time.Time, n int) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	out := make([]time.Time, n)
	for i := range n {
		out[i] = today.AddDate(0, 0, -i)
	}

	return out
}
