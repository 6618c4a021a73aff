package stepsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/garmin-stepsync/internal/tracker"
)

const (
	sqlUpsertPush = `INSERT INTO step_pushes (date, steps, response, pushed_at, run_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		 steps = excluded.steps,
		 response = excluded.response,
		 pushed_at = excluded.pushed_at,
		 run_id = excluded.run_id`

	sqlRecentPushes = `SELECT date, steps, response, pushed_at, run_id
		FROM step_pushes ORDER BY date DESC LIMIT ?`
)

// dbDirPerms is used when creating the ledger's parent directory.
const dbDirPerms = 0o700

// Push is one ledger row: the last successful push for a date.
type Push struct {
	Date     string    `json:"date"`
	Steps    int64     `json:"steps"`
	Response string    `json:"response"`
	PushedAt time.Time `json:"pushed_at"`
	RunID    string    `json:"run_id"`
}

// Ledger records successful pushes in a local SQLite database so status can
// report what was last sent for each day.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenLedger opens (creating if needed) the ledger database at dbPath and
// applies pending migrations.
func OpenLedger(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dbDirPerms); err != nil {
		return nil, fmt.Errorf("stepsync: creating ledger directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("stepsync: opening ledger %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Record stores the push of rec made during run runID, replacing any
// earlier row for the same date.
func (l *Ledger) Record(ctx context.Context, runID string, rec tracker.Record, response string) error {
	date := rec.Date.Format(dateLayout)

	_, err := l.db.ExecContext(ctx, sqlUpsertPush,
		date, rec.Steps, response, l.nowFunc().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("stepsync: recording push for %s: %w", date, err)
	}

	return nil
}

// Recent returns up to n rows, newest date first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Push, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecentPushes, n)
	if err != nil {
		return nil, fmt.Errorf("stepsync: listing pushes: %w", err)
	}
	defer rows.Close()

	var out []Push

	for rows.Next() {
		var (
			p        Push
			pushedAt int64
		)

		if err := rows.Scan(&p.Date, &p.Steps, &p.Response, &pushedAt, &p.RunID); err != nil {
			return nil, fmt.Errorf("stepsync: scanning push row: %w", err)
		}

		p.PushedAt = time.Unix(0, pushedAt)
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepsync: iterating push rows: %w", err)
	}

	return out, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
