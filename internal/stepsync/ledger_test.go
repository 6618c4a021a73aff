package stepsync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/garmin-stepsync/internal/tracker"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := OpenLedger(t.Context(), filepath.Join(t.TempDir(), "state.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})

	return l
}

func TestLedger_RecordReplacesSameDate(t *testing.T) {
	l := newTestLedger(t)
	l.nowFunc = func() time.Time { return fixedNow }

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(t.Context(), "run-1", tracker.Record{Date: day, Steps: 100}, "first"))
	require.NoError(t, l.Record(t.Context(), "run-2", tracker.Record{Date: day, Steps: 250}, "second"))

	rows, err := l.Recent(t.Context(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "2024-03-09", rows[0].Date)
	assert.Equal(t, int64(250), rows[0].Steps)
	assert.Equal(t, "second", rows[0].Response)
	assert.Equal(t, "run-2", rows[0].RunID)
	assert.True(t, fixedNow.Equal(rows[0].PushedAt))
}

func TestLedger_RecentLimitAndOrder(t *testing.T) {
	l := newTestLedger(t)

	for _, d := range []int{3, 1, 2} {
		day := time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
		require.NoError(t, l.Record(t.Context(), "run", tracker.Record{Date: day, Steps: int64(d)}, ""))
	}

	rows, err := l.Recent(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-03", rows[0].Date)
	assert.Equal(t, "2024-01-02", rows[1].Date)
}

func TestLedger_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	l, err := OpenLedger(t.Context(), path, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Record(t.Context(), "run", tracker.Record{Date: fixedNow, Steps: 7}, "ok"))
	require.NoError(t, l.Close())

	l, err = OpenLedger(t.Context(), path, testLogger(t))
	require.NoError(t, err)
	defer l.Close()

	rows, err := l.Recent(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
