package state

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE gap_retries (
			gap_id       TEXT PRIMARY KEY,
			measurement  TEXT NOT NULL,
			start_time   DATETIME NOT NULL,
			end_time     DATETIME NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0,
			last_attempt DATETIME,
			last_error   TEXT
		);
		CREATE TABLE job_runs (
			id           TEXT PRIMARY KEY,
			job_name     TEXT NOT NULL,
			started_at   DATETIME NOT NULL,
			finished_at  DATETIME,
			status       TEXT NOT NULL,
			error        TEXT,
			detail       TEXT
		);
		CREATE TABLE job_counters (
			job_name      TEXT PRIMARY KEY,
			run_count     INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			error_count   INTEGER NOT NULL DEFAULT 0,
			last_run      DATETIME,
			last_status   TEXT
		);
	`)
	require.NoError(t, err)
	return db
}

func TestGapRetryStoreAttemptsStartsAtZero(t *testing.T) {
	s := NewGapRetryStore(setupTestDB(t), zerolog.Nop())
	n, err := s.Attempts("energy_prices:1700000000")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGapRetryStoreRecordAttemptIncrements(t *testing.T) {
	s := NewGapRetryStore(setupTestDB(t), zerolog.Nop())
	gapID := "energy_prices:1700000000"
	start := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	require.NoError(t, s.RecordAttempt(gapID, "energy_prices", start, end, errors.New("upstream 500")))
	n, err := s.Attempts(gapID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.RecordAttempt(gapID, "energy_prices", start, end, errors.New("upstream 500 again")))
	n, err = s.Attempts(gapID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobCounterStoreRecordRunThenLoadAll(t *testing.T) {
	db := setupTestDB(t)
	s := NewJobCounterStore(db, zerolog.Nop())

	start := time.Date(2025, 10, 20, 1, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(uuid.NewString(), "daily_backfill", start, start.Add(2*time.Second), nil))
	require.NoError(t, s.RecordRun(uuid.NewString(), "daily_backfill", start.Add(time.Hour), start.Add(time.Hour+time.Second), errors.New("boom")))

	restored, err := s.LoadAll()
	require.NoError(t, err)
	require.Contains(t, restored, "daily_backfill")

	c := restored["daily_backfill"]
	assert.Equal(t, 2, c.Runs)
	assert.Equal(t, 1, c.Failures)
	assert.False(t, c.LastRunAt.IsZero())
}

func TestJobCounterStoreLoadAllEmptyIsEmptyMap(t *testing.T) {
	s := NewJobCounterStore(setupTestDB(t), zerolog.Nop())
	restored, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, restored)
}
