// Package state holds the repositories that back the local SQLite state
// database (internal/database): per-gap backfill retry counters and
// per-job run counters. Both survive a restart, unlike the in-process
// maps the callers used to keep these in.
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// GapRetryStore persists backfill.Engine's per-gap retry counter in the
// gap_retries table, keyed by the gap's deterministic id. It implements
// backfill.RetryTracker without importing that package, so this package
// can also serve the scheduler's job counters without a dependency cycle.
type GapRetryStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewGapRetryStore builds a GapRetryStore over db (the state database's
// connection).
func NewGapRetryStore(db *sql.DB, log zerolog.Logger) *GapRetryStore {
	return &GapRetryStore{db: db, log: log.With().Str("repository", "gap_retries").Logger()}
}

// Attempts returns how many retry attempts have been recorded for gapID,
// or 0 if it has none yet.
func (s *GapRetryStore) Attempts(gapID string) (int, error) {
	var attempts int
	err := s.db.QueryRow(`SELECT attempts FROM gap_retries WHERE gap_id = ?`, gapID).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query gap_retries for %s: %w", gapID, err)
	}
	return attempts, nil
}

// RecordAttempt increments gapID's attempt counter, creating the row on
// the first failure and updating last_attempt/last_error on every
// subsequent one.
func (s *GapRetryStore) RecordAttempt(gapID, measurement string, start, end time.Time, recordErr error) error {
	errText := ""
	if recordErr != nil {
		errText = recordErr.Error()
	}
	now := time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO gap_retries (gap_id, measurement, start_time, end_time, attempts, last_attempt, last_error)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(gap_id) DO UPDATE SET
			attempts     = attempts + 1,
			last_attempt = excluded.last_attempt,
			last_error   = excluded.last_error
	`, gapID, measurement, start.UTC(), end.UTC(), now, errText)
	if err != nil {
		return fmt.Errorf("record gap retry for %s: %w", gapID, err)
	}
	return nil
}
