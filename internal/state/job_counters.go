package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/chocofactory/internal/scheduler"
)

// JobCounterStore persists scheduler.Scheduler's per-job run counters in
// the job_counters table (a running rollup, matching what Status()
// reports) and job_runs (one row per run, kept for after-the-fact
// debugging). Scheduler.AttachPersister takes one of these so Status()
// survives a restart instead of resetting to zero.
type JobCounterStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewJobCounterStore builds a JobCounterStore over db (the state
// database's connection).
func NewJobCounterStore(db *sql.DB, log zerolog.Logger) *JobCounterStore {
	return &JobCounterStore{db: db, log: log.With().Str("repository", "job_counters").Logger()}
}

// LoadAll reconstructs every job's counters from job_counters, keyed by
// job name. The schema doesn't carry last_error (job_runs has the
// per-run detail instead), so a restored Counters' LastError is a fixed
// placeholder when the last persisted run failed, and empty otherwise.
func (s *JobCounterStore) LoadAll() (map[string]scheduler.Counters, error) {
	rows, err := s.db.Query(`SELECT job_name, run_count, error_count, last_run, last_status FROM job_counters`)
	if err != nil {
		return nil, fmt.Errorf("load job_counters: %w", err)
	}
	defer rows.Close()

	out := map[string]scheduler.Counters{}
	for rows.Next() {
		var (
			jobName    string
			runCount   int
			errorCount int
			lastRun    sql.NullTime
			lastStatus sql.NullString
		)
		if err := rows.Scan(&jobName, &runCount, &errorCount, &lastRun, &lastStatus); err != nil {
			s.log.Warn().Err(err).Msg("failed to scan job_counters row")
			continue
		}

		c := scheduler.Counters{Runs: runCount, Failures: errorCount}
		if lastRun.Valid {
			c.LastRunAt = lastRun.Time
		}
		if lastStatus.Valid && lastStatus.String == "error" {
			c.LastError = "job failed on last persisted run"
		}
		out[jobName] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job_counters: %w", err)
	}
	return out, nil
}

// RecordRun appends a job_runs row for the run identified by runID and
// upserts jobName's rollup in job_counters, both within one transaction
// so neither table is ever written without the other.
func (s *JobCounterStore) RecordRun(runID, jobName string, startedAt, finishedAt time.Time, runErr error) error {
	status := "success"
	var errText *string
	if runErr != nil {
		status = "error"
		text := runErr.Error()
		errText = &text
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin job run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO job_runs (id, job_name, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, jobName, startedAt.UTC(), finishedAt.UTC(), status, errText); err != nil {
		return fmt.Errorf("insert job_runs: %w", err)
	}

	successDelta, errorDelta := 1, 0
	if runErr != nil {
		successDelta, errorDelta = 0, 1
	}
	if _, err := tx.Exec(`
		INSERT INTO job_counters (job_name, run_count, success_count, error_count, last_run, last_status)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			run_count     = run_count + 1,
			success_count = success_count + ?,
			error_count   = error_count + ?,
			last_run      = excluded.last_run,
			last_status   = excluded.last_status
	`, jobName, successDelta, errorDelta, finishedAt.UTC(), status, successDelta, errorDelta); err != nil {
		return fmt.Errorf("upsert job_counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job run tx: %w", err)
	}
	return nil
}
