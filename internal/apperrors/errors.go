// Package apperrors defines the typed error taxonomy shared by every
// ingestion, backfill, and forecasting component.
package apperrors

import "errors"

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", Err...)
// so callers can classify a failure with errors.Is while still getting a
// descriptive message.
var (
	// ErrTransientUpstream covers network errors, HTTP 5xx, and HTTP 429.
	// Retried by the client with backoff; if still failing, the cycle
	// reports failure and the scheduler moves on to the next tick.
	ErrTransientUpstream = errors.New("transient upstream error")

	// ErrAuthExpired is a 401 from AEMET. Triggers one token refresh and a
	// single retry of the original call.
	ErrAuthExpired = errors.New("auth token expired")

	// ErrFieldTypeConflict means the store rejected a batch because a field
	// changed numeric type. Fatal for the batch; a defect in the writer.
	ErrFieldTypeConflict = errors.New("field type conflict")

	// ErrValidation covers bad caller input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrModelUnavailable means a forecast was requested before any
	// training run has ever succeeded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrCancelled means a job was stopped by scheduler shutdown.
	ErrCancelled = errors.New("cancelled")
)

// PartialSuccess is not an error in the Go sense (callers don't receive it
// via `error`) — a backfill or ingestion cycle that wrote some but not all
// expected records returns a report with a success rate instead. It's
// listed here only so the taxonomy documented in one place matches §7.
