package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// The job_run table is a lightweight coordination store that prevents
// duplicate concurrent triggering of the same upstream batch job. It guards
// scheduling of ingestion-side work only; every core write path is
// idempotent and needs no lock.

const (
	claimJobSQL = `INSERT INTO job_run (job, scope, started_at, finished_at, run_id)
		VALUES (?, ?, ?, NULL, ?)
		ON CONFLICT (job, scope) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = NULL,
			run_id = excluded.run_id
		WHERE job_run.finished_at IS NOT NULL OR job_run.started_at <= ?
	`

	finishJobSQL = `UPDATE job_run SET finished_at = ? WHERE job = ? AND scope = ? AND run_id = ?`
)

// ClaimJobRun attempts to claim (job, scope) for runID. The claim succeeds
// when no run is in flight, or when the in-flight run is older than
// staleAfter (a killed job must not wedge the schedule forever).
func ClaimJobRun(db *sql.DB, job, scope, runID string, staleAfter time.Duration) (bool, error) {
	if db == nil {
		return false, errDBNotInitialized
	}

	now := time.Now().UTC()
	staleCutoff := formatTime(now.Add(-staleAfter))

	r, err := db.Exec(claimJobSQL, job, scope, formatTime(now), runID, staleCutoff)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job run: %s/%s", job, scope)
	}

	n, err := r.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read claim result")
	}
	return n > 0, nil
}

// FinishJobRun marks a claimed run complete. A mismatched runID is a no-op.
func FinishJobRun(db *sql.DB, job, scope, runID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	if _, err := db.Exec(finishJobSQL, formatTime(time.Now().UTC()), job, scope, runID); err != nil {
		return errors.Wrapf(err, "failed to finish job run: %s/%s", job, scope)
	}
	return nil
}
