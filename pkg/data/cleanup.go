package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrDuplicateSpike means cleanup found more duplicate rows than the
// configured alert threshold and refused to deactivate anything. An operator
// should inspect the store before re-running; mass-deactivation is never
// done silently.
var ErrDuplicateSpike = errors.New("duplicate count exceeds alert threshold")

const (
	// Keys safe to clean: more than one active row and the last write older
	// than the visibility lag. Keys still inside the lag are skipped so
	// cleanup can run concurrently with staging for newer occurrences.
	countDuplicatesSQL = `WITH dupes AS (
			SELECT entity_id, occurrence_id, model_id,
				SUM(is_active) AS active_rows,
				MAX(written_at) AS last_write
			FROM prediction
			GROUP BY entity_id, occurrence_id, model_id
			HAVING SUM(is_active) > 1 AND MAX(written_at) <= ?
		)
		SELECT COUNT(*), COALESCE(SUM(active_rows - 1), 0) FROM dupes
	`

	deactivateDuplicatesSQL = `WITH safe AS (
			SELECT entity_id, occurrence_id, model_id
			FROM prediction
			GROUP BY entity_id, occurrence_id, model_id
			HAVING SUM(is_active) > 1 AND MAX(written_at) <= ?
		),
		ranked AS (
			SELECT p.rowid AS rid,
				ROW_NUMBER() OVER (
					PARTITION BY p.entity_id, p.occurrence_id, p.model_id
					ORDER BY p.generated_at DESC, p.written_at DESC
				) AS rn
			FROM prediction p
			JOIN safe s
				ON p.entity_id = s.entity_id
				AND p.occurrence_id = s.occurrence_id
				AND p.model_id = s.model_id
			WHERE p.is_active = 1
		)
		UPDATE prediction SET is_active = 0
		WHERE rowid IN (SELECT rid FROM ranked WHERE rn > 1)
	`
)

// CleanupResult reports one duplicate-cleanup pass.
type CleanupResult struct {
	KeysWithDuplicates int `json:"keys_with_duplicates" yaml:"keysWithDuplicates"`
	RowsDeactivated    int `json:"rows_deactivated" yaml:"rowsDeactivated"`
}

// CleanupDuplicates deactivates all but the newest active row for every key
// whose last write is older than the visibility lag (phase B of
// consolidation). The pass is idempotent: with no intervening writes a
// second invocation deactivates zero rows. The newest row per key is always
// kept; when the pending duplicate count exceeds alertMax the pass performs
// no deactivation and returns ErrDuplicateSpike.
func CleanupDuplicates(db *sql.DB, lag time.Duration, alertMax int) (*CleanupResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	cutoff := formatTime(time.Now().UTC().Add(-lag))

	var keys, pending int
	if err := db.QueryRow(countDuplicatesSQL, cutoff).Scan(&keys, &pending); err != nil {
		return nil, errors.Wrap(err, "failed to count duplicates")
	}

	res := &CleanupResult{KeysWithDuplicates: keys}

	if pending == 0 {
		log.Debugf("cleanup: no duplicates beyond visibility lag (cutoff: %s)", cutoff)
		return res, nil
	}

	if alertMax > 0 && pending > alertMax {
		log.Errorf("cleanup: %d duplicate rows across %d keys exceeds alert threshold %d, skipping deactivation",
			pending, keys, alertMax)
		return res, errors.Wrapf(ErrDuplicateSpike, "%d rows pending", pending)
	}

	r, err := db.Exec(deactivateDuplicatesSQL, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deactivate duplicates")
	}

	n, err := r.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read deactivation count")
	}
	res.RowsDeactivated = int(n)

	log.Infof("cleanup: deactivated %d rows across %d keys", res.RowsDeactivated, keys)
	return res, nil
}
