package data

import (
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Recommendation values derived from (predicted, line).
const (
	RecommendationOver   string = "OVER"
	RecommendationUnder  string = "UNDER"
	RecommendationPush   string = "PUSH"
	RecommendationNoLine string = "NO_LINE"
)

// Run modes tagged on every prediction record.
const (
	RunModeInitial    string = "initial"
	RunModeEnrichment string = "enrichment"
	RunModeBackfill   string = "backfill"
)

const (
	stagingMaxElapsed = 2 * time.Minute

	upsertPredictionSQL = `INSERT INTO prediction (
			entity_id, occurrence_id, model_id, predicted, line, recommendation,
			edge, quality, generated_at, written_at, is_active, run_mode, run_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (entity_id, occurrence_id, model_id, generated_at) DO UPDATE SET
			predicted = excluded.predicted,
			line = excluded.line,
			recommendation = excluded.recommendation,
			edge = excluded.edge,
			quality = excluded.quality,
			written_at = excluded.written_at,
			is_active = 1,
			run_mode = excluded.run_mode,
			run_id = excluded.run_id
	`

	// Latest active record per key for one occurrence. Duplicate active rows
	// may exist before cleanup has run; ranking by generated_at at read time
	// keeps consumers correct regardless.
	selectActiveByOccurrenceSQL = `SELECT
			entity_id, occurrence_id, model_id, predicted, line, recommendation,
			edge, quality, generated_at, run_mode, COALESCE(run_id, '')
		FROM (
			SELECT p.*,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY generated_at DESC, written_at DESC
				) AS rn
			FROM prediction p
			WHERE occurrence_id = ? AND is_active = 1
		)
		WHERE rn = 1
		ORDER BY entity_id, model_id
	`

	countActiveForKeySQL = `SELECT COUNT(*)
		FROM prediction
		WHERE entity_id = ? AND occurrence_id = ? AND model_id = ? AND is_active = 1
	`
)

// Prediction is one record of the prediction store, keyed by
// (entity, occurrence, model, generated_at). Multiple active rows per
// (entity, occurrence, model) may exist transiently until duplicate cleanup
// has run for the occurrence.
type Prediction struct {
	EntityID       string    `json:"entity_id" yaml:"entityId"`
	OccurrenceID   string    `json:"occurrence_id" yaml:"occurrenceId"`
	ModelID        string    `json:"model_id" yaml:"modelId"`
	Predicted      float64   `json:"predicted" yaml:"predicted"`
	Line           *float64  `json:"line,omitempty" yaml:"line,omitempty"`
	Recommendation string    `json:"recommendation" yaml:"recommendation"`
	Edge           *float64  `json:"edge,omitempty" yaml:"edge,omitempty"`
	Quality        float64   `json:"quality" yaml:"quality"`
	GeneratedAt    time.Time `json:"generated_at" yaml:"generatedAt"`
	RunMode        string    `json:"run_mode" yaml:"runMode"`
	RunID          string    `json:"run_id,omitempty" yaml:"runId,omitempty"`
}

// Key returns the natural key of the record.
func (p *Prediction) Key() string {
	return p.EntityID + "/" + p.OccurrenceID + "/" + p.ModelID
}

// Recommend derives the market-relative call from a predicted value and an
// optional line. It is deterministic on its inputs alone.
func Recommend(predicted float64, line *float64) string {
	if line == nil {
		return RecommendationNoLine
	}
	switch {
	case predicted > *line:
		return RecommendationOver
	case predicted < *line:
		return RecommendationUnder
	default:
		return RecommendationPush
	}
}

// StagePredictions merges a batch into the store (phase A of consolidation).
// The batch is first collapsed per key keeping the latest generated_at, then
// upserted set-based. Existing rows for the same key are left untouched;
// deactivating superseded rows is deferred to CleanupDuplicates so that rows
// inside the store's write-visibility lag are never re-mutated here.
func StagePredictions(db *sql.DB, preds []*Prediction) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	if len(preds) == 0 {
		return 0, nil
	}

	batch := collapseLatest(preds)
	now := formatTime(time.Now().UTC())

	stmt, err := db.Prepare(upsertPredictionSQL)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare prediction upsert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}

	for i, p := range batch {
		if _, err := tx.Stmt(stmt).Exec(
			p.EntityID, p.OccurrenceID, p.ModelID, p.Predicted, p.Line,
			p.Recommendation, p.Edge, p.Quality, formatTime(p.GeneratedAt),
			now, p.RunMode, p.RunID); err != nil {
			rollbackTransaction(tx)
			return 0, errors.Wrapf(err, "error staging prediction[%d]: %s", i, p.Key())
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	return len(batch), nil
}

// StagePredictionsWithRetry wraps StagePredictions in exponential backoff.
// Retried submissions are safe: the merge is keyed, so duplicates collapse.
func StagePredictionsWithRetry(db *sql.DB, preds []*Prediction) (int, error) {
	var staged int

	op := func() error {
		n, err := StagePredictions(db, preds)
		if err != nil {
			log.Warnf("staging failed, will retry: %v", err)
			return err
		}
		staged = n
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = stagingMaxElapsed

	if err := backoff.Retry(op, b); err != nil {
		return 0, errors.Wrap(err, "staging predictions exhausted retries")
	}
	return staged, nil
}

func collapseLatest(preds []*Prediction) []*Prediction {
	latest := make(map[string]*Prediction, len(preds))
	order := make([]string, 0, len(preds))
	for _, p := range preds {
		k := p.Key()
		cur, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = p
			continue
		}
		if p.GeneratedAt.After(cur.GeneratedAt) {
			latest[k] = p
		}
	}
	out := make([]*Prediction, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}

// GetActivePredictions returns the active predictions for one occurrence,
// deduped at read time to the latest generated_at per key.
func GetActivePredictions(db *sql.DB, occurrenceID string) ([]*Prediction, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectActiveByOccurrenceSQL, occurrenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query predictions: %s", occurrenceID)
	}
	defer rows.Close()

	list := make([]*Prediction, 0)
	for rows.Next() {
		p := &Prediction{}
		var generated string
		var line, edge sql.NullFloat64
		if err := rows.Scan(&p.EntityID, &p.OccurrenceID, &p.ModelID, &p.Predicted,
			&line, &p.Recommendation, &edge, &p.Quality, &generated, &p.RunMode, &p.RunID); err != nil {
			return nil, errors.Wrap(err, "failed to scan prediction row")
		}
		if line.Valid {
			v := line.Float64
			p.Line = &v
		}
		if edge.Valid {
			v := edge.Float64
			p.Edge = &v
		}
		p.GeneratedAt = parseTime(generated)
		list = append(list, p)
	}
	return list, rows.Err()
}

// CountActiveForKey returns the number of active rows for one natural key,
// duplicates included.
func CountActiveForKey(db *sql.DB, entityID, occurrenceID, modelID string) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	var n int
	if err := db.QueryRow(countActiveForKeySQL, entityID, occurrenceID, modelID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count active rows")
	}
	return n, nil
}
