package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	// Both metric families are computed from the latest grade per key.
	// Error metrics run over every graded prediction; the hit-rate
	// denominator is decided (win/loss) line-bearing grades only. The two
	// denominators are reported side by side and never merged.
	selectModelReportSQL = `WITH latest AS (
			SELECT entity_id, occurrence_id, model_id, abs_error, signed_error, result, graded_at,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY graded_at DESC
				) AS rn
			FROM grade
		)
		SELECT
			model_id,
			COUNT(*) AS graded,
			AVG(abs_error) AS mae,
			AVG(signed_error) AS bias,
			COUNT(CASE WHEN result IN ('WIN','LOSS') THEN 1 END) AS decided,
			COUNT(CASE WHEN result = 'WIN' THEN 1 END) AS won
		FROM latest
		WHERE rn = 1 AND graded_at >= ?
		GROUP BY model_id
		ORDER BY model_id
	`

	selectTierReportSQL = `WITH latest AS (
			SELECT entity_id, occurrence_id, model_id, tier, abs_error, signed_error, graded_at,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY graded_at DESC
				) AS rn
			FROM grade
			WHERE model_id = COALESCE(?, model_id)
		)
		SELECT
			tier,
			COUNT(*) AS graded,
			AVG(abs_error) AS mae,
			AVG(signed_error) AS bias
		FROM latest
		WHERE rn = 1 AND graded_at >= ?
		GROUP BY tier
		ORDER BY tier
	`
)

// ModelReport is the rolling health of one model.
type ModelReport struct {
	ModelID string  `json:"model_id" yaml:"modelId"`
	Graded  int     `json:"graded" yaml:"graded"`
	MAE     float64 `json:"mae" yaml:"mae"`
	Bias    float64 `json:"bias" yaml:"bias"`
	Decided int     `json:"decided" yaml:"decided"`
	Won     int     `json:"won" yaml:"won"`
	HitRate float64 `json:"hit_rate" yaml:"hitRate"`
}

// TierReport is the rolling error profile of one realized-magnitude tier.
// Bias is the mean signed error (actual minus predicted): positive means the
// tier is systematically under-predicted.
type TierReport struct {
	Tier   int     `json:"tier" yaml:"tier"`
	Graded int     `json:"graded" yaml:"graded"`
	MAE    float64 `json:"mae" yaml:"mae"`
	Bias   float64 `json:"bias" yaml:"bias"`
}

// GetModelReports returns per-model rolling metrics over the trailing window.
func GetModelReports(db *sql.DB, days int) ([]*ModelReport, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	since := formatTime(time.Now().UTC().AddDate(0, 0, -days))
	rows, err := db.Query(selectModelReportSQL, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model report")
	}
	defer rows.Close()

	list := make([]*ModelReport, 0)
	for rows.Next() {
		r := &ModelReport{}
		if err := rows.Scan(&r.ModelID, &r.Graded, &r.MAE, &r.Bias, &r.Decided, &r.Won); err != nil {
			return nil, errors.Wrap(err, "failed to scan model report row")
		}
		if r.Decided > 0 {
			r.HitRate = float64(r.Won) / float64(r.Decided)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// GetTierReports returns per-tier rolling metrics over the trailing window,
// optionally scoped to one model (empty modelID means all models).
func GetTierReports(db *sql.DB, modelID string, days int) ([]*TierReport, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var model any
	if modelID != "" {
		model = modelID
	}

	since := formatTime(time.Now().UTC().AddDate(0, 0, -days))
	rows, err := db.Query(selectTierReportSQL, model, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tier report")
	}
	defer rows.Close()

	list := make([]*TierReport, 0)
	for rows.Next() {
		r := &TierReport{}
		if err := rows.Scan(&r.Tier, &r.Graded, &r.MAE, &r.Bias); err != nil {
			return nil, errors.Wrap(err, "failed to scan tier report row")
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
