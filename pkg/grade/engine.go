package grade

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
)

// OutcomeSource supplies realized values from the results-ingestion
// collaborator, arriving once per occurrence after completion.
type OutcomeSource interface {
	GetOutcomes(ctx context.Context, occurrenceID string) (map[string]float64, error)
}

// Summary reports one grading pass. Error metrics cover every graded
// prediction; the hit-rate denominator is line-bearing decided grades only.
// The two denominators are distinct on purpose and must stay that way.
type Summary struct {
	OccurrenceID string  `json:"occurrence_id" yaml:"occurrenceId"`
	Graded       int     `json:"graded" yaml:"graded"`
	Skipped      int     `json:"skipped" yaml:"skipped"`
	MAE          float64 `json:"mae" yaml:"mae"`
	Decided      int     `json:"decided" yaml:"decided"`
	Won          int     `json:"won" yaml:"won"`
	HitRate      float64 `json:"hit_rate" yaml:"hitRate"`
}

// Occurrence grades every active prediction of one occurrence against its
// realized outcomes. Predictions are read deduped to the latest generation
// timestamp per key, so grading never depends on duplicate cleanup having
// run. The pass is idempotent: a retry with unchanged outcomes appends
// nothing; a changed outcome appends a correction with a later grading
// timestamp.
func Occurrence(ctx context.Context, db *sql.DB, occurrenceID string,
	outcomes OutcomeSource, c config.GradingConfig) (*Summary, error) {

	if db == nil {
		return nil, errors.New("database required")
	}
	if outcomes == nil {
		return nil, errors.New("outcome source required")
	}

	actuals, err := outcomes.GetOutcomes(ctx, occurrenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get outcomes: %s", occurrenceID)
	}

	preds, err := data.GetActivePredictions(db, occurrenceID)
	if err != nil {
		return nil, err
	}

	existing, err := data.GetLatestGrades(db, occurrenceID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*data.Grade, len(existing))
	for _, g := range existing {
		known[g.EntityID+"/"+g.ModelID] = g
	}

	sum := &Summary{OccurrenceID: occurrenceID}
	now := time.Now().UTC()
	batch := make([]*data.Grade, 0, len(preds))
	var absTotal float64

	for _, p := range preds {
		actual, ok := actuals[p.EntityID]
		if !ok {
			log.Debugf("no outcome for %s/%s, skipping", p.EntityID, occurrenceID)
			sum.Skipped++
			continue
		}

		if prev, ok := known[p.EntityID+"/"+p.ModelID]; ok && prev.Actual == actual {
			sum.Skipped++
			continue
		}

		g := gradeOne(p, actual, c.TierBounds, now)
		batch = append(batch, g)

		sum.Graded++
		absTotal += g.AbsError
		switch g.Result {
		case data.ResultWin:
			sum.Decided++
			sum.Won++
		case data.ResultLoss:
			sum.Decided++
		}
	}

	if err := data.SaveGrades(db, batch); err != nil {
		return nil, err
	}

	if sum.Graded > 0 {
		sum.MAE = absTotal / float64(sum.Graded)
	}
	if sum.Decided > 0 {
		sum.HitRate = float64(sum.Won) / float64(sum.Decided)
	}

	log.Infof("graded %s: %d graded (%d decided, %d won), %d skipped",
		occurrenceID, sum.Graded, sum.Decided, sum.Won, sum.Skipped)
	return sum, nil
}

// gradeOne scores a single prediction. Signed error is actual minus
// predicted: positive means the model under-predicted, which is how tier
// bias surfaces regression toward the mean at the extremes.
func gradeOne(p *data.Prediction, actual float64, tierBounds []float64, gradedAt time.Time) *data.Grade {
	g := &data.Grade{
		EntityID:     p.EntityID,
		OccurrenceID: p.OccurrenceID,
		ModelID:      p.ModelID,
		Actual:       actual,
		Predicted:    p.Predicted,
		Line:         p.Line,
		AbsError:     math.Abs(actual - p.Predicted),
		SignedError:  actual - p.Predicted,
		Tier:         Tier(actual, tierBounds),
		GradedAt:     gradedAt,
	}

	g.Result = result(p.Predicted, actual, p.Line)
	return g
}

// result makes the directional call. Only line-bearing predictions are
// gradeable for hit/miss; a prediction without a line still grades for
// error.
func result(predicted, actual float64, line *float64) string {
	if line == nil {
		return data.ResultNoLine
	}
	if actual == *line || predicted == *line {
		return data.ResultPush
	}
	if (predicted > *line) == (actual > *line) {
		return data.ResultWin
	}
	return data.ResultLoss
}

// Tier buckets a realized magnitude into its configured tier. Bounds are
// ascending upper bounds; values above the last bound land in the top tier.
func Tier(actual float64, bounds []float64) int {
	for i, b := range bounds {
		if actual <= b {
			return i
		}
	}
	return len(bounds)
}
