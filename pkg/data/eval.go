package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Governance gating is evaluated by stateless scheduled runs, so
// consecutive-window conditions (decay, sustained breaches) are derived from
// persisted evaluation history rather than process memory.
const (
	SubjectModel  string = "model"
	SubjectSignal string = "signal"
)

const (
	insertEvalSQL = `INSERT INTO governance_eval (
			subject_type, subject_id, samples, short_hit_rate, long_hit_rate,
			lower_bound, breached, decayed, evaluated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_type, subject_id, evaluated_at) DO NOTHING
	`

	selectRecentEvalsSQL = `SELECT
			samples, short_hit_rate, long_hit_rate, lower_bound, breached, decayed, evaluated_at
		FROM governance_eval
		WHERE subject_type = ? AND subject_id = ?
		ORDER BY evaluated_at DESC
		LIMIT ?
	`
)

// Evaluation is one persisted governance evaluation of a model or signal.
type Evaluation struct {
	SubjectType  string    `json:"subject_type" yaml:"subjectType"`
	SubjectID    string    `json:"subject_id" yaml:"subjectId"`
	Samples      int       `json:"samples" yaml:"samples"`
	ShortHitRate float64   `json:"short_hit_rate" yaml:"shortHitRate"`
	LongHitRate  float64   `json:"long_hit_rate" yaml:"longHitRate"`
	LowerBound   float64   `json:"lower_bound" yaml:"lowerBound"`
	Breached     bool      `json:"breached" yaml:"breached"`
	Decayed      bool      `json:"decayed" yaml:"decayed"`
	EvaluatedAt  time.Time `json:"evaluated_at" yaml:"evaluatedAt"`
}

// SaveEvaluation persists one governance evaluation.
func SaveEvaluation(db *sql.DB, e *Evaluation) error {
	if db == nil {
		return errDBNotInitialized
	}
	if e == nil || e.SubjectID == "" {
		return errors.New("evaluation with subject id required")
	}
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now().UTC()
	}

	breached, decayed := 0, 0
	if e.Breached {
		breached = 1
	}
	if e.Decayed {
		decayed = 1
	}

	if _, err := db.Exec(insertEvalSQL,
		e.SubjectType, e.SubjectID, e.Samples, e.ShortHitRate, e.LongHitRate,
		e.LowerBound, breached, decayed, formatTime(e.EvaluatedAt)); err != nil {
		return errors.Wrapf(err, "failed to save evaluation: %s/%s", e.SubjectType, e.SubjectID)
	}
	return nil
}

// GetRecentEvaluations returns the newest evaluations first, up to limit.
func GetRecentEvaluations(db *sql.DB, subjectType, subjectID string, limit int) ([]*Evaluation, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectRecentEvalsSQL, subjectType, subjectID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query evaluations: %s/%s", subjectType, subjectID)
	}
	defer rows.Close()

	list := make([]*Evaluation, 0)
	for rows.Next() {
		e := &Evaluation{SubjectType: subjectType, SubjectID: subjectID}
		var at string
		var breached, decayed int
		if err := rows.Scan(&e.Samples, &e.ShortHitRate, &e.LongHitRate,
			&e.LowerBound, &breached, &decayed, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan evaluation row")
		}
		e.Breached = breached == 1
		e.Decayed = decayed == 1
		e.EvaluatedAt = parseTime(at)
		list = append(list, e)
	}
	return list, rows.Err()
}
