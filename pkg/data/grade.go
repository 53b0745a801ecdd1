package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Grade results. PUSH and NO_LINE rows carry error metrics but are excluded
// from the hit-rate denominator.
const (
	ResultWin    string = "WIN"
	ResultLoss   string = "LOSS"
	ResultPush   string = "PUSH"
	ResultNoLine string = "NO_LINE"
)

const (
	insertGradeSQL = `INSERT INTO grade (
			entity_id, occurrence_id, model_id, actual, predicted, line,
			abs_error, signed_error, result, tier, graded_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, occurrence_id, model_id, graded_at) DO NOTHING
	`

	// Latest grade per key; corrections append rows with a later graded_at
	// rather than mutating in place.
	selectLatestGradesByOccurrenceSQL = `SELECT
			entity_id, occurrence_id, model_id, actual, predicted, line,
			abs_error, signed_error, result, tier, graded_at
		FROM (
			SELECT g.*,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY graded_at DESC
				) AS rn
			FROM grade g
			WHERE occurrence_id = ?
		)
		WHERE rn = 1
		ORDER BY entity_id, model_id
	`

	// Rolling directional record for one model: decided (win/loss) and won
	// counts over a trailing window, on the latest grade per key.
	selectModelWindowSQL = `WITH latest AS (
			SELECT entity_id, occurrence_id, model_id, result, graded_at,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY graded_at DESC
				) AS rn
			FROM grade
			WHERE model_id = ?
		)
		SELECT
			COUNT(CASE WHEN result IN ('WIN','LOSS') THEN 1 END) AS decided,
			COUNT(CASE WHEN result = 'WIN' THEN 1 END) AS won
		FROM latest
		WHERE rn = 1 AND graded_at >= ?
	`
)

// Grade is one graded prediction, append-only.
type Grade struct {
	EntityID     string    `json:"entity_id" yaml:"entityId"`
	OccurrenceID string    `json:"occurrence_id" yaml:"occurrenceId"`
	ModelID      string    `json:"model_id" yaml:"modelId"`
	Actual       float64   `json:"actual" yaml:"actual"`
	Predicted    float64   `json:"predicted" yaml:"predicted"`
	Line         *float64  `json:"line,omitempty" yaml:"line,omitempty"`
	AbsError     float64   `json:"abs_error" yaml:"absError"`
	SignedError  float64   `json:"signed_error" yaml:"signedError"`
	Result       string    `json:"result" yaml:"result"`
	Tier         int       `json:"tier" yaml:"tier"`
	GradedAt     time.Time `json:"graded_at" yaml:"gradedAt"`
}

// DirectionalRecord is a model's rolling win/loss record.
type DirectionalRecord struct {
	Decided int `json:"decided" yaml:"decided"`
	Won     int `json:"won" yaml:"won"`
}

// HitRate returns won/decided, or 0 with no decided grades.
func (r *DirectionalRecord) HitRate() float64 {
	if r.Decided == 0 {
		return 0
	}
	return float64(r.Won) / float64(r.Decided)
}

// SaveGrades appends graded outcomes in one transaction.
func SaveGrades(db *sql.DB, grades []*Grade) error {
	if db == nil {
		return errDBNotInitialized
	}
	if len(grades) == 0 {
		return nil
	}

	stmt, err := db.Prepare(insertGradeSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare grade insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	for i, g := range grades {
		var line any
		if g.Line != nil {
			line = *g.Line
		}
		if _, err := tx.Stmt(stmt).Exec(
			g.EntityID, g.OccurrenceID, g.ModelID, g.Actual, g.Predicted, line,
			g.AbsError, g.SignedError, g.Result, g.Tier, formatTime(g.GradedAt)); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "error inserting grade[%d]: %s/%s/%s",
				i, g.EntityID, g.OccurrenceID, g.ModelID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetLatestGrades returns the most recent grade per key for one occurrence.
func GetLatestGrades(db *sql.DB, occurrenceID string) ([]*Grade, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectLatestGradesByOccurrenceSQL, occurrenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query grades: %s", occurrenceID)
	}
	defer rows.Close()

	list := make([]*Grade, 0)
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func scanGrade(rows *sql.Rows) (*Grade, error) {
	g := &Grade{}
	var graded string
	var line sql.NullFloat64
	if err := rows.Scan(&g.EntityID, &g.OccurrenceID, &g.ModelID, &g.Actual, &g.Predicted,
		&line, &g.AbsError, &g.SignedError, &g.Result, &g.Tier, &graded); err != nil {
		return nil, errors.Wrap(err, "failed to scan grade row")
	}
	if line.Valid {
		v := line.Float64
		g.Line = &v
	}
	g.GradedAt = parseTime(graded)
	return g, nil
}

// GetModelWindow returns a model's directional record over the trailing
// window ending now.
func GetModelWindow(db *sql.DB, modelID string, days int) (*DirectionalRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	since := formatTime(time.Now().UTC().AddDate(0, 0, -days))
	rec := &DirectionalRecord{}
	if err := db.QueryRow(selectModelWindowSQL, modelID, since).Scan(&rec.Decided, &rec.Won); err != nil {
		return nil, errors.Wrapf(err, "failed to query model window: %s", modelID)
	}
	return rec, nil
}
