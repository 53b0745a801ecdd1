package data

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	insertPickSQL = `INSERT INTO curated_pick (
			occurrence_id, entity_id, model_id, predicted, line,
			recommendation, composite, signals, picked_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (occurrence_id, entity_id, model_id, picked_at) DO NOTHING
	`

	selectPicksByOccurrenceSQL = `SELECT
			occurrence_id, entity_id, model_id, predicted, line,
			recommendation, composite, signals, picked_at
		FROM curated_pick
		WHERE occurrence_id = ?
		ORDER BY composite DESC, entity_id
	`
)

// Pick is one curated entry: a prediction plus the signals that fired and
// the composite score. Picks are append-only per period and are gradeable
// independently of the underlying model's own grading.
type Pick struct {
	OccurrenceID   string    `json:"occurrence_id" yaml:"occurrenceId"`
	EntityID       string    `json:"entity_id" yaml:"entityId"`
	ModelID        string    `json:"model_id" yaml:"modelId"`
	Predicted      float64   `json:"predicted" yaml:"predicted"`
	Line           *float64  `json:"line,omitempty" yaml:"line,omitempty"`
	Recommendation string    `json:"recommendation" yaml:"recommendation"`
	Composite      float64   `json:"composite" yaml:"composite"`
	Signals        []string  `json:"signals" yaml:"signals"`
	PickedAt       time.Time `json:"picked_at" yaml:"pickedAt"`
}

// SavePicks appends curated picks in one transaction.
func SavePicks(db *sql.DB, picks []*Pick) error {
	if db == nil {
		return errDBNotInitialized
	}
	if len(picks) == 0 {
		return nil
	}

	stmt, err := db.Prepare(insertPickSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare pick insert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	for i, p := range picks {
		var line any
		if p.Line != nil {
			line = *p.Line
		}
		if _, err := tx.Stmt(stmt).Exec(
			p.OccurrenceID, p.EntityID, p.ModelID, p.Predicted, line,
			p.Recommendation, p.Composite, strings.Join(p.Signals, ","),
			formatTime(p.PickedAt)); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "error inserting pick[%d]: %s/%s", i, p.EntityID, p.ModelID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetPicks returns the curated picks for one occurrence, best first.
func GetPicks(db *sql.DB, occurrenceID string) ([]*Pick, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectPicksByOccurrenceSQL, occurrenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query picks: %s", occurrenceID)
	}
	defer rows.Close()

	list := make([]*Pick, 0)
	for rows.Next() {
		p := &Pick{}
		var picked, signals string
		var line sql.NullFloat64
		if err := rows.Scan(&p.OccurrenceID, &p.EntityID, &p.ModelID, &p.Predicted,
			&line, &p.Recommendation, &p.Composite, &signals, &picked); err != nil {
			return nil, errors.Wrap(err, "failed to scan pick row")
		}
		if line.Valid {
			v := line.Float64
			p.Line = &v
		}
		if signals != "" {
			p.Signals = strings.Split(signals, ",")
		}
		p.PickedAt = parseTime(picked)
		list = append(list, p)
	}
	return list, rows.Err()
}
