package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Signal trust states. Below the minimum sample size a signal is
// observational: computed and logged, never allowed to gate a decision.
const (
	SignalObservational string = "observational"
	SignalActive        string = "active"
	SignalRetired       string = "retired"
)

const (
	insertSignalSQL = `INSERT INTO signal (id, version, description, status, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			description = excluded.description
	`

	selectSignalsSQL = `SELECT id, version, COALESCE(description, ''), status, registered_at
		FROM signal
		ORDER BY id
	`

	updateSignalStatusSQL = `UPDATE signal SET status = ? WHERE id = ?`

	selectSignalStatusSQL = `SELECT status FROM signal WHERE id = ?`

	insertSignalTransitionSQL = `INSERT INTO signal_transition (
			signal_id, from_state, to_state, reason, occurred_at
		)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (signal_id, occurred_at, to_state) DO NOTHING
	`

	upsertObservationSQL = `INSERT INTO signal_observation (
			signal_id, entity_id, occurrence_id, model_id, fired, score, observed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (signal_id, entity_id, occurrence_id, model_id) DO UPDATE SET
			fired = excluded.fired,
			score = excluded.score,
			observed_at = excluded.observed_at
	`

	countObservationsSQL = `SELECT COUNT(*)
		FROM signal_observation
		WHERE signal_id = ? AND fired = 1
	`

	// Directional record of the predictions a signal fired on, over the
	// trailing window, using the latest grade per key.
	selectSignalWindowSQL = `WITH latest AS (
			SELECT entity_id, occurrence_id, model_id, result, graded_at,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id, occurrence_id, model_id
					ORDER BY graded_at DESC
				) AS rn
			FROM grade
		)
		SELECT
			COUNT(CASE WHEN g.result IN ('WIN','LOSS') THEN 1 END) AS decided,
			COUNT(CASE WHEN g.result = 'WIN' THEN 1 END) AS won
		FROM signal_observation o
		JOIN latest g
			ON g.rn = 1
			AND o.entity_id = g.entity_id
			AND o.occurrence_id = g.occurrence_id
			AND o.model_id = g.model_id
		WHERE o.signal_id = ? AND o.fired = 1 AND g.graded_at >= ?
	`

	selectFiredByOccurrenceSQL = `SELECT signal_id, entity_id, occurrence_id, model_id, score
		FROM signal_observation
		WHERE occurrence_id = ? AND fired = 1
		ORDER BY signal_id, entity_id, model_id
	`
)

// SignalInfo is the durable descriptor of a registered signal evaluator.
type SignalInfo struct {
	ID           string    `json:"id" yaml:"id"`
	Version      int       `json:"version" yaml:"version"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Status       string    `json:"status" yaml:"status"`
	RegisteredAt time.Time `json:"registered_at" yaml:"registeredAt"`
}

// Observation records whether a signal fired for one prediction.
type Observation struct {
	SignalID     string    `json:"signal_id" yaml:"signalId"`
	EntityID     string    `json:"entity_id" yaml:"entityId"`
	OccurrenceID string    `json:"occurrence_id" yaml:"occurrenceId"`
	ModelID      string    `json:"model_id" yaml:"modelId"`
	Fired        bool      `json:"fired" yaml:"fired"`
	Score        float64   `json:"score" yaml:"score"`
	ObservedAt   time.Time `json:"observed_at" yaml:"observedAt"`
}

// RegisterSignal persists a signal descriptor. Re-registering updates the
// version and description but preserves the trust status.
func RegisterSignal(db *sql.DB, s *SignalInfo) error {
	if db == nil {
		return errDBNotInitialized
	}
	if s == nil || s.ID == "" {
		return errors.New("signal with id required")
	}

	if s.Status == "" {
		s.Status = SignalObservational
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now().UTC()
	}

	if _, err := db.Exec(insertSignalSQL,
		s.ID, s.Version, s.Description, s.Status, formatTime(s.RegisteredAt)); err != nil {
		return errors.Wrapf(err, "failed to register signal: %s", s.ID)
	}
	return nil
}

// ListSignals returns all registered signals.
func ListSignals(db *sql.DB) ([]*SignalInfo, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectSignalsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query signals")
	}
	defer rows.Close()

	list := make([]*SignalInfo, 0)
	for rows.Next() {
		s := &SignalInfo{}
		var registered string
		if err := rows.Scan(&s.ID, &s.Version, &s.Description, &s.Status, &registered); err != nil {
			return nil, errors.Wrap(err, "failed to scan signal row")
		}
		s.RegisteredAt = parseTime(registered)
		list = append(list, s)
	}
	return list, rows.Err()
}

// SetSignalStatus updates trust status and records the transition.
func SetSignalStatus(db *sql.DB, id, toState, reason string) error {
	if db == nil {
		return errDBNotInitialized
	}

	var current string
	if err := db.QueryRow(selectSignalStatusSQL, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Errorf("signal not found: %s", id)
		}
		return errors.Wrapf(err, "failed to get signal status: %s", id)
	}
	if current == toState {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if _, err := tx.Exec(updateSignalStatusSQL, toState, id); err != nil {
		rollbackTransaction(tx)
		return errors.Wrapf(err, "failed to update signal status: %s", id)
	}

	if _, err := tx.Exec(insertSignalTransitionSQL,
		id, current, toState, reason, formatTime(time.Now().UTC())); err != nil {
		rollbackTransaction(tx)
		return errors.Wrapf(err, "failed to record signal transition: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// SaveObservations upserts a batch of signal observations, keyed per
// (signal, entity, occurrence, model) so re-evaluation is idempotent.
func SaveObservations(db *sql.DB, obs []*Observation) error {
	if db == nil {
		return errDBNotInitialized
	}
	if len(obs) == 0 {
		return nil
	}

	stmt, err := db.Prepare(upsertObservationSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare observation upsert statement")
	}
	defer stmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	for i, o := range obs {
		fired := 0
		if o.Fired {
			fired = 1
		}
		if _, err := tx.Stmt(stmt).Exec(
			o.SignalID, o.EntityID, o.OccurrenceID, o.ModelID, fired, o.Score,
			formatTime(o.ObservedAt)); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "error inserting observation[%d]: %s", i, o.SignalID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// CountFiredObservations returns the lifetime fired-observation count for a
// signal, the sample size used by trust gating.
func CountFiredObservations(db *sql.DB, signalID string) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	var n int
	if err := db.QueryRow(countObservationsSQL, signalID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to count observations: %s", signalID)
	}
	return n, nil
}

// GetSignalWindow returns the rolling directional record of the predictions
// a signal fired on.
func GetSignalWindow(db *sql.DB, signalID string, days int) (*DirectionalRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	since := formatTime(time.Now().UTC().AddDate(0, 0, -days))
	rec := &DirectionalRecord{}
	if err := db.QueryRow(selectSignalWindowSQL, signalID, since).Scan(&rec.Decided, &rec.Won); err != nil {
		return nil, errors.Wrapf(err, "failed to query signal window: %s", signalID)
	}
	return rec, nil
}

// GetFiredObservations returns all fired observations for one occurrence,
// used by the aggregator to compose curated picks.
func GetFiredObservations(db *sql.DB, occurrenceID string) ([]*Observation, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectFiredByOccurrenceSQL, occurrenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query observations: %s", occurrenceID)
	}
	defer rows.Close()

	list := make([]*Observation, 0)
	for rows.Next() {
		o := &Observation{Fired: true}
		if err := rows.Scan(&o.SignalID, &o.EntityID, &o.OccurrenceID, &o.ModelID, &o.Score); err != nil {
			return nil, errors.Wrap(err, "failed to scan observation row")
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
