package data

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Model lifecycle states. Lifecycle is only ever mutated by the governance
// gate (or the administrative retire command); rows are never deleted so the
// audit history survives retirement.
const (
	LifecycleShadow     string = "shadow"
	LifecycleProduction string = "production"
	LifecycleBlocked    string = "blocked"
	LifecycleRetired    string = "retired"
)

const (
	insertModelSQL = `INSERT INTO model (
			id, family, version, lifecycle, registered_at, trained_from, trained_to, artifact_path
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	reissueModelSQL = `UPDATE model SET
			version = version + 1,
			trained_from = ?,
			trained_to = ?,
			artifact_path = ?,
			registered_at = ?
		WHERE id = ?
	`

	selectModelSQL = `SELECT
			id, family, version, lifecycle, registered_at,
			COALESCE(trained_from, ''), COALESCE(trained_to, ''), COALESCE(artifact_path, '')
		FROM model
		WHERE id = ?
	`

	selectActiveModelsSQL = `SELECT
			id, family, version, lifecycle, registered_at,
			COALESCE(trained_from, ''), COALESCE(trained_to, ''), COALESCE(artifact_path, '')
		FROM model
		WHERE lifecycle != 'retired'
		ORDER BY id
	`

	selectAllModelsSQL = `SELECT
			id, family, version, lifecycle, registered_at,
			COALESCE(trained_from, ''), COALESCE(trained_to, ''), COALESCE(artifact_path, '')
		FROM model
		ORDER BY id
	`

	updateLifecycleSQL = `UPDATE model SET lifecycle = ? WHERE id = ?`

	insertTransitionSQL = `INSERT INTO model_transition (
			model_id, from_state, to_state, reason, occurred_at
		)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_id, occurred_at, to_state) DO NOTHING
	`

	selectTransitionsSQL = `SELECT model_id, from_state, to_state, reason, occurred_at
		FROM model_transition
		WHERE model_id = ?
		ORDER BY occurred_at
	`
)

// Model is the durable descriptor of one member of the fleet.
type Model struct {
	ID           string    `json:"id" yaml:"id"`
	Family       string    `json:"family" yaml:"family"`
	Version      int       `json:"version" yaml:"version"`
	Lifecycle    string    `json:"lifecycle" yaml:"lifecycle"`
	RegisteredAt time.Time `json:"registered_at" yaml:"registeredAt"`
	TrainedFrom  string    `json:"trained_from,omitempty" yaml:"trainedFrom,omitempty"`
	TrainedTo    string    `json:"trained_to,omitempty" yaml:"trainedTo,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty" yaml:"artifactPath,omitempty"`
}

// Transition is one lifecycle change of a model or signal.
type Transition struct {
	SubjectID  string    `json:"subject_id" yaml:"subjectId"`
	FromState  string    `json:"from_state" yaml:"fromState"`
	ToState    string    `json:"to_state" yaml:"toState"`
	Reason     string    `json:"reason" yaml:"reason"`
	OccurredAt time.Time `json:"occurred_at" yaml:"occurredAt"`
}

// RegisterModel persists a new model descriptor. Registering an id that
// already exists fails unless reissue is set, in which case the descriptor
// gets a new version with fresh training metadata.
func RegisterModel(db *sql.DB, m *Model, reissue bool) error {
	if db == nil {
		return errDBNotInitialized
	}
	if m == nil || m.ID == "" {
		return errors.New("model with id required")
	}

	existing, err := GetModel(db, m.ID)
	if err != nil {
		return err
	}

	if existing != nil {
		if !reissue {
			return errors.Errorf("model already registered: %s", m.ID)
		}
		if _, err := db.Exec(reissueModelSQL,
			m.TrainedFrom, m.TrainedTo, m.ArtifactPath, formatTime(time.Now().UTC()), m.ID); err != nil {
			return errors.Wrapf(err, "failed to reissue model: %s", m.ID)
		}
		return nil
	}

	if m.Lifecycle == "" {
		m.Lifecycle = LifecycleShadow
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now().UTC()
	}

	if _, err := db.Exec(insertModelSQL,
		m.ID, m.Family, m.Version, m.Lifecycle, formatTime(m.RegisteredAt),
		m.TrainedFrom, m.TrainedTo, m.ArtifactPath); err != nil {
		return errors.Wrapf(err, "failed to insert model: %s", m.ID)
	}

	return nil
}

// GetModel returns the descriptor for the given id, or nil when not found.
func GetModel(db *sql.DB, id string) (*Model, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	row := db.QueryRow(selectModelSQL, id)
	m, err := scanModel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get model: %s", id)
	}
	return m, nil
}

// ListActiveModels returns all non-retired descriptors. Callers must invoke
// this at the start of every run rather than holding the result as process
// state; a stale fleet silently drops newly registered models.
func ListActiveModels(db *sql.DB) ([]*Model, error) {
	return listModels(db, selectActiveModelsSQL)
}

// ListAllModels returns every descriptor, retired included.
func ListAllModels(db *sql.DB) ([]*Model, error) {
	return listModels(db, selectAllModelsSQL)
}

func listModels(db *sql.DB, query string) ([]*Model, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query models")
	}
	defer rows.Close()

	list := make([]*Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan model row")
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner) (*Model, error) {
	m := &Model{}
	var registered string
	if err := r.Scan(&m.ID, &m.Family, &m.Version, &m.Lifecycle, &registered,
		&m.TrainedFrom, &m.TrainedTo, &m.ArtifactPath); err != nil {
		return nil, err
	}
	m.RegisteredAt = parseTime(registered)
	return m, nil
}

// SetModelLifecycle updates the lifecycle state and records the transition.
func SetModelLifecycle(db *sql.DB, id, toState, reason string) error {
	if db == nil {
		return errDBNotInitialized
	}

	m, err := GetModel(db, id)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.Errorf("model not found: %s", id)
	}
	if m.Lifecycle == toState {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if _, err := tx.Exec(updateLifecycleSQL, toState, id); err != nil {
		rollbackTransaction(tx)
		return errors.Wrapf(err, "failed to update lifecycle: %s", id)
	}

	if _, err := tx.Exec(insertTransitionSQL,
		id, m.Lifecycle, toState, reason, formatTime(time.Now().UTC())); err != nil {
		rollbackTransaction(tx)
		return errors.Wrapf(err, "failed to record transition: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// GetModelTransitions returns the full transition history for a model.
func GetModelTransitions(db *sql.DB, id string) ([]*Transition, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectTransitionsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query transitions: %s", id)
	}
	defer rows.Close()

	list := make([]*Transition, 0)
	for rows.Next() {
		t := &Transition{}
		var at string
		if err := rows.Scan(&t.SubjectID, &t.FromState, &t.ToState, &t.Reason, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan transition row")
		}
		t.OccurredAt = parseTime(at)
		list = append(list, t)
	}
	return list, rows.Err()
}
