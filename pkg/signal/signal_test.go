package signal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.Init(dbPath))
	db, err := data.GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(v float64) *float64 { return &v }

func signalConfig() config.SignalConfig {
	return config.SignalConfig{
		Breakeven:       0.524,
		WilsonZ:         1.645,
		MinObservations: 30,
		RetirePeriods:   3,
		WindowDays:      60,
		EdgeThreshold:   1.5,
		MinQuality:      0.8,
	}
}

func stagePrediction(t *testing.T, db *sql.DB, entity, model string, predicted float64, line *float64, quality float64) {
	t.Helper()
	p := &data.Prediction{
		EntityID:       entity,
		OccurrenceID:   "g1",
		ModelID:        model,
		Predicted:      predicted,
		Line:           line,
		Recommendation: data.Recommend(predicted, line),
		Quality:        quality,
		GeneratedAt:    time.Now().UTC(),
		RunMode:        data.RunModeInitial,
		RunID:          "run-1",
	}
	if line != nil {
		edge := predicted - *line
		p.Edge = &edge
	}
	_, err := data.StagePredictions(db, []*data.Prediction{p})
	require.NoError(t, err)
}

func TestEvaluateOccurrence(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_ridge_v1"}, false))

	// both models call OVER on the same entity
	stagePrediction(t, db, "p1", "pts_linear_v1", 24.0, ptr(20.0), 1.0)
	stagePrediction(t, db, "p1", "pts_ridge_v1", 23.0, ptr(20.0), 1.0)

	res, err := EvaluateOccurrence(context.Background(), db, "g1", signalConfig())
	require.NoError(t, err)

	assert.Equal(t, 6, res.Evaluated, "every prediction meets every evaluator")
	assert.Equal(t, 2, res.Fired[SignalEdgeMargin])
	assert.Equal(t, 2, res.Fired[SignalDataQuality])
	assert.Equal(t, 2, res.Fired[SignalModelConsensus], "a populated fleet in agreement fires consensus")

	// evaluators self-register on first run, observational by default
	signals, err := data.ListSignals(db)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	for _, s := range signals {
		assert.Equal(t, data.SignalObservational, s.Status)
	}
}

func TestEvaluateOccurrence_ConsensusDisagreement(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_ridge_v1"}, false))

	stagePrediction(t, db, "p1", "pts_linear_v1", 24.0, ptr(20.0), 1.0)
	stagePrediction(t, db, "p1", "pts_ridge_v1", 18.0, ptr(20.0), 1.0)

	res, err := EvaluateOccurrence(context.Background(), db, "g1", signalConfig())
	require.NoError(t, err)
	assert.Zero(t, res.Fired[SignalModelConsensus])
}

func TestEvaluateOccurrence_SingleModelNoConsensus(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	stagePrediction(t, db, "p1", "pts_linear_v1", 24.0, ptr(20.0), 1.0)

	res, err := EvaluateOccurrence(context.Background(), db, "g1", signalConfig())
	require.NoError(t, err)
	assert.Zero(t, res.Fired[SignalModelConsensus], "consensus needs at least two participants")
	assert.Equal(t, 1, res.Fired[SignalEdgeMargin])
}

func TestEvaluateOccurrence_Rerun(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	stagePrediction(t, db, "p1", "pts_linear_v1", 24.0, ptr(20.0), 1.0)

	_, err := EvaluateOccurrence(context.Background(), db, "g1", signalConfig())
	require.NoError(t, err)
	_, err = EvaluateOccurrence(context.Background(), db, "g1", signalConfig())
	require.NoError(t, err)

	var total int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM signal_observation").Scan(&total))
	assert.Equal(t, 3, total, "re-evaluation upserts in place")
}
