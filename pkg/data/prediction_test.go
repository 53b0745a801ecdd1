package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func testPrediction(entity, occurrence, model string, predicted float64, generatedAt time.Time) *Prediction {
	return &Prediction{
		EntityID:       entity,
		OccurrenceID:   occurrence,
		ModelID:        model,
		Predicted:      predicted,
		Recommendation: RecommendationNoLine,
		Quality:        1.0,
		GeneratedAt:    generatedAt,
		RunMode:        RunModeInitial,
	}
}

func TestRecommend(t *testing.T) {
	assert.Equal(t, RecommendationNoLine, Recommend(20, nil))
	assert.Equal(t, RecommendationOver, Recommend(25, ptr(22.5)))
	assert.Equal(t, RecommendationUnder, Recommend(20, ptr(22.5)))
	assert.Equal(t, RecommendationPush, Recommend(22.5, ptr(22.5)))
}

func TestStagePredictions(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	staged, err := StagePredictions(db, []*Prediction{
		testPrediction("p1", "g1", "m1", 21.5, now),
		testPrediction("p2", "g1", "m1", 8.0, now),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, staged)

	list, err := GetActivePredictions(db, "g1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStagePredictions_CollapsesBatchPerKey(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	// same key twice in one batch, latest generated_at wins
	staged, err := StagePredictions(db, []*Prediction{
		testPrediction("p1", "g1", "m1", 20.0, now),
		testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, staged)

	list, err := GetActivePredictions(db, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 23.0, list[0].Predicted)
}

func TestStagePredictions_ResubmissionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	batch := []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)}
	_, err := StagePredictions(db, batch)
	require.NoError(t, err)
	_, err = StagePredictions(db, batch)
	require.NoError(t, err)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStagePredictions_LeavesOlderRowsActive(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	// two separate runs create transient duplicates; staging never
	// deactivates pre-existing rows
	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)})
	require.NoError(t, err)
	_, err = StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second))})
	require.NoError(t, err)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetActivePredictions_DedupesAtReadTime(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)})
	require.NoError(t, err)
	_, err = StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second))})
	require.NoError(t, err)

	// duplicates exist but the read returns only the latest per key
	list, err := GetActivePredictions(db, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 23.0, list[0].Predicted)
}

func TestStagePredictions_PersistsLineAndEdge(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	p := testPrediction("p1", "g1", "m1", 25.0, now)
	p.Line = ptr(22.5)
	p.Edge = ptr(2.5)
	p.Recommendation = RecommendationOver

	_, err := StagePredictions(db, []*Prediction{p})
	require.NoError(t, err)

	list, err := GetActivePredictions(db, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Line)
	require.NotNil(t, list[0].Edge)
	assert.Equal(t, 22.5, *list[0].Line)
	assert.Equal(t, 2.5, *list[0].Edge)
	assert.Equal(t, RecommendationOver, list[0].Recommendation)
}

func TestStagePredictions_EmptyBatch(t *testing.T) {
	db := setupTestDB(t)
	staged, err := StagePredictions(db, nil)
	require.NoError(t, err)
	assert.Zero(t, staged)
}

func TestStagePredictions_NilDB(t *testing.T) {
	_, err := StagePredictions(nil, []*Prediction{testPrediction("p1", "g1", "m1", 1, time.Now())})
	assert.Error(t, err)
}
