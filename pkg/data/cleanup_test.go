package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupDuplicates_KeepsNewest(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	// two generation runs wrote the same key 1 second apart
	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)})
	require.NoError(t, err)
	_, err = StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second))})
	require.NoError(t, err)

	res, err := CleanupDuplicates(db, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.KeysWithDuplicates)
	assert.Equal(t, 1, res.RowsDeactivated)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := GetActivePredictions(db, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 23.0, list[0].Predicted)
}

func TestCleanupDuplicates_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)})
	require.NoError(t, err)
	_, err = StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second))})
	require.NoError(t, err)

	first, err := CleanupDuplicates(db, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RowsDeactivated)

	// second pass with no intervening writes converges to zero
	second, err := CleanupDuplicates(db, 0, 100)
	require.NoError(t, err)
	assert.Zero(t, second.KeysWithDuplicates)
	assert.Zero(t, second.RowsDeactivated)
}

func TestCleanupDuplicates_RespectsVisibilityLag(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, now)})
	require.NoError(t, err)
	_, err = StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 23.0, now.Add(time.Second))})
	require.NoError(t, err)

	// key was written inside the lag window, must not be touched
	res, err := CleanupDuplicates(db, 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Zero(t, res.RowsDeactivated)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanupDuplicates_AlertsOnSpike(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	// three duplicate rows pending, alert threshold of one
	for i := 0; i < 4; i++ {
		_, err := StagePredictions(db, []*Prediction{
			testPrediction("p1", "g1", "m1", float64(20+i), now.Add(time.Duration(i)*time.Second)),
		})
		require.NoError(t, err)
	}

	res, err := CleanupDuplicates(db, 0, 1)
	require.ErrorIs(t, err, ErrDuplicateSpike)
	assert.Zero(t, res.RowsDeactivated)

	// nothing was deactivated
	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCleanupDuplicates_NeverDeactivatesAll(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := StagePredictions(db, []*Prediction{
			testPrediction("p1", "g1", "m1", float64(20+i), now.Add(time.Duration(i)*time.Second)),
		})
		require.NoError(t, err)
	}

	res, err := CleanupDuplicates(db, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsDeactivated)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupDuplicates_SingleRowUntouched(t *testing.T) {
	db := setupTestDB(t)

	_, err := StagePredictions(db, []*Prediction{testPrediction("p1", "g1", "m1", 20.0, time.Now().UTC())})
	require.NoError(t, err)

	res, err := CleanupDuplicates(db, 0, 100)
	require.NoError(t, err)
	assert.Zero(t, res.KeysWithDuplicates)

	n, err := CountActiveForKey(db, "p1", "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupDuplicates_NilDB(t *testing.T) {
	_, err := CleanupDuplicates(nil, 0, 100)
	assert.Error(t, err)
}
