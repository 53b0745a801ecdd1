package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePicks_And_GetPicks(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	picks := []*Pick{
		{
			OccurrenceID:   "g1",
			EntityID:       "p1",
			ModelID:        "m1",
			Predicted:      24.5,
			Line:           ptr(22.5),
			Recommendation: RecommendationOver,
			Composite:      2.0,
			Signals:        []string{"edge_margin", "model_consensus"},
			PickedAt:       now,
		},
		{
			OccurrenceID:   "g1",
			EntityID:       "p2",
			ModelID:        "m2",
			Predicted:      11.0,
			Line:           ptr(13.5),
			Recommendation: RecommendationUnder,
			Composite:      2.5,
			Signals:        []string{"edge_margin"},
			PickedAt:       now,
		},
	}
	require.NoError(t, SavePicks(db, picks))

	list, err := GetPicks(db, "g1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	// ordered best first
	assert.Equal(t, "p2", list[0].EntityID)
	assert.Equal(t, 2.5, list[0].Composite)
	assert.Equal(t, []string{"edge_margin"}, list[0].Signals)
	assert.Equal(t, []string{"edge_margin", "model_consensus"}, list[1].Signals)
	require.NotNil(t, list[1].Line)
	assert.Equal(t, 22.5, *list[1].Line)
}

func TestSavePicks_Resubmission(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	p := &Pick{
		OccurrenceID:   "g1",
		EntityID:       "p1",
		ModelID:        "m1",
		Predicted:      24.5,
		Recommendation: RecommendationNoLine,
		Composite:      1.5,
		PickedAt:       now,
	}
	require.NoError(t, SavePicks(db, []*Pick{p}))
	require.NoError(t, SavePicks(db, []*Pick{p}))

	list, err := GetPicks(db, "g1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSavePicks_EmptyBatch(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, SavePicks(db, nil))
}
