package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

func builtinByID(t *testing.T, id string) Signal {
	t.Helper()
	for _, s := range Builtins(signalConfig()) {
		if s.ID() == id {
			return s
		}
	}
	t.Fatalf("no builtin: %s", id)
	return nil
}

func pred(entity, model string, predicted float64, line *float64, quality float64) *data.Prediction {
	p := &data.Prediction{
		EntityID:       entity,
		OccurrenceID:   "g1",
		ModelID:        model,
		Predicted:      predicted,
		Line:           line,
		Recommendation: data.Recommend(predicted, line),
		Quality:        quality,
	}
	if line != nil {
		edge := predicted - *line
		p.Edge = &edge
	}
	return p
}

func TestEdgeMargin(t *testing.T) {
	s := builtinByID(t, SignalEdgeMargin)

	fired, score := s.Evaluate(&Context{Prediction: pred("p1", "m1", 24, ptr(20), 1)})
	assert.True(t, fired)
	assert.InDelta(t, 4.0, score, 1e-9)

	// edge is absolute: a deep under clears the threshold too
	fired, score = s.Evaluate(&Context{Prediction: pred("p1", "m1", 16, ptr(20), 1)})
	assert.True(t, fired)
	assert.InDelta(t, 4.0, score, 1e-9)

	fired, _ = s.Evaluate(&Context{Prediction: pred("p1", "m1", 20.5, ptr(20), 1)})
	assert.False(t, fired)

	fired, _ = s.Evaluate(&Context{Prediction: pred("p1", "m1", 24, nil, 1)})
	assert.False(t, fired, "no line means no edge")
}

func TestDataQuality(t *testing.T) {
	s := builtinByID(t, SignalDataQuality)

	fired, score := s.Evaluate(&Context{Prediction: pred("p1", "m1", 24, nil, 0.9)})
	assert.True(t, fired)
	assert.Equal(t, 0.9, score)

	fired, _ = s.Evaluate(&Context{Prediction: pred("p1", "m1", 24, nil, 0.5)})
	assert.False(t, fired)
}

func TestModelConsensus(t *testing.T) {
	s := builtinByID(t, SignalModelConsensus)

	members := []*fleet.Member{
		{Model: &data.Model{ID: "m1"}},
		{Model: &data.Model{ID: "m2"}},
		{Model: &data.Model{ID: "m3"}},
	}

	p1 := pred("p1", "m1", 24, ptr(20), 1)
	p2 := pred("p1", "m2", 23, ptr(20), 1)
	p3 := pred("p1", "m3", 18, ptr(20), 1)

	// full agreement fires
	fired, score := s.Evaluate(&Context{Prediction: p1, Peers: []*data.Prediction{p1, p2}, Fleet: members})
	assert.True(t, fired)
	assert.Equal(t, 1.0, score)

	// one dissenter breaks it, score reflects the split
	fired, score = s.Evaluate(&Context{Prediction: p1, Peers: []*data.Prediction{p1, p2, p3}, Fleet: members})
	assert.False(t, fired)
	require.InDelta(t, 2.0/3.0, score, 1e-9)

	// a peer outside the live fleet does not participate
	stale := pred("p1", "m_gone", 18, ptr(20), 1)
	fired, _ = s.Evaluate(&Context{Prediction: p1, Peers: []*data.Prediction{p1, p2, stale}, Fleet: members})
	assert.True(t, fired)

	// peers for other entities are ignored
	other := pred("p2", "m2", 18, ptr(20), 1)
	fired, _ = s.Evaluate(&Context{Prediction: p1, Peers: []*data.Prediction{p1, other}, Fleet: members})
	assert.False(t, fired, "one participant is not a consensus")

	// no-line predictions neither evaluate nor participate
	noline := pred("p1", "m1", 24, nil, 1)
	fired, _ = s.Evaluate(&Context{Prediction: noline, Peers: []*data.Prediction{noline, p2}, Fleet: members})
	assert.False(t, fired)
}
