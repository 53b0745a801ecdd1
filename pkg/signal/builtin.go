package signal

import (
	"math"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
)

// SignalEdgeMargin fires when the model's edge over the line clears the
// configured threshold.
const SignalEdgeMargin = "edge_margin"

// SignalDataQuality fires when the prediction's data-quality score clears
// the configured floor.
const SignalDataQuality = "data_quality"

// SignalModelConsensus fires when the live fleet's models agree on the side
// of the line for the same (entity, occurrence).
const SignalModelConsensus = "model_consensus"

// Builtins returns the evaluators shipped with the fleet, configured.
func Builtins(c config.SignalConfig) []Signal {
	return []Signal{
		&edgeMargin{threshold: c.EdgeThreshold},
		&dataQuality{min: c.MinQuality},
		&modelConsensus{},
	}
}

type edgeMargin struct {
	threshold float64
}

func (s *edgeMargin) ID() string          { return SignalEdgeMargin }
func (s *edgeMargin) Version() int        { return 1 }
func (s *edgeMargin) Description() string { return "absolute edge over the market line" }

func (s *edgeMargin) Evaluate(sc *Context) (bool, float64) {
	p := sc.Prediction
	if p.Edge == nil {
		return false, 0
	}
	e := math.Abs(*p.Edge)
	if e < s.threshold {
		return false, e
	}
	return true, e
}

type dataQuality struct {
	min float64
}

func (s *dataQuality) ID() string          { return SignalDataQuality }
func (s *dataQuality) Version() int        { return 1 }
func (s *dataQuality) Description() string { return "feature coverage of the prediction" }

func (s *dataQuality) Evaluate(sc *Context) (bool, float64) {
	q := sc.Prediction.Quality
	return q >= s.min, q
}

// modelConsensus compares predictions across the models of the live fleet
// for the same (entity, occurrence). Participants are resolved through
// registry discovery: a model that left the fleet simply stops
// participating, it never silently zeroes the signal out.
type modelConsensus struct{}

func (s *modelConsensus) ID() string          { return SignalModelConsensus }
func (s *modelConsensus) Version() int        { return 1 }
func (s *modelConsensus) Description() string { return "cross-model agreement on side of line" }

func (s *modelConsensus) Evaluate(sc *Context) (bool, float64) {
	p := sc.Prediction
	if p.Recommendation == data.RecommendationNoLine || p.Recommendation == data.RecommendationPush {
		return false, 0
	}

	live := make(map[string]bool, len(sc.Fleet))
	for _, m := range sc.Fleet {
		live[m.ID] = true
	}

	participants := 0
	agreeing := 0
	for _, peer := range sc.Peers {
		if peer.EntityID != p.EntityID || !live[peer.ModelID] {
			continue
		}
		if peer.Recommendation == data.RecommendationNoLine || peer.Recommendation == data.RecommendationPush {
			continue
		}
		participants++
		if peer.Recommendation == p.Recommendation {
			agreeing++
		}
	}

	if participants < 2 {
		return false, 0
	}

	score := float64(agreeing) / float64(participants)
	return agreeing == participants, score
}
