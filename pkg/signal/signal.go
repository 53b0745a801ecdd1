package signal

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

// Signal is a pure evaluator over one prediction and its context. Evaluate
// must not touch shared state; everything it needs arrives in the Context.
type Signal interface {
	ID() string
	Version() int
	Description() string
	Evaluate(sc *Context) (fired bool, score float64)
}

// Context is the read-only input handed to every evaluator.
type Context struct {
	Prediction *data.Prediction
	// Peers are the deduped active predictions of the same occurrence,
	// the evaluated prediction included.
	Peers []*data.Prediction
	// Fleet is the freshly discovered registry state; cross-model signals
	// resolve participating model ids through it, never a literal list.
	Fleet  []*fleet.Member
	Config config.SignalConfig
}

// EvalResult summarizes one evaluation pass.
type EvalResult struct {
	OccurrenceID string         `json:"occurrence_id" yaml:"occurrenceId"`
	Evaluated    int            `json:"evaluated" yaml:"evaluated"`
	Fired        map[string]int `json:"fired" yaml:"fired"`
}

// EvaluateOccurrence runs every registered evaluator over the active
// predictions of one occurrence and upserts the observations. Re-running is
// idempotent: observations are keyed per (signal, entity, occurrence, model).
func EvaluateOccurrence(ctx context.Context, db *sql.DB, occurrenceID string, c config.SignalConfig) (*EvalResult, error) {
	if db == nil {
		return nil, errors.New("database required")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	preds, err := data.GetActivePredictions(db, occurrenceID)
	if err != nil {
		return nil, err
	}

	members, err := fleet.Discover(db)
	if err != nil {
		return nil, err
	}

	signals := Builtins(c)
	for _, s := range signals {
		if err := data.RegisterSignal(db, &data.SignalInfo{
			ID:          s.ID(),
			Version:     s.Version(),
			Description: s.Description(),
		}); err != nil {
			return nil, err
		}
	}

	res := &EvalResult{OccurrenceID: occurrenceID, Fired: make(map[string]int)}
	now := time.Now().UTC()
	batch := make([]*data.Observation, 0, len(preds)*len(signals))

	for _, p := range preds {
		sc := &Context{Prediction: p, Peers: preds, Fleet: members, Config: c}
		for _, s := range signals {
			fired, score := s.Evaluate(sc)
			batch = append(batch, &data.Observation{
				SignalID:     s.ID(),
				EntityID:     p.EntityID,
				OccurrenceID: p.OccurrenceID,
				ModelID:      p.ModelID,
				Fired:        fired,
				Score:        score,
				ObservedAt:   now,
			})
			if fired {
				res.Fired[s.ID()]++
			}
			res.Evaluated++
		}
	}

	if err := data.SaveObservations(db, batch); err != nil {
		return nil, err
	}

	log.Infof("evaluated %s: %d observations, fired: %v", occurrenceID, res.Evaluated, res.Fired)
	return res, nil
}
