package generate

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

// EnrichResult summarizes one line-enrichment pass.
type EnrichResult struct {
	RunID       string `json:"run_id" yaml:"runId"`
	Checked     int    `json:"checked" yaml:"checked"`
	Enriched    int    `json:"enriched" yaml:"enriched"`
	Regenerated int    `json:"regenerated" yaml:"regenerated"`
}

// EnrichOccurrence applies late-arriving market lines to existing
// predictions of one occurrence. The predicted value is carried over
// unchanged and only the recommendation and edge are refreshed, except for
// families that consume the line as a model feature, which are regenerated.
// Updates flow through the normal merge: a fresh record per key with a later
// generation timestamp, never an in-place mutation of a recently written row.
func EnrichOccurrence(ctx context.Context, db *sql.DB, occurrenceID string,
	feats FeatureSource, lines LineSource) (*EnrichResult, error) {

	if db == nil {
		return nil, errors.New("database required")
	}
	if lines == nil {
		return nil, errors.New("line source required")
	}

	preds, err := data.GetActivePredictions(db, occurrenceID)
	if err != nil {
		return nil, err
	}

	res := &EnrichResult{RunID: uuid.NewString(), Checked: len(preds)}
	batch := make([]*data.Prediction, 0)
	artifacts := make(map[string]*Artifact)
	now := time.Now().UTC()

	for _, p := range preds {
		line, err := lines.GetLine(ctx, p.EntityID, p.OccurrenceID)
		if err != nil {
			log.Warnf("line unavailable for %s/%s: %v", p.EntityID, p.OccurrenceID, err)
			continue
		}
		if line == nil {
			continue
		}
		if p.Line != nil && *p.Line == *line {
			continue
		}

		family := fleet.Classify(p.ModelID)

		if family.RequiresLine {
			np, err := regenerate(ctx, db, p, family, *line, feats, artifacts, now, res.RunID)
			if err != nil {
				log.Errorf("skipping regeneration for %s: %v", p.ModelID, err)
				continue
			}
			batch = append(batch, np)
			res.Regenerated++
			continue
		}

		edge := p.Predicted - *line
		batch = append(batch, &data.Prediction{
			EntityID:       p.EntityID,
			OccurrenceID:   p.OccurrenceID,
			ModelID:        p.ModelID,
			Predicted:      p.Predicted,
			Line:           line,
			Recommendation: data.Recommend(p.Predicted, line),
			Edge:           &edge,
			Quality:        p.Quality,
			GeneratedAt:    now,
			RunMode:        data.RunModeEnrichment,
			RunID:          res.RunID,
		})
		res.Enriched++
	}

	if len(batch) == 0 {
		return res, nil
	}

	if _, err := data.StagePredictionsWithRetry(db, batch); err != nil {
		return nil, err
	}

	log.Infof("enrichment run %s: %d enriched, %d regenerated of %d checked",
		res.RunID, res.Enriched, res.Regenerated, res.Checked)
	return res, nil
}

func regenerate(ctx context.Context, db *sql.DB, p *data.Prediction, family fleet.Family,
	line float64, feats FeatureSource, artifacts map[string]*Artifact,
	now time.Time, runID string) (*data.Prediction, error) {

	if feats == nil {
		return nil, errors.New("feature source required for line-consuming family")
	}

	a, ok := artifacts[p.ModelID]
	if !ok {
		m, err := data.GetModel(db, p.ModelID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, errors.Errorf("model not found: %s", p.ModelID)
		}
		a, err = LoadArtifact(m.ArtifactPath, family)
		if err != nil {
			return nil, err
		}
		artifacts[p.ModelID] = a
	}

	fv, err := feats.GetFeatures(ctx, p.EntityID, p.OccurrenceID)
	if err != nil {
		log.Warnf("features unavailable for %s/%s: %v", p.EntityID, p.OccurrenceID, err)
		fv = Features{}
	}

	lm := &loadedModel{
		member:   &fleet.Member{Model: &data.Model{ID: p.ModelID}, Family: family},
		artifact: a,
	}
	unit := Unit{EntityID: p.EntityID, OccurrenceID: p.OccurrenceID}

	np := buildPrediction(unit, lm, fv, &line, now, data.RunModeEnrichment, runID)
	return np, nil
}
