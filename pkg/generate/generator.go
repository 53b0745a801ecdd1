package generate

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

const parallelismDefault = 8

// Options control one generation run.
type Options struct {
	Mode        string
	Parallelism int
}

// Result summarizes one generation run.
type Result struct {
	RunID         string         `json:"run_id" yaml:"runId"`
	Units         int            `json:"units" yaml:"units"`
	Staged        int            `json:"staged" yaml:"staged"`
	SkippedModels []string       `json:"skipped_models,omitempty" yaml:"skippedModels,omitempty"`
	PerModel      map[string]int `json:"per_model" yaml:"perModel"`
}

// collector funnels concurrently produced predictions into one batch; the
// generation tasks themselves share no mutable state.
type collector struct {
	mu    sync.Mutex
	list  []*data.Prediction
	count map[string]int
}

func (c *collector) add(p *data.Prediction) {
	c.mu.Lock()
	c.list = append(c.list, p)
	c.count[p.ModelID]++
	c.mu.Unlock()
}

// Run produces one prediction per (unit, active model) and merges the batch
// into the store. The fleet is discovered fresh at the start of the run. A
// model whose artifact cannot be loaded is skipped and logged; the rest of
// the fleet proceeds. A unit with a missing line still generates, marked
// NO_LINE.
func Run(ctx context.Context, db *sql.DB, units []Unit, feats FeatureSource, lines LineSource, opts Options) (*Result, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if feats == nil {
		return nil, errors.New("feature source required")
	}

	if opts.Mode == "" {
		opts.Mode = data.RunModeInitial
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = parallelismDefault
	}

	members, err := fleet.Discover(db)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    uuid.NewString(),
		Units:    len(units),
		PerModel: make(map[string]int),
	}

	// Load every artifact up front so one bad model is isolated before the
	// fan-out, not in the middle of it.
	loaded := make([]*loadedModel, 0, len(members))
	for _, m := range members {
		a, err := LoadArtifact(m.ArtifactPath, m.Family)
		if err != nil {
			log.Errorf("skipping model %s: %v", m.ID, err)
			res.SkippedModels = append(res.SkippedModels, m.ID)
			continue
		}
		loaded = append(loaded, &loadedModel{member: m, artifact: a})
	}

	if len(loaded) == 0 || len(units) == 0 {
		log.Infof("generation run %s: nothing to do (%d models, %d units)", res.RunID, len(loaded), len(units))
		return res, nil
	}

	col := &collector{
		list:  make([]*data.Prediction, 0, len(units)*len(loaded)),
		count: make(map[string]int),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i := range units {
		unit := units[i]
		g.Go(func() error {
			return generateUnit(gctx, unit, loaded, feats, lines, opts.Mode, res.RunID, col)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "generation run failed")
	}

	staged, err := data.StagePredictionsWithRetry(db, col.list)
	if err != nil {
		return nil, err
	}
	res.Staged = staged
	for k, v := range col.count {
		res.PerModel[k] = v
	}

	log.Infof("generation run %s: staged %d predictions for %d units across %d models",
		res.RunID, staged, len(units), len(loaded))
	return res, nil
}

type loadedModel struct {
	member   *fleet.Member
	artifact *Artifact
}

func generateUnit(ctx context.Context, unit Unit, models []*loadedModel,
	feats FeatureSource, lines LineSource, mode, runID string, col *collector) error {

	fv, err := feats.GetFeatures(ctx, unit.EntityID, unit.OccurrenceID)
	if err != nil {
		// Degrade to a bias-only prediction with a floor quality score
		// rather than dropping the unit.
		log.Warnf("features unavailable for %s/%s: %v", unit.EntityID, unit.OccurrenceID, err)
		fv = Features{}
	}

	var line *float64
	if lines != nil {
		line, err = lines.GetLine(ctx, unit.EntityID, unit.OccurrenceID)
		if err != nil {
			log.Warnf("line unavailable for %s/%s: %v", unit.EntityID, unit.OccurrenceID, err)
			line = nil
		}
	}

	now := time.Now().UTC()
	for _, lm := range models {
		p := buildPrediction(unit, lm, fv, line, now, mode, runID)
		col.add(p)
	}
	return nil
}

func buildPrediction(unit Unit, lm *loadedModel, fv Features, line *float64,
	generatedAt time.Time, mode, runID string) *data.Prediction {

	predicted, quality := lm.artifact.Predict(fv, line)

	p := &data.Prediction{
		EntityID:       unit.EntityID,
		OccurrenceID:   unit.OccurrenceID,
		ModelID:        lm.member.ID,
		Predicted:      predicted,
		Line:           line,
		Recommendation: data.Recommend(predicted, line),
		Quality:        quality,
		GeneratedAt:    generatedAt,
		RunMode:        mode,
		RunID:          runID,
	}
	if line != nil {
		edge := predicted - *line
		p.Edge = &edge
	}
	return p
}
