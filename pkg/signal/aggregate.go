package signal

import (
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

// Curate composes the firing active signals per prediction into a composite
// score and appends the bounded best-bets list for one occurrence. Only
// production models and active signals contribute; blocked and shadow
// members keep generating but never reach curated output. Observational
// signals are computed and logged upstream but cannot gate here.
func Curate(db *sql.DB, occurrenceID string, cur config.CurationConfig) ([]*data.Pick, error) {
	if db == nil {
		return nil, errors.New("database required")
	}

	preds, err := data.GetActivePredictions(db, occurrenceID)
	if err != nil {
		return nil, err
	}

	members, err := fleet.Discover(db)
	if err != nil {
		return nil, err
	}
	production := make(map[string]bool, len(members))
	for _, m := range members {
		if m.Lifecycle == data.LifecycleProduction {
			production[m.ID] = true
		}
	}

	signals, err := data.ListSignals(db)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(signals))
	for _, s := range signals {
		if s.Status == data.SignalActive {
			active[s.ID] = true
		}
	}

	obs, err := data.GetFiredObservations(db, occurrenceID)
	if err != nil {
		return nil, err
	}
	firedBy := make(map[string][]string)
	for _, o := range obs {
		if !active[o.SignalID] {
			continue
		}
		k := o.EntityID + "/" + o.ModelID
		firedBy[k] = append(firedBy[k], o.SignalID)
	}

	now := time.Now().UTC()
	picks := make([]*data.Pick, 0)

	for _, p := range preds {
		if !production[p.ModelID] {
			continue
		}
		fired := firedBy[p.EntityID+"/"+p.ModelID]
		if len(fired) == 0 {
			continue
		}

		// Additive bonus per firing active signal, capped.
		composite := cur.BaseScore + cur.SignalBonus*float64(len(fired))
		if composite > cur.ScoreCap {
			composite = cur.ScoreCap
		}
		if composite < cur.MinScore {
			continue
		}

		picks = append(picks, &data.Pick{
			OccurrenceID:   p.OccurrenceID,
			EntityID:       p.EntityID,
			ModelID:        p.ModelID,
			Predicted:      p.Predicted,
			Line:           p.Line,
			Recommendation: p.Recommendation,
			Composite:      composite,
			Signals:        fired,
			PickedAt:       now,
		})
	}

	sort.Slice(picks, func(i, j int) bool {
		if picks[i].Composite != picks[j].Composite {
			return picks[i].Composite > picks[j].Composite
		}
		return edgeOf(picks[i]) > edgeOf(picks[j])
	})

	if cur.MaxPicks > 0 && len(picks) > cur.MaxPicks {
		picks = picks[:cur.MaxPicks]
	}

	if err := data.SavePicks(db, picks); err != nil {
		return nil, err
	}

	log.Infof("curated %s: %d picks", occurrenceID, len(picks))
	return picks, nil
}

func edgeOf(p *data.Pick) float64 {
	if p.Line == nil {
		return 0
	}
	return math.Abs(p.Predicted - *p.Line)
}
