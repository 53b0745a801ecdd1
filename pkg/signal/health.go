package signal

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

// HealthStat is the rolling trust accounting of one signal.
type HealthStat struct {
	SignalID   string  `json:"signal_id" yaml:"signalId"`
	Status     string  `json:"status" yaml:"status"`
	Samples    int     `json:"samples" yaml:"samples"`
	HitRate    float64 `json:"hit_rate" yaml:"hitRate"`
	LowerBound float64 `json:"lower_bound" yaml:"lowerBound"`
}

// GovernSignals recomputes every signal's rolling health and applies trust
// transitions. Promotion to active is gated purely by accumulated sample
// size; retirement requires the rolling hit-rate sitting at or below
// breakeven for the configured number of consecutive evaluations.
// Insufficient samples never escalate beyond withholding trust.
func GovernSignals(db *sql.DB, c config.SignalConfig) ([]*HealthStat, error) {
	if db == nil {
		return nil, errors.New("database required")
	}

	signals, err := data.ListSignals(db)
	if err != nil {
		return nil, err
	}

	stats := make([]*HealthStat, 0, len(signals))
	for _, s := range signals {
		rec, err := data.GetSignalWindow(db, s.ID, c.WindowDays)
		if err != nil {
			return nil, err
		}

		stat := &HealthStat{
			SignalID:   s.ID,
			Status:     s.Status,
			Samples:    rec.Decided,
			HitRate:    rec.HitRate(),
			LowerBound: fleet.WilsonLowerBound(rec.Won, rec.Decided, c.WilsonZ),
		}

		breached := rec.Decided >= c.MinObservations && stat.HitRate <= c.Breakeven

		eval := &data.Evaluation{
			SubjectType:  data.SubjectSignal,
			SubjectID:    s.ID,
			Samples:      rec.Decided,
			ShortHitRate: stat.HitRate,
			LongHitRate:  stat.HitRate,
			LowerBound:   stat.LowerBound,
			Breached:     breached,
			EvaluatedAt:  time.Now().UTC(),
		}
		if err := data.SaveEvaluation(db, eval); err != nil {
			return nil, err
		}

		next, reason := nextStatus(s.Status, rec.Decided, breached, db, s.ID, c)
		if next != s.Status {
			log.Infof("signal %s: %s -> %s (%s)", s.ID, s.Status, next, reason)
			if err := data.SetSignalStatus(db, s.ID, next, reason); err != nil {
				return nil, err
			}
			stat.Status = next
		} else {
			log.Debugf("signal %s: %s (samples: %d, hit-rate: %.3f)", s.ID, s.Status, rec.Decided, stat.HitRate)
		}

		stats = append(stats, stat)
	}

	return stats, nil
}

func nextStatus(current string, samples int, breached bool, db *sql.DB, id string, c config.SignalConfig) (string, string) {
	switch current {
	case data.SignalObservational:
		if samples >= c.MinObservations {
			return data.SignalActive, "minimum sample size reached"
		}
		return current, "insufficient samples"
	case data.SignalActive:
		if breached && breachRun(db, id, c.RetirePeriods) >= c.RetirePeriods {
			return data.SignalRetired, "hit-rate persistently below breakeven"
		}
		return current, "holding active"
	default:
		return current, "retired is terminal"
	}
}

// breachRun counts the consecutive breached evaluations ending at the one
// just persisted.
func breachRun(db *sql.DB, id string, limit int) int {
	evals, err := data.GetRecentEvaluations(db, data.SubjectSignal, id, limit)
	if err != nil {
		log.Errorf("failed to read signal evaluations for %s: %v", id, err)
		return 0
	}
	run := 0
	for _, e := range evals {
		if !e.Breached {
			break
		}
		run++
	}
	return run
}
