package fleet

import (
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
)

// Thresholds parameterize one governance gate. The same machine governs
// models and signals; only the numbers differ.
type Thresholds struct {
	Breakeven    float64
	WilsonZ      float64
	MinSamples   int
	ShortDays    int
	LongDays     int
	DecayMargin  float64
	DecayPeriods int
	BlockPeriods int
}

func modelThresholds(c config.GovernanceConfig) Thresholds {
	return Thresholds{
		Breakeven:    c.Breakeven,
		WilsonZ:      c.WilsonZ,
		MinSamples:   c.MinGradedSamples,
		ShortDays:    c.ShortWindowDays,
		LongDays:     c.LongWindowDays,
		DecayMargin:  c.DecayMargin,
		DecayPeriods: c.DecayPeriods,
		BlockPeriods: c.BlockPeriods,
	}
}

// Verdict is the outcome of one governance evaluation.
type Verdict struct {
	Eval      *data.Evaluation `json:"eval" yaml:"eval"`
	FromState string           `json:"from_state" yaml:"fromState"`
	NextState string           `json:"next_state" yaml:"nextState"`
	Reason    string           `json:"reason" yaml:"reason"`
}

// Changed reports whether the verdict moves the subject to a new state.
func (v *Verdict) Changed() bool {
	return v.NextState != v.FromState
}

// WilsonLowerBound is the lower bound of the Wilson score interval for a
// binomial proportion. It is the single sample-size-aware rule used for
// every breakeven comparison, replacing the assorted ad hoc minimums the
// evaluation points used to carry.
func WilsonLowerBound(won, decided int, z float64) float64 {
	if decided == 0 {
		return 0
	}
	n := float64(decided)
	p := float64(won) / n
	z2 := z * z
	denom := 1 + z2/n
	center := p + z2/(2*n)
	spread := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	return (center - spread) / denom
}

// assess runs the shared gating logic and produces the evaluation row plus
// the recommended next state. The caller persists both.
func assess(subjectType, subjectID, current string,
	short, long *data.DirectionalRecord, history []*data.Evaluation, t Thresholds) *Verdict {

	eval := &data.Evaluation{
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		Samples:      long.Decided,
		ShortHitRate: short.HitRate(),
		LongHitRate:  long.HitRate(),
		LowerBound:   WilsonLowerBound(long.Won, long.Decided, t.WilsonZ),
		EvaluatedAt:  time.Now().UTC(),
	}

	// Insufficient sample withholds trust but is never a breach. Promotion
	// demands the sample-size-aware lower bound clear breakeven; a breach is
	// the trailing hit-rate itself failing to, which is the promotion
	// condition violated rather than merely unproven.
	hasSamples := long.Decided >= t.MinSamples
	eval.Breached = hasSamples && eval.LongHitRate <= t.Breakeven
	eval.Decayed = hasSamples && short.Decided > 0 &&
		eval.ShortHitRate < eval.LongHitRate-t.DecayMargin

	breachRun := consecutive(history, eval, func(e *data.Evaluation) bool { return e.Breached })
	decayRun := consecutive(history, eval, func(e *data.Evaluation) bool { return e.Decayed })

	v := &Verdict{Eval: eval, FromState: current, NextState: current}

	promotable := hasSamples && eval.LowerBound > t.Breakeven && decayRun < t.DecayPeriods

	switch current {
	case data.LifecycleShadow:
		if promotable {
			v.NextState = data.LifecycleProduction
			v.Reason = "hit-rate lower bound above breakeven with no decay trend"
		} else {
			v.Reason = holdReason(hasSamples, eval, decayRun, t)
		}
	case data.LifecycleProduction:
		if breachRun >= t.BlockPeriods {
			v.NextState = data.LifecycleBlocked
			v.Reason = "trailing hit-rate at or below breakeven for sustained window"
		} else {
			v.Reason = "holding production"
		}
	case data.LifecycleBlocked:
		// Blocked members keep generating for observation; they come back
		// only by re-clearing the full promotion gate.
		if promotable {
			v.NextState = data.LifecycleProduction
			v.Reason = "recovered above breakeven with no decay trend"
		} else {
			v.Reason = "holding blocked"
		}
	case data.LifecycleRetired:
		v.Reason = "retired is terminal"
	default:
		v.Reason = "unknown state left unchanged"
	}

	return v
}

func holdReason(hasSamples bool, eval *data.Evaluation, decayRun int, t Thresholds) string {
	switch {
	case !hasSamples:
		return "insufficient graded samples"
	case decayRun >= t.DecayPeriods:
		return "decay trend: short window trailing long window"
	case eval.LowerBound <= t.Breakeven:
		return "hit-rate lower bound not above breakeven"
	default:
		return "holding"
	}
}

// consecutive counts how many evaluations in a row satisfy the predicate,
// starting from the current one and walking back through persisted history
// (newest first).
func consecutive(history []*data.Evaluation, current *data.Evaluation, pred func(*data.Evaluation) bool) int {
	if !pred(current) {
		return 0
	}
	run := 1
	for _, e := range history {
		if !pred(e) {
			break
		}
		run++
	}
	return run
}

// GovernModels evaluates every non-retired model against its grading history
// and applies any resulting lifecycle transitions. Retirement is
// administrative only and never issued here.
func GovernModels(db *sql.DB, c config.GovernanceConfig) ([]*Verdict, error) {
	if db == nil {
		return nil, errors.New("database required")
	}

	t := modelThresholds(c)

	members, err := Discover(db)
	if err != nil {
		return nil, err
	}

	verdicts := make([]*Verdict, 0, len(members))
	for _, m := range members {
		short, err := data.GetModelWindow(db, m.ID, t.ShortDays)
		if err != nil {
			return nil, err
		}
		long, err := data.GetModelWindow(db, m.ID, t.LongDays)
		if err != nil {
			return nil, err
		}
		history, err := data.GetRecentEvaluations(db, data.SubjectModel, m.ID, maxRun(t))
		if err != nil {
			return nil, err
		}

		v := assess(data.SubjectModel, m.ID, m.Lifecycle, short, long, history, t)

		if err := data.SaveEvaluation(db, v.Eval); err != nil {
			return nil, err
		}
		if v.Changed() {
			log.Infof("model %s: %s -> %s (%s)", m.ID, v.FromState, v.NextState, v.Reason)
			if err := data.SetModelLifecycle(db, m.ID, v.NextState, v.Reason); err != nil {
				return nil, err
			}
		} else {
			log.Debugf("model %s: %s (%s)", m.ID, m.Lifecycle, v.Reason)
		}

		verdicts = append(verdicts, v)
	}

	return verdicts, nil
}

// RetireModel is the administrative action that permanently discontinues a
// model. It bypasses every sample-size gate and records the reason.
func RetireModel(db *sql.DB, id, reason string) error {
	if reason == "" {
		reason = "administrative retirement"
	}
	return data.SetModelLifecycle(db, id, data.LifecycleRetired, reason)
}

func maxRun(t Thresholds) int {
	if t.DecayPeriods > t.BlockPeriods {
		return t.DecayPeriods
	}
	return t.BlockPeriods
}
