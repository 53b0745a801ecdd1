package fleet

import (
	"database/sql"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/propsignal/propctl/pkg/data"
)

// Family kinds. New parameterized variants of an existing family classify by
// pattern, so adding one requires no registry or code change.
const (
	KindLinear   string = "linear"
	KindQuantile string = "quantile"
	KindLineAdj  string = "lineadj"
	KindUnknown  string = "unknown"
)

var (
	// e.g. pts_quantile_q80_v2 -> quantile family at the 80th percentile
	quantileRe = regexp.MustCompile(`(?:^|_)quantile_q(\d{1,2})(?:_|$)`)
	// e.g. reb_lineadj_v1 -> line-adjusted family, consumes the market line
	// as a model feature
	lineAdjRe = regexp.MustCompile(`(?:^|_)lineadj(?:_|$)`)
	// e.g. ast_linear_v3, pts_ridge_v1
	linearRe = regexp.MustCompile(`(?:^|_)(linear|ridge|ols)(?:_|$)`)
)

// Family classifies a model id.
type Family struct {
	Kind string
	// Quantile is the percentile parameter of a quantile-family id, 0 otherwise.
	Quantile int
	// RequiresLine marks families that consume the market line as a model
	// feature. A late-arriving line forces regeneration for these instead of
	// an enrichment update.
	RequiresLine bool
}

// Classify maps an arbitrary model id to its family by pattern matching.
// Unknown ids classify as KindUnknown; they are never an error.
func Classify(id string) Family {
	if m := quantileRe.FindStringSubmatch(id); m != nil {
		q, _ := strconv.Atoi(m[1])
		return Family{Kind: KindQuantile, Quantile: q}
	}
	if lineAdjRe.MatchString(id) {
		return Family{Kind: KindLineAdj, RequiresLine: true}
	}
	if linearRe.MatchString(id) {
		return Family{Kind: KindLinear}
	}
	return Family{Kind: KindUnknown}
}

// Member is a fleet member: a registry descriptor plus its classified family.
type Member struct {
	*data.Model
	Family Family
}

// Discover queries the registry fresh and classifies every non-retired
// member. It must be called at the start of each run; holding the result as
// long-lived process state silently drops newly registered models.
func Discover(db *sql.DB) ([]*Member, error) {
	models, err := data.ListActiveModels(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to discover fleet")
	}

	members := make([]*Member, 0, len(models))
	for _, m := range models {
		members = append(members, &Member{Model: m, Family: Classify(m.ID)})
	}
	return members, nil
}
