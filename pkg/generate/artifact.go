package generate

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/propsignal/propctl/pkg/fleet"
)

// Artifact is a trained model artifact: a serialized linear form shared by
// every family. The kind must match the family the registry classified the
// id into; a mismatch means the wrong loader was selected for the model's
// serialization family and the model is skipped, never the run aborted.
type Artifact struct {
	Kind     string             `json:"kind"`
	Bias     float64            `json:"bias"`
	Weights  map[string]float64 `json:"weights"`
	Required []string           `json:"required,omitempty"`
	// LineWeight is only meaningful for line-adjusted artifacts, applied to
	// the market line when one is present.
	LineWeight float64 `json:"line_weight,omitempty"`
}

// LoadArtifact reads and validates the artifact for a fleet member.
func LoadArtifact(path string, family fleet.Family) (*Artifact, error) {
	if path == "" {
		return nil, errors.New("artifact path not set")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read artifact: %s", path)
	}

	a := &Artifact{}
	if err := json.Unmarshal(b, a); err != nil {
		return nil, errors.Wrapf(err, "failed to parse artifact: %s", path)
	}

	if a.Kind != family.Kind {
		return nil, errors.Errorf("artifact kind %q does not match family %q: %s", a.Kind, family.Kind, path)
	}

	return a, nil
}

// Predict computes the point estimate and a data-quality score from the
// feature vector. Quality is the weighted-feature coverage; missing optional
// features lower it but never fail the computation.
func (a *Artifact) Predict(feats Features, line *float64) (float64, float64) {
	v := a.Bias
	present := 0
	for name, w := range a.Weights {
		f, ok := feats[name]
		if !ok {
			continue
		}
		v += w * f
		present++
	}

	if a.LineWeight != 0 && line != nil {
		v += a.LineWeight * *line
	}

	quality := 1.0
	if len(a.Weights) > 0 {
		quality = float64(present) / float64(len(a.Weights))
	}

	// Required features missing is a harder degradation than optional ones.
	for _, name := range a.Required {
		if _, ok := feats[name]; !ok {
			quality *= 0.5
		}
	}

	return v, quality
}
