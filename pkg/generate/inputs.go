package generate

import "context"

// Unit is one (entity, occurrence) eligible for prediction.
type Unit struct {
	EntityID     string `json:"entity_id" yaml:"entityId"`
	OccurrenceID string `json:"occurrence_id" yaml:"occurrenceId"`
}

// Features is the named numeric inputs for one unit. Optional fields are
// simply absent; absence never fails generation.
type Features map[string]float64

// FeatureSource supplies feature vectors from the feature-store collaborator.
type FeatureSource interface {
	GetFeatures(ctx context.Context, entityID, occurrenceID string) (Features, error)
}

// LineSource supplies market lines from the odds collaborator. A nil line
// with a nil error means no line has been posted for the unit.
type LineSource interface {
	GetLine(ctx context.Context, entityID, occurrenceID string) (*float64, error)
}
