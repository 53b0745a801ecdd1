package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	dirMode        = 0700
	fileMode       = 0600
)

// Config holds the operational parameters of the fleet. The write-visibility
// lag and the decay sensitivity are deployment-specific and change often, so
// everything here is file-driven rather than compiled in.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Grading    GradingConfig    `yaml:"grading"`
	Governance GovernanceConfig `yaml:"governance"`
	Signals    SignalConfig     `yaml:"signals"`
	Curation   CurationConfig   `yaml:"curation"`
	Sources    SourceConfig     `yaml:"sources"`
}

// StoreConfig governs the two-phase consolidation of the prediction store.
type StoreConfig struct {
	// VisibilityLag is the period after a write during which a row must not
	// be re-mutated (tau). Duplicate cleanup only touches keys whose last
	// write is older than this.
	VisibilityLag time.Duration `yaml:"visibility_lag"`
	// CleanupAlertMax is the duplicate-row count above which cleanup refuses
	// to deactivate anything and alerts instead.
	CleanupAlertMax int `yaml:"cleanup_alert_max"`
}

// GradingConfig holds tier boundaries for bias detection.
type GradingConfig struct {
	// TierBounds are the upper bounds of each realized-magnitude tier, in
	// ascending order. Values above the last bound fall in the top tier.
	TierBounds []float64 `yaml:"tier_bounds"`
}

// GovernanceConfig parameterizes the model lifecycle gate.
type GovernanceConfig struct {
	Breakeven        float64 `yaml:"breakeven"`
	WilsonZ          float64 `yaml:"wilson_z"`
	MinGradedSamples int     `yaml:"min_graded_samples"`
	ShortWindowDays  int     `yaml:"short_window_days"`
	LongWindowDays   int     `yaml:"long_window_days"`
	// DecayMargin is how far the short-window hit-rate must fall below the
	// long-window hit-rate to count as a degraded period.
	DecayMargin float64 `yaml:"decay_margin"`
	// DecayPeriods is the number of consecutive degraded evaluation periods
	// before a decay trend is declared.
	DecayPeriods int `yaml:"decay_periods"`
	// BlockPeriods is the number of consecutive sub-breakeven evaluations
	// before a production model is blocked.
	BlockPeriods int `yaml:"block_periods"`
}

// SignalConfig parameterizes signal trust gating and the built-in evaluators.
type SignalConfig struct {
	Breakeven       float64 `yaml:"breakeven"`
	WilsonZ         float64 `yaml:"wilson_z"`
	MinObservations int     `yaml:"min_observations"`
	RetirePeriods   int     `yaml:"retire_periods"`
	WindowDays      int     `yaml:"window_days"`
	EdgeThreshold   float64 `yaml:"edge_threshold"`
	MinQuality      float64 `yaml:"min_quality"`
}

// CurationConfig bounds the best-bets output.
type CurationConfig struct {
	BaseScore   float64 `yaml:"base_score"`
	SignalBonus float64 `yaml:"signal_bonus"`
	ScoreCap    float64 `yaml:"score_cap"`
	MaxPicks    int     `yaml:"max_picks"`
	MinScore    float64 `yaml:"min_score"`
}

// SourceConfig points at the collaborator APIs.
type SourceConfig struct {
	FeatureURL string `yaml:"feature_url"`
	LineURL    string `yaml:"line_url"`
	OutcomeURL string `yaml:"outcome_url"`
}

func getDefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			VisibilityLag:   4 * time.Hour,
			CleanupAlertMax: 1000,
		},
		Grading: GradingConfig{
			TierBounds: []float64{10, 20, 30},
		},
		Governance: GovernanceConfig{
			Breakeven:        0.524,
			WilsonZ:          1.645,
			MinGradedSamples: 100,
			ShortWindowDays:  14,
			LongWindowDays:   60,
			DecayMargin:      0.05,
			DecayPeriods:     3,
			BlockPeriods:     3,
		},
		Signals: SignalConfig{
			Breakeven:       0.524,
			WilsonZ:         1.645,
			MinObservations: 30,
			RetirePeriods:   3,
			WindowDays:      60,
			EdgeThreshold:   1.5,
			MinQuality:      0.8,
		},
		Curation: CurationConfig{
			BaseScore:   1.0,
			SignalBonus: 0.5,
			ScoreCap:    3.0,
			MaxPicks:    10,
			MinScore:    1.5,
		},
		Sources: SourceConfig{},
	}
}

// Save writes the config to the given directory.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", configFileName)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one with
// default values.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirPath, dirMode); err != nil {
			return nil, errors.Wrapf(err, "failed to create dir: %s", dirPath)
		}
	}

	path := filepath.Join(dirPath, configFileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(dirPath, getDefaultConfig()); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file: %s", path)
	}

	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "error parsing config file: %s", path)
	}

	return c, nil
}
