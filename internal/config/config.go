package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opspulse/opspulse/internal/models"
)

// Config is the immutable engine configuration. Loaded once at startup and
// passed into every component constructor; nothing mutates it afterwards.
type Config struct {
	// DatabasePath is the sqlite file holding facts and predictions.
	DatabasePath string `yaml:"database_path" default:"data/opspulse.db"`

	// StorageRoot is the directory for persisted model artifacts.
	StorageRoot string `yaml:"storage_root" default:"data/artifacts"`

	// Interval is the resample bucket width of training frames.
	Interval time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`

	// HorizonDefault is the number of future intervals forecast when the
	// caller does not specify a horizon.
	HorizonDefault int `yaml:"horizon_default" default:"288" validate:"gt=0"`

	// MinTrainingPoints is the minimum frame length accepted for training.
	MinTrainingPoints int `yaml:"min_training_points" default:"48" validate:"gte=4"`

	// TrainingWindow bounds how far back observations are pulled for retrains.
	TrainingWindow time.Duration `yaml:"training_window" default:"336h" validate:"gt=0"`

	// StalenessThreshold is the maximum age of a persisted model before a
	// forecast request triggers a retrain.
	StalenessThreshold time.Duration `yaml:"staleness_threshold" default:"24h" validate:"gt=0"`

	// RetrainTimeout bounds the prepare→tune→fit→save path per request.
	RetrainTimeout time.Duration `yaml:"retrain_timeout" default:"2m" validate:"gt=0"`

	// StaleFallback serves the previous model when a retrain for the same key
	// is already in flight or times out. When false, callers wait for the
	// in-flight retrain and timeouts are surfaced as failures.
	StaleFallback bool `yaml:"stale_fallback" default:"true"`

	// CVFoldCount and CVStepSize shape the rolling-origin cross-validation:
	// the cutoff advances CVFoldCount times in CVStepSize-point steps, each
	// fold scoring a CVStepSize-wide holdout.
	CVFoldCount int `yaml:"cv_fold_count" default:"3" validate:"gt=0"`
	CVStepSize  int `yaml:"cv_step_size" default:"12" validate:"gt=0"`

	// ConfidenceLevel scales the forecast uncertainty bounds, e.g. 0.8 for
	// an 80% interval.
	ConfidenceLevel float64 `yaml:"confidence_level" default:"0.8" validate:"gt=0,lt=1"`

	// OutlierClipSigma clips training values beyond this many standard
	// deviations from the rolling median.
	OutlierClipSigma float64 `yaml:"outlier_clip_sigma" default:"3.0" validate:"gt=0"`

	// Model shape shared by all grid candidates.
	NumChangepoints    int `yaml:"num_changepoints" default:"10" validate:"gte=0"`
	FourierOrderDaily  int `yaml:"fourier_order_daily" default:"4" validate:"gte=0"`
	FourierOrderWeekly int `yaml:"fourier_order_weekly" default:"3" validate:"gte=0"`

	// HyperparameterGrid is the enumerated candidate set searched by the
	// tuner. Declaration order is the final tie-break, so it is significant.
	HyperparameterGrid []models.Hyperparameters `yaml:"hyperparameter_grid" validate:"min=1,dive"`

	// SourceRetries bounds retry attempts against the metric store before a
	// data-unavailable error is surfaced.
	SourceRetries int `yaml:"source_retries" default:"3" validate:"gte=0"`

	// RefreshInterval drives the scheduler loop in serve mode.
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"1h" validate:"gt=0"`

	// MetricsAddr is the Prometheus listen address for serve mode.
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
}

// DefaultGrid is used when the config file declares no grid.
var DefaultGrid = []models.Hyperparameters{
	{TrendFlexibility: 0.05, SeasonalityStrength: 10, SeasonalityMode: models.SeasonalityAdditive},
	{TrendFlexibility: 0.05, SeasonalityStrength: 1, SeasonalityMode: models.SeasonalityAdditive},
	{TrendFlexibility: 0.5, SeasonalityStrength: 10, SeasonalityMode: models.SeasonalityAdditive},
	{TrendFlexibility: 0.5, SeasonalityStrength: 1, SeasonalityMode: models.SeasonalityAdditive},
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.HyperparameterGrid = append([]models.Hyperparameters(nil), DefaultGrid...)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file, applying defaults for
// omitted fields.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.HyperparameterGrid) == 0 {
		c.HyperparameterGrid = append([]models.Hyperparameters(nil), DefaultGrid...)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.CVStepSize >= c.MinTrainingPoints {
		return fmt.Errorf("cv_step_size (%d) must be below min_training_points (%d)", c.CVStepSize, c.MinTrainingPoints)
	}
	return nil
}
