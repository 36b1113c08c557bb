package models

import (
	"time"
)

// Observation is one raw (vm, metric) sample as stored in the facts table.
// Unique per (VM, Metric, Timestamp).
type Observation struct {
	VM        string
	Metric    string
	Timestamp time.Time
	Value     float64
}

// FramePoint is one regularized training sample.
type FramePoint struct {
	Timestamp time.Time
	Value     float64
}

// Frame is a gap-free, ascending, fixed-interval series for one (vm, metric).
type Frame struct {
	VM       string
	Metric   string
	Interval time.Duration
	Points   []FramePoint
}

// Start returns the timestamp of the first point.
func (f Frame) Start() time.Time {
	if len(f.Points) == 0 {
		return time.Time{}
	}
	return f.Points[0].Timestamp
}

// End returns the timestamp of the last point.
func (f Frame) End() time.Time {
	if len(f.Points) == 0 {
		return time.Time{}
	}
	return f.Points[len(f.Points)-1].Timestamp
}

// Values returns the value column as a slice.
func (f Frame) Values() []float64 {
	vals := make([]float64, len(f.Points))
	for i, p := range f.Points {
		vals[i] = p.Value
	}
	return vals
}

// SeasonalityMode selects how seasonal terms combine with the trend.
type SeasonalityMode string

const (
	SeasonalityAdditive       SeasonalityMode = "additive"
	SeasonalityMultiplicative SeasonalityMode = "multiplicative"
)

// Hyperparameters is one candidate configuration for the trainer.
// Compared by value for tie-breaks and reuse decisions.
type Hyperparameters struct {
	TrendFlexibility    float64         `yaml:"trend_flexibility" json:"trend_flexibility" validate:"gt=0"`
	SeasonalityStrength float64         `yaml:"seasonality_strength" json:"seasonality_strength" validate:"gt=0"`
	SeasonalityMode     SeasonalityMode `yaml:"seasonality_mode" json:"seasonality_mode" validate:"oneof=additive multiplicative"`
}

// ForecastPoint is one future estimate with uncertainty bounds.
// Lower <= Value <= Upper always holds.
type ForecastPoint struct {
	Timestamp time.Time
	Value     float64
	Lower     float64
	Upper     float64
}

// EvalResult holds forecast accuracy metrics. MAPE is NaN when any actual
// value is zero.
type EvalResult struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
}

// Metadata describes a persisted model artifact, keyed by (VM, Metric).
type Metadata struct {
	VM              string          `json:"vm"`
	Metric          string          `json:"metric"`
	TrainedAt       time.Time       `json:"trained_at"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	EvalMetrics     EvalResult      `json:"eval_metrics"`
}

// Candidate is one tuning grid entry with its cross-validation scores.
type Candidate struct {
	Params   Hyperparameters
	Scores   EvalResult // mean across folds
	Folds    int        // folds that fit successfully
	GridRank int        // declaration order in the grid
}

// TuningResult is the selected candidate plus the full ranked list tried.
type TuningResult struct {
	Best   Hyperparameters
	Scores EvalResult
	Ranked []Candidate
}
