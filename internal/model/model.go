// Package model fits and extrapolates the decomposable trend+seasonality
// model: a piecewise-linear trend with penalized changepoints plus bounded
// Fourier seasonal terms, estimated by regularized least squares.
package model

import (
	"math"
	"time"

	"github.com/opspulse/opspulse/internal/models"
)

const (
	dailyPeriod  = 24 * time.Hour
	weeklyPeriod = 7 * 24 * time.Hour
)

// Trained is a fitted model. All parameters are plain numbers so the artifact
// serializes to a self-describing JSON document rather than an opaque blob.
type Trained struct {
	Params      models.Hyperparameters `json:"hyperparameters"`
	Interval    time.Duration          `json:"interval"`
	WindowStart time.Time              `json:"window_start"`
	WindowEnd   time.Time              `json:"window_end"`

	// Time normalization: model time is (unix seconds - TStart) / TScale,
	// mapping the training window onto [0, 1]. Trend extrapolation depends
	// on it, which is why the window boundaries are part of the artifact.
	TStart float64 `json:"t_start"`
	TScale float64 `json:"t_scale"`

	Intercept    float64   `json:"intercept"`
	Slope        float64   `json:"slope"`
	Changepoints []float64 `json:"changepoints"` // normalized locations, ascending
	Deltas       []float64 `json:"deltas"`       // slope change at each changepoint

	// Seasonal sin/cos coefficient pairs, interleaved per Fourier order.
	DailyCoeffs  []float64 `json:"daily_coeffs"`
	WeeklyCoeffs []float64 `json:"weekly_coeffs"`

	Sigma    float64 `json:"sigma"`     // residual noise scale (model space)
	DeltaVar float64 `json:"delta_var"` // variance of fitted slope changes
	N        int     `json:"n"`         // training point count

	// LogSpace marks a multiplicative fit: the model was estimated on the
	// log series and predictions are exponentiated back.
	LogSpace bool `json:"log_space"`
}

// At evaluates the model mean at an arbitrary timestamp.
func (m *Trained) At(ts time.Time) float64 {
	v := m.modelAt(ts)
	if m.LogSpace {
		return math.Exp(v)
	}
	return v
}

// modelAt evaluates trend plus seasonality in model space.
func (m *Trained) modelAt(ts time.Time) float64 {
	sec := float64(ts.Unix())
	tn := (sec - m.TStart) / m.TScale

	v := m.Intercept + m.Slope*tn
	for i, cp := range m.Changepoints {
		if tn > cp {
			v += m.Deltas[i] * (tn - cp)
		}
	}

	v += fourierAt(m.DailyCoeffs, sec, dailyPeriod.Seconds())
	v += fourierAt(m.WeeklyCoeffs, sec, weeklyPeriod.Seconds())
	return v
}

// fourierAt evaluates interleaved sin/cos pairs at absolute time, so the
// seasonal phase carries across the training window boundary.
func fourierAt(coeffs []float64, sec, period float64) float64 {
	var v float64
	for k := 0; k < len(coeffs)/2; k++ {
		phase := 2 * math.Pi * float64(k+1) * sec / period
		v += coeffs[2*k]*math.Sin(phase) + coeffs[2*k+1]*math.Cos(phase)
	}
	return v
}
