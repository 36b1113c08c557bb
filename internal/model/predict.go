package model

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opspulse/opspulse/internal/models"
)

type Predictor struct {
	z float64 // two-sided normal quantile for the configured confidence level
}

func NewPredictor(confidenceLevel float64) *Predictor {
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	return &Predictor{
		z: normal.Quantile(0.5 + confidenceLevel/2),
	}
}

// Predict extends the trend from the last changepoint's slope plus seasonal
// terms across the next horizon intervals. The uncertainty band combines the
// residual noise scale with the changepoint-magnitude distribution: variance
// grows with the horizon index, so intervals widen the farther they sit from
// the training window end.
func (p *Predictor) Predict(m *Trained, horizon int) ([]models.ForecastPoint, error) {
	if horizon <= 0 {
		return nil, models.Errf(models.KindPrediction, "horizon must be positive, got %d", horizon)
	}

	// Per-step variance growth: trend uncertainty from the fitted slope
	// changes plus estimation error shrinking with the sample size.
	growth := 1.0 / float64(m.N)
	if m.Sigma > 0 {
		growth += m.DeltaVar / (m.Sigma * m.Sigma)
	}

	points := make([]models.ForecastPoint, horizon)
	prevWidth := 0.0
	for h := 0; h < horizon; h++ {
		ts := m.WindowEnd.Add(time.Duration(h+1) * m.Interval)
		mean := m.modelAt(ts)
		sd := m.Sigma * math.Sqrt(1+float64(h+1)*growth)

		var value, lower, upper float64
		if m.LogSpace {
			value = math.Exp(mean)
			lower = math.Exp(mean - p.z*sd)
			upper = math.Exp(mean + p.z*sd)
		} else {
			value = mean
			lower = mean - p.z*sd
			upper = mean + p.z*sd
		}

		// Uncertainty never shrinks with lead time.
		if width := upper - lower; width < prevWidth {
			pad := (prevWidth - width) / 2
			lower -= pad
			upper += pad
		}
		prevWidth = upper - lower

		points[h] = models.ForecastPoint{
			Timestamp: ts,
			Value:     value,
			Lower:     lower,
			Upper:     upper,
		}
	}
	return points, nil
}
