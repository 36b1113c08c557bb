package model

import (
	"math"
	"testing"
	"time"

	"github.com/opspulse/opspulse/internal/models"
)

var trainStart = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func defaultParams() models.Hyperparameters {
	return models.Hyperparameters{
		TrendFlexibility:    0.05,
		SeasonalityStrength: 10,
		SeasonalityMode:     models.SeasonalityAdditive,
	}
}

func frameOf(n int, interval time.Duration, fn func(i int, ts time.Time) float64) models.Frame {
	frame := models.Frame{
		VM:       "web-01",
		Metric:   "cpu.usage.average",
		Interval: interval,
		Points:   make([]models.FramePoint, n),
	}
	for i := 0; i < n; i++ {
		ts := trainStart.Add(time.Duration(i) * interval)
		frame.Points[i] = models.FramePoint{Timestamp: ts, Value: fn(i, ts)}
	}
	return frame
}

func TestFitLinearTrendExtrapolation(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	// 60 evenly spaced points, clean upward linear trend, no noise.
	frame := frameOf(60, 5*time.Minute, func(i int, _ time.Time) float64 {
		return 10 + 0.5*float64(i)
	})

	m, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	points, err := NewPredictor(0.8).Predict(m, 10)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(points) != 10 {
		t.Fatalf("len(points) = %d, want 10", len(points))
	}

	for h, pt := range points {
		want := 10 + 0.5*float64(60+h)
		if math.Abs(pt.Value-want) > 0.05 {
			t.Errorf("step %d: value = %v, want %v ± 0.05", h, pt.Value, want)
		}
		if width := pt.Upper - pt.Lower; width > 0.05 {
			t.Errorf("step %d: interval width = %v, want near zero for noise-free series", h, width)
		}
	}
}

func TestFitDeterministic(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	frame := frameOf(200, 5*time.Minute, func(i int, _ time.Time) float64 {
		return 20 + 0.1*float64(i) + 5*math.Sin(float64(i)/7)
	})

	m1, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	m2, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if math.Abs(m1.Intercept-m2.Intercept) > 1e-12 || math.Abs(m1.Slope-m2.Slope) > 1e-12 {
		t.Errorf("trend differs between fits: (%v, %v) vs (%v, %v)", m1.Intercept, m1.Slope, m2.Intercept, m2.Slope)
	}
	for i := range m1.Deltas {
		if math.Abs(m1.Deltas[i]-m2.Deltas[i]) > 1e-12 {
			t.Errorf("delta %d differs: %v vs %v", i, m1.Deltas[i], m2.Deltas[i])
		}
	}
	if math.Abs(m1.Sigma-m2.Sigma) > 1e-12 {
		t.Errorf("sigma differs: %v vs %v", m1.Sigma, m2.Sigma)
	}
}

func TestFitRecoversDailySeasonality(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	// Three days at 30 minute resolution: flat level plus a daily sine.
	frame := frameOf(144, 30*time.Minute, func(_ int, ts time.Time) float64 {
		phase := 2 * math.Pi * float64(ts.Unix()) / (24 * 3600)
		return 50 + 10*math.Sin(phase)
	})

	m, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(m.DailyCoeffs) == 0 {
		t.Fatal("daily seasonality disabled for a 3-day window")
	}
	if len(m.WeeklyCoeffs) != 0 {
		t.Error("weekly seasonality enabled for a 3-day window")
	}

	points, err := NewPredictor(0.8).Predict(m, 48)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for h, pt := range points {
		phase := 2 * math.Pi * float64(pt.Timestamp.Unix()) / (24 * 3600)
		want := 50 + 10*math.Sin(phase)
		if math.Abs(pt.Value-want) > 2.0 {
			t.Errorf("step %d: value = %v, want %v ± 2", h, pt.Value, want)
		}
	}
}

func TestFitConstantSeries(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	frame := frameOf(60, 5*time.Minute, func(_ int, _ time.Time) float64 { return 42 })

	_, err := trainer.Fit(frame, defaultParams())
	if err == nil {
		t.Fatal("Fit should reject a constant series")
	}
	if kind := models.KindOf(err); kind != models.KindTraining {
		t.Errorf("error kind = %q, want %q", kind, models.KindTraining)
	}
}

func TestFitTooFewPoints(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	// 12 points cannot support intercept + slope + 10 changepoints.
	frame := frameOf(12, 5*time.Minute, func(i int, _ time.Time) float64 {
		return float64(i)
	})

	_, err := trainer.Fit(frame, defaultParams())
	if kind := models.KindOf(err); kind != models.KindTraining {
		t.Errorf("error kind = %q, want %q", kind, models.KindTraining)
	}
}

func TestFitMultiplicativeRequiresPositive(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	params := defaultParams()
	params.SeasonalityMode = models.SeasonalityMultiplicative

	frame := frameOf(60, 5*time.Minute, func(i int, _ time.Time) float64 {
		return float64(i) - 10 // crosses zero
	})

	_, err := trainer.Fit(frame, params)
	if kind := models.KindOf(err); kind != models.KindTraining {
		t.Errorf("error kind = %q, want %q", kind, models.KindTraining)
	}
}

func TestFitMultiplicative(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	params := defaultParams()
	params.SeasonalityMode = models.SeasonalityMultiplicative

	frame := frameOf(100, 5*time.Minute, func(i int, _ time.Time) float64 {
		return 100 * math.Exp(0.002*float64(i))
	})

	m, err := trainer.Fit(frame, params)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !m.LogSpace {
		t.Fatal("multiplicative fit should be marked LogSpace")
	}

	points, err := NewPredictor(0.8).Predict(m, 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for h, pt := range points {
		want := 100 * math.Exp(0.002*float64(100+h))
		if math.Abs(pt.Value-want)/want > 0.02 {
			t.Errorf("step %d: value = %v, want %v ± 2%%", h, pt.Value, want)
		}
	}
}

func TestPredictBoundsOrderedAndWidening(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	// Noisy series so sigma is comfortably positive. Deterministic "noise".
	frame := frameOf(200, 5*time.Minute, func(i int, _ time.Time) float64 {
		return 30 + 0.05*float64(i) + 3*math.Sin(float64(i)*1.7)
	})

	m, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if m.Sigma <= 0 {
		t.Fatalf("sigma = %v, want > 0", m.Sigma)
	}

	points, err := NewPredictor(0.8).Predict(m, 50)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	prevWidth := -1.0
	for h, pt := range points {
		if pt.Lower > pt.Value || pt.Value > pt.Upper {
			t.Errorf("step %d: bounds not ordered: %v <= %v <= %v", h, pt.Lower, pt.Value, pt.Upper)
		}
		width := pt.Upper - pt.Lower
		if width < prevWidth {
			t.Errorf("step %d: width %v shrank from %v", h, width, prevWidth)
		}
		prevWidth = width
	}

	// Not constant-width either: the band must actually grow over the run.
	first := points[0].Upper - points[0].Lower
	last := points[len(points)-1].Upper - points[len(points)-1].Lower
	if last <= first {
		t.Errorf("interval width did not grow: first %v, last %v", first, last)
	}
}

func TestPredictInvalidHorizon(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	frame := frameOf(60, 5*time.Minute, func(i int, _ time.Time) float64 { return float64(i) })
	m, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	for _, horizon := range []int{0, -1} {
		_, err := NewPredictor(0.8).Predict(m, horizon)
		if kind := models.KindOf(err); kind != models.KindPrediction {
			t.Errorf("horizon %d: error kind = %q, want %q", horizon, kind, models.KindPrediction)
		}
	}
}

func TestPredictTimestampsFollowWindowEnd(t *testing.T) {
	trainer := NewTrainer(10, 4, 3)
	frame := frameOf(60, 5*time.Minute, func(i int, _ time.Time) float64 { return float64(i) })
	m, err := trainer.Fit(frame, defaultParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	points, err := NewPredictor(0.8).Predict(m, 3)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for h, pt := range points {
		want := frame.End().Add(time.Duration(h+1) * 5 * time.Minute)
		if !pt.Timestamp.Equal(want) {
			t.Errorf("step %d: timestamp = %v, want %v", h, pt.Timestamp, want)
		}
	}
}
