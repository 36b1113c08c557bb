package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/opspulse/opspulse/internal/models"
)

// basePenalty keeps the intercept and base slope columns well conditioned
// without meaningfully biasing them.
const basePenalty = 1e-6

// Seasonal blocks are only estimated when the window covers at least two
// full cycles; shorter windows cannot distinguish the cycle from trend.
const minSeasonalCycles = 2

type Trainer struct {
	numChangepoints    int
	fourierOrderDaily  int
	fourierOrderWeekly int
}

func NewTrainer(numChangepoints, fourierOrderDaily, fourierOrderWeekly int) *Trainer {
	return &Trainer{
		numChangepoints:    numChangepoints,
		fourierOrderDaily:  fourierOrderDaily,
		fourierOrderWeekly: fourierOrderWeekly,
	}
}

// Fit estimates one model from a prepared frame and a hyperparameter set.
// Changepoint candidates are evenly spaced across the window; the slope
// change at each is ridge-penalized by 1/TrendFlexibility so most stay near
// zero. Seasonal coefficients are penalized by 1/SeasonalityStrength.
// The fit is a deterministic least-squares solve: identical input and
// hyperparameters always produce identical parameters.
func (tr *Trainer) Fit(frame models.Frame, params models.Hyperparameters) (*Trained, error) {
	n := len(frame.Points)
	if n < 2 {
		return nil, &models.Error{Kind: models.KindTraining, Msg: "frame too short", Params: &params}
	}

	y := frame.Values()
	minV, maxV := y[0], y[0]
	for _, v := range y {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	if minV == maxV {
		return nil, &models.Error{Kind: models.KindTraining, Msg: "constant series", Params: &params}
	}

	logSpace := params.SeasonalityMode == models.SeasonalityMultiplicative
	if logSpace {
		if minV <= 0 {
			return nil, &models.Error{Kind: models.KindTraining,
				Msg: "multiplicative mode requires strictly positive values", Params: &params}
		}
		for i := range y {
			y[i] = math.Log(y[i])
		}
	}

	m := &Trained{
		Params:      params,
		Interval:    frame.Interval,
		WindowStart: frame.Start(),
		WindowEnd:   frame.End(),
		LogSpace:    logSpace,
		N:           n,
	}

	m.TStart = float64(frame.Start().Unix())
	m.TScale = float64(frame.End().Unix()) - m.TStart
	if m.TScale == 0 {
		m.TScale = 1
	}

	span := frame.End().Sub(frame.Start())
	orderDaily := tr.fourierOrderDaily
	if span < minSeasonalCycles*dailyPeriod {
		orderDaily = 0
	}
	orderWeekly := tr.fourierOrderWeekly
	if span < minSeasonalCycles*weeklyPeriod {
		orderWeekly = 0
	}

	// Evenly spaced candidate changepoints, endpoints excluded.
	cps := make([]float64, tr.numChangepoints)
	for i := range cps {
		cps[i] = float64(i+1) / float64(tr.numChangepoints+1)
	}

	p := 2 + len(cps) + 2*orderDaily + 2*orderWeekly
	if n <= p {
		return nil, &models.Error{Kind: models.KindTraining,
			Msg: "fewer points than estimated parameters", Params: &params}
	}

	// Ridge via the augmented system: stack sqrt(penalty) rows under the
	// design matrix and solve the combined least squares with QR.
	lambdaTrend := math.Sqrt(1 / params.TrendFlexibility)
	lambdaSeason := math.Sqrt(1 / params.SeasonalityStrength)

	X := mat.NewDense(n+p, p, nil)
	Y := mat.NewVecDense(n+p, nil)

	for i, pt := range frame.Points {
		sec := float64(pt.Timestamp.Unix())
		tn := (sec - m.TStart) / m.TScale

		col := 0
		X.Set(i, col, 1)
		col++
		X.Set(i, col, tn)
		col++
		for _, cp := range cps {
			if tn > cp {
				X.Set(i, col, tn-cp)
			}
			col++
		}
		col = setFourierRow(X, i, col, sec, dailyPeriod.Seconds(), orderDaily)
		setFourierRow(X, i, col, sec, weeklyPeriod.Seconds(), orderWeekly)

		Y.SetVec(i, y[i])
	}

	for j := 0; j < p; j++ {
		penalty := basePenalty
		switch {
		case j >= 2 && j < 2+len(cps):
			penalty = lambdaTrend
		case j >= 2+len(cps):
			penalty = lambdaSeason
		}
		X.Set(n+j, j, penalty)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(X, Y); err != nil {
		return nil, &models.Error{Kind: models.KindTraining, Msg: "singular basis", Params: &params, Err: err}
	}

	col := 0
	m.Intercept = beta.AtVec(col)
	col++
	m.Slope = beta.AtVec(col)
	col++
	m.Changepoints = cps
	m.Deltas = make([]float64, len(cps))
	for i := range cps {
		m.Deltas[i] = beta.AtVec(col)
		col++
	}
	m.DailyCoeffs = make([]float64, 2*orderDaily)
	for i := range m.DailyCoeffs {
		m.DailyCoeffs[i] = beta.AtVec(col)
		col++
	}
	m.WeeklyCoeffs = make([]float64, 2*orderWeekly)
	for i := range m.WeeklyCoeffs {
		m.WeeklyCoeffs[i] = beta.AtVec(col)
		col++
	}

	// Residual noise scale in model space, retained for uncertainty
	// propagation at prediction time.
	residuals := make([]float64, n)
	for i, pt := range frame.Points {
		residuals[i] = y[i] - m.modelAt(pt.Timestamp)
	}
	m.Sigma = stat.StdDev(residuals, nil)
	if math.IsNaN(m.Sigma) {
		m.Sigma = 0
	}
	if len(m.Deltas) > 0 {
		m.DeltaVar = stat.Variance(m.Deltas, nil)
		if math.IsNaN(m.DeltaVar) {
			m.DeltaVar = 0
		}
	}

	return m, nil
}

func setFourierRow(X *mat.Dense, row, col int, sec, period float64, order int) int {
	for k := 1; k <= order; k++ {
		phase := 2 * math.Pi * float64(k) * sec / period
		X.Set(row, col, math.Sin(phase))
		col++
		X.Set(row, col, math.Cos(phase))
		col++
	}
	return col
}
