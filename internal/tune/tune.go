// Package tune searches a hyperparameter grid with rolling-origin
// cross-validation: the training cutoff advances forward in fixed-size steps,
// each step fitting on data up to the cutoff and scoring the subsequent
// window against the truth.
package tune

import (
	"math"
	"sort"

	"github.com/opspulse/opspulse/internal/evaluate"
	"github.com/opspulse/opspulse/internal/model"
	"github.com/opspulse/opspulse/internal/models"
)

type Tuner struct {
	trainer   *model.Trainer
	predictor *model.Predictor
	foldCount int
	stepSize  int
	minTrain  int
}

func New(trainer *model.Trainer, predictor *model.Predictor, foldCount, stepSize, minTrain int) *Tuner {
	return &Tuner{
		trainer:   trainer,
		predictor: predictor,
		foldCount: foldCount,
		stepSize:  stepSize,
		minTrain:  minTrain,
	}
}

// Tune scores every candidate in grid across the folds and selects the one
// with minimum mean RMSE. Ties break on minimum mean MAE, then on grid
// declaration order, so selection is reproducible for identical inputs.
// Candidates that fail to fit on any fold are ranked last.
func (t *Tuner) Tune(frame models.Frame, grid []models.Hyperparameters) (models.TuningResult, error) {
	if len(grid) == 0 {
		return models.TuningResult{}, models.Errf(models.KindTuning, "empty hyperparameter grid")
	}

	cutoffs := t.cutoffs(len(frame.Points))
	if len(cutoffs) == 0 {
		return models.TuningResult{}, models.Errf(models.KindTuning,
			"frame of %d points too short for one fold (min train %d, step %d)",
			len(frame.Points), t.minTrain, t.stepSize)
	}

	ranked := make([]models.Candidate, len(grid))
	for rank, params := range grid {
		ranked[rank] = t.score(frame, params, cutoffs, rank)
	}

	best := selectBest(ranked)
	if best == nil {
		// Every candidate failed on every fold.
		failed := grid[0]
		return models.TuningResult{}, &models.Error{Kind: models.KindTuning,
			Msg: "no candidate fit any fold", Params: &failed}
	}

	sortRanked(ranked)
	return models.TuningResult{
		Best:   best.Params,
		Scores: best.Scores,
		Ranked: ranked,
	}, nil
}

// cutoffs returns fold cutoff indices: the last fold's holdout ends at the
// frame end, earlier folds step back by stepSize. Folds whose training
// portion would fall below minTrain are dropped.
func (t *Tuner) cutoffs(n int) []int {
	var cutoffs []int
	for k := 0; k < t.foldCount; k++ {
		cutoff := n - (t.foldCount-k)*t.stepSize
		if cutoff < t.minTrain {
			continue
		}
		cutoffs = append(cutoffs, cutoff)
	}
	return cutoffs
}

func (t *Tuner) score(frame models.Frame, params models.Hyperparameters, cutoffs []int, rank int) models.Candidate {
	cand := models.Candidate{
		Params:   params,
		GridRank: rank,
		Scores:   models.EvalResult{MAE: math.Inf(1), RMSE: math.Inf(1), MAPE: math.NaN()},
	}

	var sumMAE, sumRMSE, sumMAPE float64
	mapeDefined := true

	for _, cutoff := range cutoffs {
		train := models.Frame{
			VM:       frame.VM,
			Metric:   frame.Metric,
			Interval: frame.Interval,
			Points:   frame.Points[:cutoff],
		}
		holdout := frame.Points[cutoff : cutoff+t.stepSize]

		fitted, err := t.trainer.Fit(train, params)
		if err != nil {
			continue
		}
		predicted, err := t.predictor.Predict(fitted, len(holdout))
		if err != nil {
			continue
		}

		actual := make([]float64, len(holdout))
		values := make([]float64, len(holdout))
		for i := range holdout {
			actual[i] = holdout[i].Value
			values[i] = predicted[i].Value
		}

		result := evaluate.Evaluate(actual, values)
		sumMAE += result.MAE
		sumRMSE += result.RMSE
		if math.IsNaN(result.MAPE) {
			mapeDefined = false
		} else {
			sumMAPE += result.MAPE
		}
		cand.Folds++
	}

	if cand.Folds > 0 {
		n := float64(cand.Folds)
		cand.Scores = models.EvalResult{MAE: sumMAE / n, RMSE: sumRMSE / n, MAPE: sumMAPE / n}
		if !mapeDefined {
			cand.Scores.MAPE = math.NaN()
		}
	}
	return cand
}

// selectBest applies the deterministic tie-break: min RMSE, then min MAE,
// then first declared. Returns nil when no candidate scored any fold.
func selectBest(ranked []models.Candidate) *models.Candidate {
	var best *models.Candidate
	for i := range ranked {
		c := &ranked[i]
		if c.Folds == 0 {
			continue
		}
		if best == nil || less(c, best) {
			best = c
		}
	}
	return best
}

func less(a, b *models.Candidate) bool {
	if a.Scores.RMSE != b.Scores.RMSE {
		return a.Scores.RMSE < b.Scores.RMSE
	}
	if a.Scores.MAE != b.Scores.MAE {
		return a.Scores.MAE < b.Scores.MAE
	}
	return a.GridRank < b.GridRank
}

// sortRanked orders the diagnostic list best-first, failed candidates last.
func sortRanked(ranked []models.Candidate) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if (a.Folds == 0) != (b.Folds == 0) {
			return b.Folds == 0
		}
		if a.Folds == 0 {
			return a.GridRank < b.GridRank
		}
		return less(a, b)
	})
}
