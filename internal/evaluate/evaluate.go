// Package evaluate computes forecast accuracy metrics for aligned
// actual/predicted series.
package evaluate

import (
	"math"

	"github.com/opspulse/opspulse/internal/models"
)

// Evaluate returns MAE, RMSE and MAPE for aligned series. Series must be the
// same non-zero length; a zero-value result is returned otherwise. MAPE is
// NaN, not zero, when any actual value is zero — a percentage error against
// zero is undefined and reporting zero would fake a perfect score.
func Evaluate(actual, predicted []float64) models.EvalResult {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return models.EvalResult{}
	}

	var sumAbs, sumSq, sumPct float64
	hasZeroActual := false

	for i := range actual {
		diff := actual[i] - predicted[i]
		sumAbs += math.Abs(diff)
		sumSq += diff * diff

		if actual[i] == 0 {
			hasZeroActual = true
		} else {
			sumPct += math.Abs(diff / actual[i])
		}
	}

	n := float64(len(actual))
	result := models.EvalResult{
		MAE:  sumAbs / n,
		RMSE: math.Sqrt(sumSq / n),
		MAPE: sumPct / n * 100,
	}
	if hasZeroActual {
		result.MAPE = math.NaN()
	}
	return result
}
