// Package source is the metric store collaborator: it serves historical
// observation rows and accepts forecast rows for persistence.
package source

import (
	"context"
	"time"

	"github.com/opspulse/opspulse/internal/models"
)

// Pair identifies one forecastable series.
type Pair struct {
	VM     string
	Metric string
}

// Source abstracts the metric store. Reads return rows ordered ascending by
// timestamp; writes are idempotent on (vm, metric, timestamp).
type Source interface {
	Observations(ctx context.Context, vm, metric string, since, until time.Time) ([]models.Observation, error)
	SavePredictions(ctx context.Context, vm, metric string, points []models.ForecastPoint) error
	Predictions(ctx context.Context, vm, metric string, since, until time.Time) ([]models.ForecastPoint, error)
	Pairs(ctx context.Context) ([]Pair, error)
}
