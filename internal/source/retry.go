package source

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opspulse/opspulse/internal/models"
)

// Retrying wraps a Source with bounded exponential backoff. The metric store
// is assumed to fail transiently: reads retry up to maxRetries before
// surfacing a data-unavailable error, writes likewise before a storage error.
// Context cancellation aborts immediately.
type Retrying struct {
	src        Source
	maxRetries uint64
}

func NewRetrying(src Source, maxRetries int) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{src: src, maxRetries: uint64(maxRetries)}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)
}

func (r *Retrying) Observations(ctx context.Context, vm, metric string, since, until time.Time) ([]models.Observation, error) {
	var observations []models.Observation
	operation := func() error {
		var err error
		observations, err = r.src.Observations(ctx, vm, metric, since, until)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(operation, r.policy(ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, models.E(models.KindDataUnavailable, "fetch observations", err)
	}
	return observations, nil
}

func (r *Retrying) SavePredictions(ctx context.Context, vm, metric string, points []models.ForecastPoint) error {
	operation := func() error {
		err := r.src.SavePredictions(ctx, vm, metric, points)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(operation, r.policy(ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return models.E(models.KindStorage, "persist predictions", err)
	}
	return nil
}

func (r *Retrying) Predictions(ctx context.Context, vm, metric string, since, until time.Time) ([]models.ForecastPoint, error) {
	var points []models.ForecastPoint
	operation := func() error {
		var err error
		points, err = r.src.Predictions(ctx, vm, metric, since, until)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(operation, r.policy(ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, models.E(models.KindDataUnavailable, "fetch predictions", err)
	}
	return points, nil
}

func (r *Retrying) Pairs(ctx context.Context) ([]Pair, error) {
	var pairs []Pair
	operation := func() error {
		var err error
		pairs, err = r.src.Pairs(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(operation, r.policy(ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, models.E(models.KindDataUnavailable, "list series", err)
	}
	return pairs, nil
}
