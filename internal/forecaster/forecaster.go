// Package forecaster drives the forecasting pipeline: it decides between
// reusing a persisted model and retraining, produces the forecast, and hands
// prediction rows to the metric store.
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opspulse/opspulse/internal/artifact"
	"github.com/opspulse/opspulse/internal/config"
	"github.com/opspulse/opspulse/internal/dataset"
	"github.com/opspulse/opspulse/internal/evaluate"
	"github.com/opspulse/opspulse/internal/metrics"
	"github.com/opspulse/opspulse/internal/model"
	"github.com/opspulse/opspulse/internal/models"
	"github.com/opspulse/opspulse/internal/source"
	"github.com/opspulse/opspulse/internal/tune"
)

// state tags the per-request pipeline position. Kept explicit so the
// reuse/retrain/timeout branching stays auditable.
type state int

const (
	stateCheckCache state = iota
	stateReuse
	stateRetrain
	statePredict
	statePersist
	stateDone
	stateFailed
)

// Result is a finished forecast plus how it was produced.
type Result struct {
	Points   []models.ForecastPoint
	Metadata models.Metadata

	// Reused is true when a fresh persisted model served the request
	// without retraining. Stale is true when the stale-fallback policy
	// served an over-age model; Diagnostic then carries the reason.
	Reused     bool
	Stale      bool
	Diagnostic error
}

type Forecaster struct {
	cfg       *config.Config
	src       source.Source
	storage   *artifact.Storage
	preparer  *dataset.Preparer
	trainer   *model.Trainer
	tuner     *tune.Tuner
	predictor *model.Predictor

	// Retrains are coalesced per key: concurrent cache misses for the same
	// (vm, metric) share one training run and one artifact write.
	group singleflight.Group

	mu       sync.Mutex
	inFlight map[string]bool

	now func() time.Time
}

func New(cfg *config.Config, src source.Source, storage *artifact.Storage) *Forecaster {
	trainer := model.NewTrainer(cfg.NumChangepoints, cfg.FourierOrderDaily, cfg.FourierOrderWeekly)
	predictor := model.NewPredictor(cfg.ConfidenceLevel)
	return &Forecaster{
		cfg:       cfg,
		src:       src,
		storage:   storage,
		preparer:  dataset.New(cfg.Interval, cfg.MinTrainingPoints, cfg.OutlierClipSigma),
		trainer:   trainer,
		tuner:     tune.New(trainer, predictor, cfg.CVFoldCount, cfg.CVStepSize, cfg.MinTrainingPoints),
		predictor: predictor,
		inFlight:  make(map[string]bool),
		now:       time.Now,
	}
}

// Forecast runs the request state machine:
// CHECK_CACHE → {REUSE | RETRAIN} → PREDICT → PERSIST_PREDICTIONS → DONE.
// A persistence failure is reported in the result diagnostic but never
// invalidates the returned forecast.
func (f *Forecaster) Forecast(ctx context.Context, vm, metric string, horizon int) (Result, error) {
	if horizon <= 0 {
		metrics.ForecastRequestsTotal.WithLabelValues("invalid").Inc()
		return Result{}, models.Errf(models.KindPrediction, "horizon must be positive, got %d", horizon)
	}

	var (
		res     Result
		trained *model.Trained
		err     error
	)

	st := stateCheckCache
	for {
		switch st {
		case stateCheckCache:
			var meta models.Metadata
			trained, meta, err = f.storage.Load(vm, metric)
			switch {
			case err == nil && f.now().Sub(meta.TrainedAt) < f.cfg.StalenessThreshold:
				metrics.ModelCacheHits.Inc()
				res.Metadata = meta
				st = stateReuse
			case err == nil:
				// Present but over the staleness threshold.
				metrics.ModelCacheMisses.Inc()
				res.Metadata = meta
				st = stateRetrain
			case models.KindOf(err) == models.KindNotFound:
				metrics.ModelCacheMisses.Inc()
				trained = nil
				st = stateRetrain
			default:
				st = stateFailed
			}

		case stateReuse:
			res.Reused = true
			st = statePredict

		case stateRetrain:
			stale := trained
			staleMeta := res.Metadata
			trained, res.Metadata, err = f.retrain(ctx, vm, metric, stale != nil)
			if err == nil {
				st = statePredict
				break
			}
			if stale != nil && f.cfg.StaleFallback && fallbackWorthy(err) {
				log.Printf("forecaster: %s/%s: retrain failed, serving stale model from %s: %v",
					vm, metric, staleMeta.TrainedAt.Format(time.RFC3339), err)
				metrics.StaleFallbacksTotal.Inc()
				trained, res.Metadata = stale, staleMeta
				res.Stale = true
				res.Diagnostic = err
				err = nil
				st = statePredict
				break
			}
			st = stateFailed

		case statePredict:
			res.Points, err = f.predictor.Predict(trained, horizon)
			if err != nil {
				st = stateFailed
				break
			}
			st = statePersist

		case statePersist:
			if perr := f.src.SavePredictions(ctx, vm, metric, res.Points); perr != nil {
				// Reported, not fatal: the in-memory forecast stands.
				log.Printf("forecaster: %s/%s: persist predictions: %v", vm, metric, perr)
				metrics.PredictionPersistErrors.Inc()
				if res.Diagnostic == nil {
					res.Diagnostic = perr
				}
			} else {
				metrics.PredictionsPersisted.Add(float64(len(res.Points)))
			}
			st = stateDone

		case stateDone:
			metrics.ForecastRequestsTotal.WithLabelValues("ok").Inc()
			return res, nil

		case stateFailed:
			metrics.ForecastRequestsTotal.WithLabelValues(string(kindOrUnknown(err))).Inc()
			return Result{}, fmt.Errorf("forecast %s/%s: %w", vm, metric, err)
		}
	}
}

// fallbackWorthy reports whether a retrain failure may be papered over with
// a stale model. Caller-input and data-shape errors are surfaced instead:
// retrying with the same inputs cannot change them.
func fallbackWorthy(err error) bool {
	switch models.KindOf(err) {
	case models.KindTimeout, models.KindDataUnavailable, models.KindStorage:
		return true
	}
	return false
}

func kindOrUnknown(err error) models.Kind {
	if kind := models.KindOf(err); kind != "" {
		return kind
	}
	return "unknown"
}

// retrain coalesces concurrent callers per key into a single training run.
// Exactly one retrain executes; joiners receive its model. With the
// stale-fallback policy enabled, a caller that holds a stale model
// short-circuits past an already in-flight retrain instead of waiting;
// first-time callers always wait since they have nothing else to serve.
func (f *Forecaster) retrain(ctx context.Context, vm, metric string, hasStale bool) (*model.Trained, models.Metadata, error) {
	key := vm + "\x00" + metric

	f.mu.Lock()
	joinable := f.inFlight[key]
	f.mu.Unlock()
	if joinable && hasStale && f.cfg.StaleFallback {
		return nil, models.Metadata{}, models.Errf(models.KindTimeout, "retrain already in flight")
	}

	type outcome struct {
		trained *model.Trained
		meta    models.Metadata
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		f.mu.Lock()
		f.inFlight[key] = true
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.inFlight, key)
			f.mu.Unlock()
		}()

		// Joiners share the result, so the run is detached from any one
		// caller's cancellation and bounded by the retrain budget alone.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.RetrainTimeout)
		defer cancel()

		trained, meta, err := f.runRetrain(rctx, vm, metric)
		if err != nil {
			metrics.RetrainsTotal.WithLabelValues(string(kindOrUnknown(err))).Inc()
			return nil, err
		}
		metrics.RetrainsTotal.WithLabelValues("ok").Inc()
		return outcome{trained, meta}, nil
	})
	if err != nil {
		return nil, models.Metadata{}, err
	}
	o := v.(outcome)
	return o.trained, o.meta, nil
}

// runRetrain is the RETRAIN path proper: prepare → tune → fit → save.
// A timeout between stages surfaces as a timeout error kind; the previously
// persisted artifact stays intact because Save publishes atomically.
func (f *Forecaster) runRetrain(ctx context.Context, vm, metric string) (*model.Trained, models.Metadata, error) {
	until := f.now().UTC()
	since := until.Add(-f.cfg.TrainingWindow)

	obs, err := f.src.Observations(ctx, vm, metric, since, until)
	if err != nil {
		return nil, models.Metadata{}, timeoutOr(ctx, err)
	}

	frame, err := f.preparer.Prepare(obs, since, until)
	if err != nil {
		return nil, models.Metadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.Metadata{}, models.E(models.KindTimeout, "retrain budget exhausted after prepare", err)
	}

	tuneStart := time.Now()
	tuning, err := f.tuner.Tune(frame, f.cfg.HyperparameterGrid)
	metrics.TuningDuration.Observe(time.Since(tuneStart).Seconds())
	if err != nil {
		return nil, models.Metadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.Metadata{}, models.E(models.KindTimeout, "retrain budget exhausted after tuning", err)
	}

	trained, err := f.trainer.Fit(frame, tuning.Best)
	if err != nil {
		return nil, models.Metadata{}, err
	}

	meta := models.Metadata{
		VM:              vm,
		Metric:          metric,
		TrainedAt:       f.now().UTC(),
		WindowStart:     frame.Start(),
		WindowEnd:       frame.End(),
		Hyperparameters: tuning.Best,
		EvalMetrics:     tuning.Scores,
	}
	if err := f.storage.Save(vm, metric, trained, meta); err != nil {
		return nil, models.Metadata{}, err
	}
	return trained, meta, nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.E(models.KindTimeout, "retrain budget exhausted", err)
	}
	return err
}

// Accuracy scores previously persisted predictions against the facts that
// have since arrived for the same window. Post-hoc reporting only; no state
// changes.
func (f *Forecaster) Accuracy(ctx context.Context, vm, metric string, since, until time.Time) (models.EvalResult, error) {
	predicted, err := f.src.Predictions(ctx, vm, metric, since, until)
	if err != nil {
		return models.EvalResult{}, err
	}
	if len(predicted) == 0 {
		return models.EvalResult{}, models.Errf(models.KindNotFound, "no persisted predictions for %s/%s", vm, metric)
	}

	obs, err := f.src.Observations(ctx, vm, metric, since, until)
	if err != nil {
		return models.EvalResult{}, err
	}

	byTime := make(map[int64]float64, len(obs))
	for _, o := range obs {
		byTime[o.Timestamp.Unix()] = o.Value
	}

	var actual, values []float64
	for _, p := range predicted {
		if v, ok := byTime[p.Timestamp.Unix()]; ok {
			actual = append(actual, v)
			values = append(values, p.Value)
		}
	}
	if len(actual) == 0 {
		return models.EvalResult{}, models.Errf(models.KindInsufficientData,
			"no overlapping actuals for %s/%s in [%s, %s]", vm, metric,
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	return evaluate.Evaluate(actual, values), nil
}
