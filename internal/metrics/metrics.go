package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForecastRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_forecast_requests_total",
			Help: "Total forecast requests by outcome",
		},
		[]string{"outcome"},
	)

	ModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_model_cache_hits_total",
			Help: "Forecasts served from a fresh persisted model",
		},
	)

	ModelCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_model_cache_misses_total",
			Help: "Forecast requests that found no usable persisted model",
		},
	)

	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_retrains_total",
			Help: "Model retrains by outcome",
		},
		[]string{"outcome"},
	)

	StaleFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_stale_fallbacks_total",
			Help: "Forecasts served from a stale model after a retrain timeout or join",
		},
	)

	TuningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opspulse_tuning_duration_seconds",
			Help:    "Hyperparameter tuning duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
		},
	)

	PredictionsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_predictions_persisted_total",
			Help: "Forecast rows handed to the metric store",
		},
	)

	PredictionPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_prediction_persist_errors_total",
			Help: "Failed attempts to persist forecast rows",
		},
	)
)
