package ingest

import (
	"context"
	"log"
	"time"

	"github.com/opspulse/opspulse/internal/forecaster"
	"github.com/opspulse/opspulse/internal/source"
)

// Engine is the forecasting entry point the scheduler drives.
type Engine interface {
	Forecast(ctx context.Context, vm, metric string, horizon int) (forecaster.Result, error)
}

// Scheduler periodically refreshes the forecast for every known series so
// dashboard reads hit warm models and persisted predictions.
type Scheduler struct {
	engine   Engine
	src      source.Source
	interval time.Duration
	horizon  int
}

func NewScheduler(engine Engine, src source.Source, interval time.Duration, horizon int) *Scheduler {
	return &Scheduler{
		engine:   engine,
		src:      src,
		interval: interval,
		horizon:  horizon,
	}
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
// Per-series failures are logged and skipped; the loop never stops for them.
func (s *Scheduler) Run(ctx context.Context) error {
	s.refreshAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: shutting down")
			return nil
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	pairs, err := s.src.Pairs(ctx)
	if err != nil {
		log.Printf("scheduler: list series: %v", err)
		return
	}

	refreshed := 0
	for _, p := range pairs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.Forecast(ctx, p.VM, p.Metric, s.horizon); err != nil {
			log.Printf("scheduler: refresh %s/%s: %v", p.VM, p.Metric, err)
			continue
		}
		refreshed++
	}
	if len(pairs) > 0 {
		log.Printf("scheduler: refreshed %d/%d series", refreshed, len(pairs))
	}
}
