// Package jobs runs scheduled maintenance work around the sample cache.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"nomadclient/internal/aggregate"
)

// refreshTimeout bounds one scheduled aggregation run.
const refreshTimeout = 10 * time.Minute

// RefreshScheduler periodically re-runs the sample aggregation so the
// on-disk cache stays warm for downstream consumers.
type RefreshScheduler struct {
	scheduler gocron.Scheduler
	engine    *aggregate.Engine
}

// NewRefreshScheduler creates a scheduler over the given aggregation engine.
func NewRefreshScheduler(engine *aggregate.Engine) (*RefreshScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &RefreshScheduler{scheduler: scheduler, engine: engine}, nil
}

// Schedule registers a refresh job that re-runs the aggregation every
// interval, bypassing the whole-result cache so fresh data is written back.
// onComplete, when non-nil, receives each successful result.
func (r *RefreshScheduler) Schedule(interval time.Duration, opts aggregate.Options, onComplete func(*aggregate.Result)) error {
	opts.BypassCache = true

	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			result, err := r.engine.FetchSamples(ctx, opts)
			if err != nil {
				log.Printf("⚠️ [REFRESH] Sample refresh failed: %v", err)
				return
			}
			log.Printf("✅ [REFRESH] Refreshed %d sample records (%d skipped)",
				len(result.Records), len(result.Skipped))
			if onComplete != nil {
				onComplete(result)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}
	return nil
}

// Start begins running registered jobs.
func (r *RefreshScheduler) Start() {
	r.scheduler.Start()
	log.Printf("⏰ [REFRESH] Scheduler started")
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (r *RefreshScheduler) Stop() error {
	return r.scheduler.Shutdown()
}
