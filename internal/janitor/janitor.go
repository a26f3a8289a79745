// Package janitor runs periodic memory cleanup in the background,
// reclaiming expired individual records so the durable tier does not
// accumulate rows the cache has long since evicted.
package janitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/memtier/internal/observability"
	"github.com/blueberrycongee/memtier/pkg/types"
)

// Cleaner runs a single reclamation pass.
type Cleaner interface {
	Cleanup(ctx context.Context) types.CleanupResult
}

// Janitor triggers cleanup passes on a fixed interval, optionally capped
// by a rate limiter so bursty restarts cannot hammer the durable tier.
type Janitor struct {
	cleaner  Cleaner
	interval time.Duration
	limiter  *rate.Limiter
	logger   *observability.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a janitor. ratePerSecond caps how often passes may start;
// zero means no cap beyond the interval itself.
func New(cleaner Cleaner, interval time.Duration, ratePerSecond float64, logger *observability.Logger) *Janitor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Janitor{
		cleaner:  cleaner,
		interval: interval,
		limiter:  limiter,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.once.Do(func() {
		ctx, j.cancel = context.WithCancel(ctx)
		go j.run(ctx)
	})
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.pass(ctx)
		}
	}
}

func (j *Janitor) pass(ctx context.Context) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return
		}
	}

	result := j.cleaner.Cleanup(ctx)
	if result.TotalCleaned > 0 {
		j.logger.Info("cleanup pass finished",
			"individual_cleaned", result.IndividualCleaned,
			"shared_cleaned", result.SharedCleaned,
			"execution_time", result.ExecutionTime,
		)
	}
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
}
