package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/memtier/pkg/types"
)

type countingCleaner struct {
	passes atomic.Int32
}

func (c *countingCleaner) Cleanup(ctx context.Context) types.CleanupResult {
	c.passes.Add(1)
	return types.CleanupResult{IndividualCleaned: 1, TotalCleaned: 1}
}

func TestJanitor_RunsOnInterval(t *testing.T) {
	cleaner := &countingCleaner{}
	j := New(cleaner, 10*time.Millisecond, 0, nil)

	j.Start(context.Background())
	defer j.Stop()

	assert.Eventually(t, func() bool {
		return cleaner.passes.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestJanitor_StopHaltsLoop(t *testing.T) {
	cleaner := &countingCleaner{}
	j := New(cleaner, 10*time.Millisecond, 0, nil)

	j.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	j.Stop()

	after := cleaner.passes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, cleaner.passes.Load())
}

func TestJanitor_StartTwiceIsNoOp(t *testing.T) {
	cleaner := &countingCleaner{}
	j := New(cleaner, time.Hour, 0, nil)

	j.Start(context.Background())
	j.Start(context.Background())
	j.Stop()
}

func TestJanitor_ContextCancelStopsLoop(t *testing.T) {
	cleaner := &countingCleaner{}
	j := New(cleaner, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case <-j.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestJanitor_RateLimitCapsPasses(t *testing.T) {
	cleaner := &countingCleaner{}
	// Ticks every 5ms, but the limiter allows roughly one pass per 100ms.
	j := New(cleaner, 5*time.Millisecond, 10, nil)

	j.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	j.Stop()

	assert.LessOrEqual(t, cleaner.passes.Load(), int32(4))
}
