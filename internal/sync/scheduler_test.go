package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// countingRunner records pass invocations and the maximum number of passes
// ever in flight at once.
type countingRunner struct {
	delay time.Duration

	calls     atomic.Int64
	current   atomic.Int64
	max       atomic.Int64
	lastBatch atomic.Int64
}

func (r *countingRunner) RunPass(ctx context.Context, batchSize int) (models.BatchResult, error) {
	r.lastBatch.Store(int64(batchSize))
	cur := r.current.Add(1)
	for {
		max := r.max.Load()
		if cur <= max || r.max.CompareAndSwap(max, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.current.Add(-1)
	r.calls.Add(1)
	return models.BatchResult{Processed: batchSize}, nil
}

func TestStartIsIdempotent(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10, nil)
	defer s.Stop()

	s.Start(10 * time.Millisecond)
	s.Start(10 * time.Millisecond) // no-op, no second timer
	assert.True(t, s.IsRunning())

	time.Sleep(120 * time.Millisecond)
	s.Stop()

	calls := runner.calls.Load()
	assert.Greater(t, calls, int64(0), "ticks should have fired")
	// A duplicate timer would roughly double the tick count.
	assert.LessOrEqual(t, calls, int64(14), "double start must not double ticks")
}

func TestStopIsIdempotentAndStartResumes(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10, nil)

	s.Stop() // stopped scheduler: no-op
	assert.False(t, s.IsRunning())

	s.Start(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())
	afterStop := runner.calls.Load()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, afterStop, runner.calls.Load(), "no ticks after stop")

	s.Start(10 * time.Millisecond)
	assert.True(t, s.IsRunning())
	time.Sleep(35 * time.Millisecond)
	s.Stop()
	assert.Greater(t, runner.calls.Load(), afterStop, "ticking resumes after restart")
}

func TestPassesNeverOverlap(t *testing.T) {
	runner := &countingRunner{delay: 20 * time.Millisecond}
	s := NewScheduler(runner, 10, nil)

	s.Start(5 * time.Millisecond)

	// Hammer manual triggers while the timer is ticking.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TriggerOnce(context.Background(), 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	s.Stop()

	assert.Equal(t, int64(1), runner.max.Load(), "at most one pass may be in flight")
}

func TestScheduledTicksUseConfiguredBatchSize(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 25, nil)

	s.Start(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	require.Greater(t, runner.calls.Load(), int64(0), "ticks should have fired")
	assert.Equal(t, int64(25), runner.lastBatch.Load(), "ticks must use the configured batch size")
}

func TestTriggerOnceRunsWhileStopped(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 42, nil)

	result, err := s.TriggerOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Processed, "zero batch size falls back to the default")
	assert.False(t, s.IsRunning())
	assert.Equal(t, int64(1), runner.calls.Load())
}
