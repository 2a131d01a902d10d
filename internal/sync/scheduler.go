package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// PassRunner runs one reconciliation pass over pending change records.
type PassRunner interface {
	RunPass(ctx context.Context, batchSize int) (models.BatchResult, error)
}

// Scheduler drives the reconciler on a recurring timer and on demand.
//
// It is an explicitly owned object, not package state; the design assumes a
// single active scheduler instance per database. Running more than one
// requires an external lock, which this package does not provide.
type Scheduler struct {
	runner    PassRunner
	batchSize int
	logger    *log.Logger

	mu      sync.Mutex // guards running/cancel
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// passMu serializes timer ticks and manual triggers so at most one
	// batch is in flight at any instant. Concurrent batches could
	// double-submit the same entity's field update.
	passMu sync.Mutex
}

// NewScheduler creates a scheduler in the stopped state.
func NewScheduler(runner PassRunner, batchSize int, logger *log.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		runner:    runner,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start installs the recurring timer. Calling Start on a running scheduler
// is a no-op, so at most one timer exists.
func (s *Scheduler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx, interval)

	s.logger.Printf("Scheduler started (interval %s, batch size %d)", interval, s.batchSize)
}

// Stop cancels future ticks. An in-flight batch runs to completion so no
// record is left claimed in PROCESSING. Idempotent when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Printf("Scheduler stopped")
}

// IsRunning reports whether the timer is installed.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerOnce runs exactly one reconciliation pass synchronously, regardless
// of scheduler state. It blocks until any in-flight tick finishes, so two
// passes never overlap. A batchSize of zero uses the scheduler's default.
func (s *Scheduler) TriggerOnce(ctx context.Context, batchSize int) (models.BatchResult, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.runner.RunPass(ctx, batchSize)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	// Deliberately not the loop context: Stop only prevents future ticks,
	// it does not cancel a batch that already started.
	result, err := s.runner.RunPass(context.Background(), s.batchSize)
	if err != nil {
		s.logger.Printf("Scheduled pass failed: %v", err)
		return
	}
	if result.Processed > 0 {
		s.logger.Printf("Scheduled pass: processed=%d synced=%d failed=%d skipped=%d",
			result.Processed, result.Synced, result.Failed, result.Skipped)
	}
}
