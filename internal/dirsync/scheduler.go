package dirsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/controller/connection"
)

const (
	// defaultSyncInterval between two scheduled runs of a connection.
	defaultSyncInterval = 5 * time.Minute
	// defaultWorkers is the number of concurrent sync runs.
	defaultWorkers = 4
	// baseBackoff is the first retry delay after a retryable failure; it
	// doubles per consecutive retry and is capped at the sync interval.
	baseBackoff = 30 * time.Second
	// queueDepth bounds enqueued-but-not-started runs.
	queueDepth = 1024
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	DB     *gorm.DB
	Runner *Runner
	// Interval between two scheduled runs of the same connection; zero
	// selects the default.
	Interval time.Duration
	// Workers is the number of concurrent sync runs; zero selects the
	// default.
	Workers int
}

// Scheduler drives sync runs: a periodic tick enqueues every enabled
// connection, a worker pool executes the runs, and retryable failures
// are re-enqueued with exponential backoff. At most one run per
// connection is queued or in flight at any time; further triggers
// coalesce into the pending one.
type Scheduler struct {
	db       *gorm.DB
	runner   *Runner
	interval time.Duration
	workers  int

	mu      sync.Mutex
	pending map[uint]bool
	backoff map[uint]time.Duration
	stopped bool

	queue  chan uint
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a stopped Scheduler; call Start to begin.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Scheduler{
		db:       cfg.DB,
		runner:   cfg.Runner,
		interval: interval,
		workers:  workers,
		pending:  make(map[uint]bool),
		backoff:  make(map[uint]time.Duration),
		queue:    make(chan uint, queueDepth),
	}
}

// Start launches the worker pool and the periodic tick. The first tick
// fires immediately so a fresh daemon syncs without waiting a full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)

		go s.worker(ctx)
	}

	s.wg.Add(1)

	go s.tick(ctx)

	log.Info().
		Dur("interval", s.interval).
		Int("workers", s.workers).
		Msg("sync scheduler started")
}

// Stop cancels in-flight runs and waits for the workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	log.Info().Msg("sync scheduler stopped")
}

// Enqueue requests a sync run for the connection. Returns false when a
// run is already queued or in flight (the trigger coalesces into it),
// or when the scheduler is stopped or saturated.
func (s *Scheduler) Enqueue(connectionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.pending[connectionID] {
		return false
	}

	select {
	case s.queue <- connectionID:
		s.pending[connectionID] = true
		return true
	default:
		log.Warn().Uint("connection_id", connectionID).Msg("sync queue saturated, dropping trigger")
		return false
	}
}

// tick enqueues every enabled connection once per interval.
func (s *Scheduler) tick(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		conns, err := connection.GetEnabled(s.db)
		if err != nil {
			log.Error().Err(err).Msg("failed to list enabled connections")
		}

		for _, conn := range conns {
			s.Enqueue(conn.ID)
		}

		timer.Reset(s.interval)
	}
}

// worker executes queued runs until the context is cancelled.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case connectionID := <-s.queue:
			s.runOne(ctx, connectionID)
		}
	}
}

// runOne executes one run and handles the retry bookkeeping.
func (s *Scheduler) runOne(ctx context.Context, connectionID uint) {
	err := s.runner.Run(ctx, connectionID)

	s.mu.Lock()
	delete(s.pending, connectionID)

	switch {
	case err == nil, ctx.Err() != nil:
		delete(s.backoff, connectionID)
	case !Retryable(err):
		// fatal for the run; the next regular tick decides what happens
		delete(s.backoff, connectionID)
	default:
		delay := s.backoff[connectionID]
		if delay == 0 {
			delay = baseBackoff
		} else {
			delay *= 2
		}

		if delay > s.interval {
			delay = s.interval
		}

		s.backoff[connectionID] = delay

		log.Info().
			Uint("connection_id", connectionID).
			Dur("retry_in", delay).
			Msg("scheduling sync retry")

		time.AfterFunc(delay, func() {
			s.Enqueue(connectionID)
		})
	}

	s.mu.Unlock()
}
