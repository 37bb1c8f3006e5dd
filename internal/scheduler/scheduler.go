// Package scheduler implements the C8 scheduled processing loop: a
// fixed-delay tick that drives the consumer, plus on-demand drain()
// calls that run on the requesting goroutine, not on the ticker's.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hdvpipeline/internal/queue"
)

// Stepper is the subset of the consumer the scheduler drives.
type Stepper interface {
	ConsumeBatch(ctx context.Context) (persisted int, consumed int, err error)
	Drain(ctx context.Context) (int, error)
}

// Config controls tick cadence and the queue-depth warning threshold.
type Config struct {
	Interval           time.Duration
	QueueWarnThreshold int
	// DrainWorkers sizes the drain slot semaphore; it does not cap
	// concurrent drains. A non-positive value falls back to
	// defaultDrainWorkers.
	DrainWorkers int
}

// defaultDrainWorkers is the pool size used when Config.DrainWorkers
// is left unset.
const defaultDrainWorkers = 2

// Scheduler drives Stepper on a fixed-delay cadence: the next tick
// starts only once the previous one has finished (spec §4.8), so a
// slow consumeBatch call never causes overlapping ticks.
type Scheduler struct {
	consumer Stepper
	q        *queue.Queue
	cfg      Config

	done chan struct{}

	// drainSem counts RequestDrain calls holding a slot. Every drain
	// runs on the caller's goroutine; when all slots are taken the
	// request runs at once without a slot, so the semaphore neither
	// blocks, drops nor caps concurrent drains.
	drainSem chan struct{}
}

// New builds a Scheduler. q is consulted only to decide whether a tick
// has anything to do and to compare against the warn threshold.
func New(consumer Stepper, q *queue.Queue, cfg Config) *Scheduler {
	workers := cfg.DrainWorkers
	if workers <= 0 {
		workers = defaultDrainWorkers
	}
	return &Scheduler{
		consumer: consumer,
		q:        q,
		cfg:      cfg,
		done:     make(chan struct{}),
		drainSem: make(chan struct{}, workers),
	}
}

// Run blocks, ticking at cfg.Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.q.Size() == 0 {
		return
	}
	if s.cfg.QueueWarnThreshold > 0 && s.q.Size() >= s.cfg.QueueWarnThreshold {
		log.Warn().Int("size", s.q.Size()).Int("threshold", s.cfg.QueueWarnThreshold).Msg("scheduler: queue depth above warn threshold")
	}

	persisted, consumed, err := s.consumer.ConsumeBatch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: tick failed")
		return
	}
	if persisted > 0 || consumed > 0 {
		log.Info().Int("persisted", persisted).Int("consumed", consumed).Msg("scheduler: tick processed packets")
	}
}

// RequestDrain runs an on-demand drain on the calling goroutine, outside
// the ticker loop, so a caller's drain request never delays the next
// scheduled tick. The consumer's breaker and the queue are both safe for
// concurrent use by a tick and a drain at once. Concurrent on-demand
// drains are not capped: once every slot is taken, the request still
// runs inline immediately rather than waiting or being dropped.
func (s *Scheduler) RequestDrain(ctx context.Context) (int, error) {
	select {
	case s.drainSem <- struct{}{}:
		defer func() { <-s.drainSem }()
		return s.consumer.Drain(ctx)
	default:
		log.Debug().Msg("scheduler: drain pool saturated, running request inline")
		return s.consumer.Drain(ctx)
	}
}
