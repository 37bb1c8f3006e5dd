// Package consumer implements the C7 consumer: it polls the bounded
// packet queue, hands payloads to the price service, and owns the
// circuit breaker guarding the store from cascading failures.
package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/hdvpipeline/internal/queue"
)

// ErrCircuitOpen is returned when the breaker refuses work without
// polling the queue (spec §7 CircuitOpen).
var ErrCircuitOpen = errors.New("consumer: circuit open")

// Processor is the subset of the price service the consumer depends
// on, narrowed for testability.
type Processor interface {
	ProcessPacket(ctx context.Context, raw []byte) (int, error)
	ProcessBatch(ctx context.Context, raws [][]byte) (int, error)
}

// BreakerConfig controls the circuit breaker (spec §4.7).
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// Config controls polling cadence and batch sizing.
type Config struct {
	BatchSize   int
	PollTimeout time.Duration
	Breaker     BreakerConfig
}

// Metrics are the atomic counters spec §4.7 requires the consumer to
// maintain.
type Metrics struct {
	totalPacketsProcessed int64
	totalEntriesPersisted int64
	totalErrors           int64
}

func (m *Metrics) TotalPacketsProcessed() int64 { return atomic.LoadInt64(&m.totalPacketsProcessed) }
func (m *Metrics) TotalEntriesPersisted() int64 { return atomic.LoadInt64(&m.totalEntriesPersisted) }
func (m *Metrics) TotalErrors() int64           { return atomic.LoadInt64(&m.totalErrors) }

// MetricsSink optionally mirrors the consumer's atomic counters into a
// Prometheus registry at the same call sites Metrics already updates.
type MetricsSink interface {
	IncPacketsProcessed(outcome string)
	AddEntriesPersisted(n int)
	IncErrors(kind string)
	ObserveDuration(op string, seconds float64)
}

// Consumer is the C7 consumer task.
type Consumer struct {
	q         *queue.Queue
	processor Processor
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
	metrics   *Metrics
	sink      MetricsSink
}

// WithMetrics wires an optional Prometheus sink alongside the
// consumer's own atomic counters. Returns c for chaining at the
// construction site.
func (c *Consumer) WithMetrics(sink MetricsSink) *Consumer {
	c.sink = sink
	return c
}

// New builds a Consumer. The breaker opens after cfg.Breaker.Threshold
// consecutive failures and stays open for cfg.Breaker.Cooldown before
// allowing a HalfOpen probe (spec §4.7).
func New(q *queue.Queue, processor Processor, cfg Config) *Consumer {
	settings := gobreaker.Settings{
		Name:    "hdv-consumer",
		Timeout: cfg.Breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.Threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("consumer: circuit breaker state change")
		},
	}
	return &Consumer{
		q:         q,
		processor: processor,
		cfg:       cfg,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		metrics:   &Metrics{},
	}
}

// Metrics returns the consumer's counters and circuit state.
func (c *Consumer) Metrics() *Metrics { return c.metrics }

// State returns the breaker's current state for the health endpoint.
func (c *Consumer) State() gobreaker.State { return c.breaker.State() }

// ConsumeOne implements spec §4.7 consumeOne: poll the queue with the
// configured deadline, process one packet through the breaker. Returns
// false when the queue was empty or the breaker refused the call.
func (c *Consumer) ConsumeOne(ctx context.Context) (bool, error) {
	if c.breaker.State() == gobreaker.StateOpen {
		atomic.AddInt64(&c.metrics.totalErrors, 1)
		if c.sink != nil {
			c.sink.IncPacketsProcessed("error")
			c.sink.IncErrors("breaker_open")
		}
		return false, ErrCircuitOpen
	}
	payload, ok := c.q.Poll(c.cfg.PollTimeout)
	if !ok {
		return false, nil
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		n, err := c.processor.ProcessPacket(ctx, payload)
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&c.metrics.totalEntriesPersisted, int64(n))
		if c.sink != nil {
			c.sink.AddEntriesPersisted(n)
		}
		return n, nil
	})
	atomic.AddInt64(&c.metrics.totalPacketsProcessed, 1)
	if c.sink != nil {
		c.sink.ObserveDuration("single", time.Since(start).Seconds())
	}
	if err != nil {
		atomic.AddInt64(&c.metrics.totalErrors, 1)
		if c.sink != nil {
			c.sink.IncPacketsProcessed("error")
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if c.sink != nil {
				c.sink.IncErrors("breaker_open")
			}
			return false, ErrCircuitOpen
		}
		if c.sink != nil {
			c.sink.IncErrors("processing")
		}
		return false, err
	}
	if c.sink != nil {
		c.sink.IncPacketsProcessed("ok")
	}
	return true, nil
}

// ConsumeBatch implements spec §4.7 consumeBatch: collects up to
// batchSize items bounded by the poll deadline, then processes them as
// one batch through the breaker. Returns the number of entries
// persisted and the number of packets actually pulled off the queue —
// the latter distinguishes "queue was empty" from "batch persisted
// nothing" (e.g. an all-dedup-conflict batch), which Drain needs to
// know when to stop.
func (c *Consumer) ConsumeBatch(ctx context.Context) (persisted int, consumed int, err error) {
	if c.breaker.State() == gobreaker.StateOpen {
		atomic.AddInt64(&c.metrics.totalErrors, 1)
		if c.sink != nil {
			c.sink.IncPacketsProcessed("error")
			c.sink.IncErrors("breaker_open")
		}
		return 0, 0, ErrCircuitOpen
	}
	batch := make([][]byte, 0, c.cfg.BatchSize)
	for i := 0; i < c.cfg.BatchSize; i++ {
		payload, ok := c.q.Poll(c.cfg.PollTimeout)
		if !ok {
			break
		}
		batch = append(batch, payload)
	}
	if len(batch) == 0 {
		return 0, 0, nil
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.processor.ProcessBatch(ctx, batch)
	})
	atomic.AddInt64(&c.metrics.totalPacketsProcessed, int64(len(batch)))
	if c.sink != nil {
		c.sink.ObserveDuration("batch", time.Since(start).Seconds())
	}
	if err != nil {
		atomic.AddInt64(&c.metrics.totalErrors, 1)
		if c.sink != nil {
			c.sink.IncPacketsProcessed("error")
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if c.sink != nil {
				c.sink.IncErrors("breaker_open")
			}
			return 0, len(batch), ErrCircuitOpen
		}
		if c.sink != nil {
			c.sink.IncErrors("processing")
		}
		return 0, len(batch), err
	}
	n := result.(int)
	atomic.AddInt64(&c.metrics.totalEntriesPersisted, int64(n))
	if c.sink != nil {
		c.sink.IncPacketsProcessed("ok")
		c.sink.AddEntriesPersisted(n)
	}
	return n, len(batch), nil
}

// Drain implements spec §4.7 drain: repeatedly consumes batches until
// the queue empties or the first error (including CircuitOpen).
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		persisted, consumed, err := c.ConsumeBatch(ctx)
		if err != nil {
			return total, err
		}
		if consumed == 0 {
			return total, nil
		}
		total += persisted
	}
}
