// Package queue implements the bounded, multi-producer/multi-consumer
// FIFO that decouples live packet capture from the consumer.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MetricsSink optionally receives the periodic depth/utilisation
// snapshots Monitor produces, for a Prometheus registry to expose
// alongside the warn-threshold log line.
type MetricsSink interface {
	SetQueueSize(n int)
	SetQueueUtilisation(ratio float64)
}

// Queue is a fixed-capacity FIFO of raw captured payloads, backed by a
// buffered channel. Offer and Poll honour deadlines rather than
// blocking indefinitely; on overflow the producer drops the payload
// instead of stalling the capture loop.
type Queue struct {
	items    chan []byte
	capacity int

	// At most one sustained-depth warning per second from Monitor,
	// however many of its ticks observe the same saturated state.
	warnLimiter *rate.Limiter
}

// New builds a Queue with the given fixed capacity.
func New(capacity int) *Queue {
	return &Queue{
		items:       make(chan []byte, capacity),
		capacity:    capacity,
		warnLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Offer appends payload if room opens up within timeout, returning
// false (the producer's signal to drop) otherwise.
func (q *Queue) Offer(payload []byte, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case q.items <- payload:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.items <- payload:
		return true
	case <-timer.C:
		return false
	}
}

// Poll removes and returns the head of the queue within timeout, or
// (nil, false) if nothing arrived in time.
func (q *Queue) Poll(timeout time.Duration) ([]byte, bool) {
	if timeout <= 0 {
		select {
		case item := <-q.items:
			return item, true
		default:
			return nil, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.items:
		return item, true
	case <-timer.C:
		return nil, false
	}
}

// Drain removes up to maxN items without blocking.
func (q *Queue) Drain(maxN int) [][]byte {
	out := make([][]byte, 0, maxN)
	for i := 0; i < maxN; i++ {
		select {
		case item := <-q.items:
			out = append(out, item)
		default:
			return out
		}
	}
	return out
}

// Size returns the current item count. Under concurrent use this is a
// snapshot, not a guarantee.
func (q *Queue) Size() int { return len(q.items) }

// RemainingCapacity returns how many more items fit before Offer
// would block.
func (q *Queue) RemainingCapacity() int { return q.capacity - len(q.items) }

// Capacity returns the fixed capacity configured at construction.
func (q *Queue) Capacity() int { return q.capacity }

// Utilisation returns size/capacity in [0,1].
func (q *Queue) Utilisation() float64 {
	if q.capacity == 0 {
		return 0
	}
	return float64(q.Size()) / float64(q.capacity)
}

// ShouldLogWarning reports whether a queue-saturation warning should
// be emitted right now, throttled to at most once per second so a
// sustained overflow doesn't spam one log line per packet.
func (q *Queue) ShouldLogWarning() bool {
	return q.warnLimiter.Allow()
}

// Monitor runs until ctx is cancelled, reporting depth and utilisation
// to sink on a fixed interval and logging a warning whenever size
// crosses warnThreshold. Unlike the scheduler's tick-time check, this
// runs on its own cadence: sustained high utilisation with zero drops
// still surfaces (spec §4.5/§5's dedicated monitor task). A
// non-positive interval falls back to one second.
func (q *Queue) Monitor(ctx context.Context, interval time.Duration, warnThreshold int, sink MetricsSink) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := q.Size()
			if sink != nil {
				sink.SetQueueSize(size)
				sink.SetQueueUtilisation(q.Utilisation())
			}
			if warnThreshold > 0 && size >= warnThreshold && q.ShouldLogWarning() {
				log.Warn().Int("size", size).Int("threshold", warnThreshold).Msg("queue: sustained depth above warn threshold")
			}
		}
	}
}
