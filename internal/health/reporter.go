package health

import (
	"github.com/sony/gobreaker"

	"github.com/sawpanic/hdvpipeline/internal/cache"
	"github.com/sawpanic/hdvpipeline/internal/consumer"
)

// Status is the overall traffic-light rating for one section or the
// whole tree (spec §4.10).
type Status string

const (
	StatusUp      Status = "UP"
	StatusWarning Status = "WARNING"
	StatusDown    Status = "DOWN"
)

// CaptureReporter is the subset of capture.Capture the health reporter
// needs. capture.Capture satisfies it directly.
type CaptureReporter interface {
	IsRunning() bool
	InterfaceName() string
}

// QueueReporter is the subset of queue.Queue the health reporter needs.
// queue.Queue satisfies it directly.
type QueueReporter interface {
	Size() int
	Capacity() int
	Utilisation() float64
}

// ConsumerReporter is the subset of consumer.Consumer the health
// reporter needs. consumer.Consumer satisfies it directly.
type ConsumerReporter interface {
	Metrics() *consumer.Metrics
	State() gobreaker.State
}

// CaptureStatus reports the capture task's state (spec §4.10).
type CaptureStatus struct {
	Enabled         bool   `json:"enabled"`
	Running         bool   `json:"running"`
	Interface       string `json:"interface,omitempty"`
	PacketsReceived int64  `json:"packetsReceived"`
	PacketsDropped  int64  `json:"packetsDropped"`
	Status          Status `json:"status"`
}

// QueueStatus reports the bounded packet queue's depth (spec §4.10).
type QueueStatus struct {
	Size               int     `json:"size"`
	Capacity           int     `json:"capacity"`
	UtilisationPercent float64 `json:"utilisationPercent"`
	Status             Status  `json:"status"`
}

// ConsumerStatus reports the consumer's throughput counters and
// circuit breaker state (spec §4.10).
type ConsumerStatus struct {
	TotalPacketsProcessed int64  `json:"totalPacketsProcessed"`
	TotalEntriesPersisted int64  `json:"totalEntriesPersisted"`
	TotalErrors           int64  `json:"totalErrors"`
	CircuitState          string `json:"circuitState"`
	Status                Status `json:"status"`
}

// CacheStatus reports one named cache's hit/miss/eviction counters
// (spec §4.10).
type CacheStatus struct {
	Name          string  `json:"name"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hitRate"`
	Evictions     int64   `json:"evictions"`
	EstimatedSize int     `json:"estimatedSize"`
	Status        Status  `json:"status"`
}

// Report is the full status tree served at /healthz.
type Report struct {
	Status   Status         `json:"status"`
	Capture  CaptureStatus  `json:"capture"`
	Queue    QueueStatus    `json:"queue"`
	Consumer ConsumerStatus `json:"consumer"`
	Caches   []CacheStatus  `json:"caches"`
}

// cacheHitRateWarnMinRequests is the minimum request volume before a
// low hit rate is worth flagging (spec §4.10: "after >= 100 requests").
const cacheHitRateWarnMinRequests = 100

// Reporter assembles the status tree from the live components it
// wraps. Nil fields are tolerated so a partially-started pipeline
// (e.g. capture disabled) still reports a coherent tree.
type Reporter struct {
	captureEnabled bool
	capture        CaptureReporter
	captureCounts  *CaptureCounters
	queue          QueueReporter
	consumer       ConsumerReporter
	caches         map[string]*cache.TTLCache
}

// NewReporter builds a Reporter. caches maps display name (e.g.
// "items", "itemsWithPrices", "latestPrices") to its TTLCache.
func NewReporter(captureEnabled bool, captureComp CaptureReporter, captureCounts *CaptureCounters, q QueueReporter, c ConsumerReporter, caches map[string]*cache.TTLCache) *Reporter {
	return &Reporter{
		captureEnabled: captureEnabled,
		capture:        captureComp,
		captureCounts:  captureCounts,
		queue:          q,
		consumer:       c,
		caches:         caches,
	}
}

// Report builds the current status tree.
func (r *Reporter) Report() Report {
	capture := r.reportCapture()
	queue := r.reportQueue()
	cons := r.reportConsumer()
	caches := r.reportCaches()

	overall := StatusUp
	for _, s := range append([]Status{capture.Status, queue.Status, cons.Status}, cacheStatuses(caches)...) {
		overall = worseOf(overall, s)
	}

	return Report{
		Status:   overall,
		Capture:  capture,
		Queue:    queue,
		Consumer: cons,
		Caches:   caches,
	}
}

func (r *Reporter) reportCapture() CaptureStatus {
	cs := CaptureStatus{Enabled: r.captureEnabled, Status: StatusUp}
	if !r.captureEnabled {
		cs.Status = StatusUp
		return cs
	}
	if r.capture != nil {
		cs.Running = r.capture.IsRunning()
		cs.Interface = r.capture.InterfaceName()
	}
	if r.captureCounts != nil {
		cs.PacketsReceived, cs.PacketsDropped = r.captureCounts.Snapshot()
	}
	if !cs.Running {
		cs.Status = StatusDown
	} else if cs.PacketsDropped > 0 {
		cs.Status = StatusWarning
	}
	return cs
}

func (r *Reporter) reportQueue() QueueStatus {
	qs := QueueStatus{Status: StatusUp}
	if r.queue == nil {
		return qs
	}
	qs.Size = r.queue.Size()
	qs.Capacity = r.queue.Capacity()
	qs.UtilisationPercent = r.queue.Utilisation() * 100

	switch {
	case qs.UtilisationPercent >= 95:
		qs.Status = StatusDown
	case qs.UtilisationPercent >= 80:
		qs.Status = StatusWarning
	}
	return qs
}

func (r *Reporter) reportConsumer() ConsumerStatus {
	cs := ConsumerStatus{Status: StatusUp, CircuitState: gobreaker.StateClosed.String()}
	if r.consumer == nil {
		return cs
	}
	m := r.consumer.Metrics()
	cs.TotalPacketsProcessed = m.TotalPacketsProcessed()
	cs.TotalEntriesPersisted = m.TotalEntriesPersisted()
	cs.TotalErrors = m.TotalErrors()
	state := r.consumer.State()
	cs.CircuitState = state.String()
	if state != gobreaker.StateClosed {
		cs.Status = StatusWarning
	}
	return cs
}

func (r *Reporter) reportCaches() []CacheStatus {
	out := make([]CacheStatus, 0, len(r.caches))
	for name, c := range r.caches {
		stats := c.Stats()
		hitRate := stats.HitRate()
		status := StatusUp
		if stats.Hits+stats.Misses >= cacheHitRateWarnMinRequests && hitRate < 0.5 {
			status = StatusWarning
		}
		out = append(out, CacheStatus{
			Name:          name,
			Hits:          stats.Hits,
			Misses:        stats.Misses,
			HitRate:       hitRate,
			Evictions:     stats.Evictions,
			EstimatedSize: c.Len(),
			Status:        status,
		})
	}
	return out
}

func cacheStatuses(caches []CacheStatus) []Status {
	out := make([]Status, 0, len(caches))
	for _, c := range caches {
		out = append(out, c.Status)
	}
	return out
}

func worseOf(a, b Status) Status {
	rank := map[Status]int{StatusUp: 0, StatusWarning: 1, StatusDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
