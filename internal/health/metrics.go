// Package health implements the C10 health and metrics surface: a
// Prometheus registry for counters/gauges/histograms, and a status
// tree (spec §4.10) served as JSON alongside /metrics.
package health

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds every Prometheus metric the pipeline exposes.
type MetricsRegistry struct {
	PacketsReceived prometheus.Counter
	PacketsDropped  prometheus.Counter

	QueueSize        prometheus.Gauge
	QueueUtilisation prometheus.Gauge

	PacketsProcessed *prometheus.CounterVec
	EntriesPersisted *prometheus.CounterVec
	ConsumerErrors   *prometheus.CounterVec

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheHitRatio  *prometheus.GaugeVec

	ProcessingDuration *prometheus.HistogramVec
}

// NewMetricsRegistry builds and registers every metric against reg.
// Tests construct their own prometheus.NewRegistry() so repeated test
// runs never collide with the package-level default registerer.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	m := &MetricsRegistry{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hdv_packets_received_total",
			Help: "Total TCP payloads captured and offered to the queue.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hdv_packets_dropped_total",
			Help: "Total packets dropped because the queue offer timed out.",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hdv_queue_size",
			Help: "Current number of payloads waiting in the packet queue.",
		}),
		QueueUtilisation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hdv_queue_utilisation_ratio",
			Help: "Queue size divided by capacity, in [0,1].",
		}),
		PacketsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_consumer_packets_processed_total",
			Help: "Total packets pulled off the queue by the consumer.",
		}, []string{"outcome"}),
		EntriesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_consumer_entries_persisted_total",
			Help: "Total price entries written to the store.",
		}, []string{"outcome"}),
		ConsumerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_consumer_errors_total",
			Help: "Total consumer errors by kind.",
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_cache_hits_total",
			Help: "Total cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_cache_misses_total",
			Help: "Total cache misses by cache name.",
		}, []string{"cache"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hdv_cache_evictions_total",
			Help: "Total cache evictions by cache name.",
		}, []string{"cache"}),
		CacheHitRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hdv_cache_hit_ratio",
			Help: "Current hit ratio by cache name.",
		}, []string{"cache"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hdv_processing_duration_seconds",
			Help:    "Duration of consumeOne/consumeBatch calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.PacketsReceived, m.PacketsDropped,
		m.QueueSize, m.QueueUtilisation,
		m.PacketsProcessed, m.EntriesPersisted, m.ConsumerErrors,
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheHitRatio,
		m.ProcessingDuration,
	)
	return m
}

// SetQueueSize and SetQueueUtilisation implement queue.MetricsSink,
// fed by the queue's own Monitor loop (spec §4.5/§5).
func (m *MetricsRegistry) SetQueueSize(n int)              { m.QueueSize.Set(float64(n)) }
func (m *MetricsRegistry) SetQueueUtilisation(ratio float64) { m.QueueUtilisation.Set(ratio) }

// IncPacketsProcessed, AddEntriesPersisted, IncErrors and
// ObserveDuration implement consumer.MetricsSink, mirroring the
// consumer's own atomic counters.
func (m *MetricsRegistry) IncPacketsProcessed(outcome string) {
	m.PacketsProcessed.WithLabelValues(outcome).Inc()
}
func (m *MetricsRegistry) AddEntriesPersisted(n int) {
	m.EntriesPersisted.WithLabelValues("ok").Add(float64(n))
}
func (m *MetricsRegistry) IncErrors(kind string) { m.ConsumerErrors.WithLabelValues(kind).Inc() }
func (m *MetricsRegistry) ObserveDuration(op string, seconds float64) {
	m.ProcessingDuration.WithLabelValues(op).Observe(seconds)
}

// IncHits, IncMisses, IncEvictions and SetHitRatio implement
// cache.MetricsSink, one series per named cache.
func (m *MetricsRegistry) IncHits(cache string)      { m.CacheHits.WithLabelValues(cache).Inc() }
func (m *MetricsRegistry) IncMisses(cache string)    { m.CacheMisses.WithLabelValues(cache).Inc() }
func (m *MetricsRegistry) IncEvictions(cache string) { m.CacheEvictions.WithLabelValues(cache).Inc() }
func (m *MetricsRegistry) SetHitRatio(cache string, ratio float64) {
	m.CacheHitRatio.WithLabelValues(cache).Set(ratio)
}

// CaptureCounters implements capture.Metrics with atomic counters the
// health reporter can snapshot, and forwards into the Prometheus
// registry at the same time.
type CaptureCounters struct {
	registry *MetricsRegistry
	received int64
	dropped  int64
}

// NewCaptureCounters builds a capture.Metrics implementation backed by
// atomics and wired into reg.
func NewCaptureCounters(reg *MetricsRegistry) *CaptureCounters {
	return &CaptureCounters{registry: reg}
}

func (c *CaptureCounters) IncPacketsReceived() {
	atomic.AddInt64(&c.received, 1)
	c.registry.PacketsReceived.Inc()
}

func (c *CaptureCounters) IncPacketsDropped() {
	atomic.AddInt64(&c.dropped, 1)
	c.registry.PacketsDropped.Inc()
}

// Snapshot returns the current received/dropped totals.
func (c *CaptureCounters) Snapshot() (received, dropped int64) {
	return atomic.LoadInt64(&c.received), atomic.LoadInt64(&c.dropped)
}
