package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/hdvpipeline/internal/cache"
	"github.com/sawpanic/hdvpipeline/internal/consumer"
)

func testRegistry(t *testing.T) *MetricsRegistry {
	t.Helper()
	return NewMetricsRegistry(prometheus.NewRegistry())
}

type fakeCapture struct {
	running bool
	iface   string
}

func (f fakeCapture) IsRunning() bool       { return f.running }
func (f fakeCapture) InterfaceName() string { return f.iface }

type fakeQueue struct {
	size, capacity int
}

func (f fakeQueue) Size() int            { return f.size }
func (f fakeQueue) Capacity() int        { return f.capacity }
func (f fakeQueue) Utilisation() float64 { return float64(f.size) / float64(f.capacity) }

type fakeConsumer struct {
	metrics *consumer.Metrics
	state   gobreaker.State
}

func (f fakeConsumer) Metrics() *consumer.Metrics { return f.metrics }
func (f fakeConsumer) State() gobreaker.State     { return f.state }

func TestReportAllUpWhenHealthy(t *testing.T) {
	r := NewReporter(true, fakeCapture{running: true, iface: "eth0"}, NewCaptureCounters(testRegistry(t)),
		fakeQueue{size: 1, capacity: 100}, fakeConsumer{metrics: &consumer.Metrics{}, state: gobreaker.StateClosed}, nil)

	report := r.Report()
	assert.Equal(t, StatusUp, report.Status)
	assert.True(t, report.Capture.Running)
	assert.Equal(t, "eth0", report.Capture.Interface)
}

func TestReportDownWhenCaptureEnabledButNotRunning(t *testing.T) {
	r := NewReporter(true, fakeCapture{running: false}, NewCaptureCounters(testRegistry(t)),
		fakeQueue{size: 0, capacity: 100}, fakeConsumer{metrics: &consumer.Metrics{}, state: gobreaker.StateClosed}, nil)

	report := r.Report()
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Capture.Status)
}

func TestReportQueueThresholds(t *testing.T) {
	warn := NewReporter(false, nil, nil, fakeQueue{size: 85, capacity: 100}, nil, nil)
	assert.Equal(t, StatusWarning, warn.Report().Queue.Status)

	down := NewReporter(false, nil, nil, fakeQueue{size: 96, capacity: 100}, nil, nil)
	assert.Equal(t, StatusDown, down.Report().Queue.Status)
	assert.Equal(t, StatusDown, down.Report().Status)
}

func TestReportConsumerWarnsWhenBreakerOpen(t *testing.T) {
	r := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100},
		fakeConsumer{metrics: &consumer.Metrics{}, state: gobreaker.StateOpen}, nil)

	cs := r.Report().Consumer
	assert.Equal(t, StatusWarning, cs.Status)
	assert.Equal(t, "open", cs.CircuitState)
}

func TestReportCacheWarnsOnLowHitRateAfterMinRequests(t *testing.T) {
	c := cache.New("items", cache.Config{TTL: time.Hour, MaxSize: 10, RecordStats: true})
	for i := 0; i < 95; i++ {
		c.Get("missing-key")
	}
	// a handful of hits keeps the ratio well under 0.5 with >=100 requests
	c.Set("k", 1)
	for i := 0; i < 5; i++ {
		c.Get("k")
	}

	r := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, map[string]*cache.TTLCache{"items": c})
	report := r.Report()
	assert.Len(t, report.Caches, 1)
	assert.Equal(t, StatusWarning, report.Caches[0].Status)
	assert.Equal(t, StatusWarning, report.Status)
}

func TestReportCacheStaysUpBelowMinRequestVolume(t *testing.T) {
	c := cache.New("items", cache.Config{TTL: time.Hour, MaxSize: 10, RecordStats: true})
	c.Get("missing") // one miss, far below the 100-request floor

	r := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, map[string]*cache.TTLCache{"items": c})
	assert.Equal(t, StatusUp, r.Report().Caches[0].Status)
}
