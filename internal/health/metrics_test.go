package health

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistrySinkMethodsUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsRegistry(reg)

	m.SetQueueSize(42)
	m.SetQueueUtilisation(0.7)
	m.IncPacketsProcessed("ok")
	m.AddEntriesPersisted(3)
	m.IncErrors("breaker_open")
	m.ObserveDuration("batch", 0.2)
	m.IncHits("items")
	m.IncMisses("items")
	m.IncEvictions("items")
	m.SetHitRatio("items", 0.9)

	assert.Equal(t, float64(42), testutil.ToFloat64(m.QueueSize))
	assert.Equal(t, 0.7, testutil.ToFloat64(m.QueueUtilisation))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PacketsProcessed.WithLabelValues("ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.EntriesPersisted.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConsumerErrors.WithLabelValues("breaker_open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits.WithLabelValues("items")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses.WithLabelValues("items")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheEvictions.WithLabelValues("items")))
	assert.Equal(t, 0.9, testutil.ToFloat64(m.CacheHitRatio.WithLabelValues("items")))
	assert.Equal(t, uint64(1), testutil.CollectAndCount(m.ProcessingDuration))
}
