package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrainer struct {
	persisted int
	err       error
}

func (d fakeDrainer) RequestDrain(ctx context.Context) (int, error) { return d.persisted, d.err }

func TestHealthzReturns200WhenUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUp, report.Status)
}

func TestHealthzReturns503WhenDown(t *testing.T) {
	reg := prometheus.NewRegistry()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 96, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsRegistry(reg)
	m.PacketsReceived.Inc()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hdv_packets_received_total")
}

func TestDrainReturnsNotImplementedWithoutDrainer(t *testing.T) {
	reg := prometheus.NewRegistry()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/drain", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDrainReturnsPersistedCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, fakeDrainer{persisted: 7})

	req := httptest.NewRequest(http.MethodPost, "/drain", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp drainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Persisted)
	assert.Empty(t, resp.Error)
}

func TestDrainReturnsErrorAsInternalServerError(t *testing.T) {
	reg := prometheus.NewRegistry()
	reporter := NewReporter(false, nil, nil, fakeQueue{size: 0, capacity: 100}, nil, nil)
	s := NewServer("127.0.0.1:0", reporter, reg, fakeDrainer{persisted: 2, err: errors.New("breaker open")})

	req := httptest.NewRequest(http.MethodPost, "/drain", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp drainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Persisted)
	assert.Equal(t, "breaker open", resp.Error)
}
