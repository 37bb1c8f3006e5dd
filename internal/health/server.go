package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Drainer is the subset of the scheduler the admin /drain route needs:
// an on-demand drain outside the ticker's own cadence (spec §4.8/§5).
type Drainer interface {
	RequestDrain(ctx context.Context) (int, error)
}

// Server exposes /healthz (the status tree), /metrics (Prometheus
// exposition), and an admin POST /drain on one local listener.
type Server struct {
	router   *mux.Router
	server   *http.Server
	reporter *Reporter
	drainer  Drainer
}

// NewServer builds the health/metrics HTTP server. reg is the
// registerer NewMetricsRegistry registered against. drainer may be nil
// when the daemon has no on-demand drain to expose.
func NewServer(addr string, reporter *Reporter, reg *prometheus.Registry, drainer Drainer) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, reporter: reporter, drainer: drainer}

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/drain", s.handleDrain).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.reporter.Report()

	code := http.StatusOK
	if report.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Error().Err(err).Msg("health: failed to encode status tree")
	}
}

// drainResponse is the JSON body returned by the admin drain route.
type drainResponse struct {
	Persisted int    `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

// handleDrain runs an on-demand drain of the packet queue (spec §4.8),
// outside the scheduler's own ticker cadence, via the scheduler's
// RequestDrain.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if s.drainer == nil {
		http.Error(w, "drain not available", http.StatusNotImplemented)
		return
	}

	persisted, err := s.drainer.RequestDrain(r.Context())
	resp := drainResponse{Persisted: persisted}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = http.StatusInternalServerError
		log.Error().Err(err).Int("persisted", persisted).Msg("health: on-demand drain failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("health: failed to encode drain response")
	}
}

// Start runs the server until it errors or is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("health/metrics server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
