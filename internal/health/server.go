package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flashgate/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the monitor and the Prometheus registry over HTTP
type Server struct {
	listen  string
	monitor core.IHealthMonitor
	logger  core.ILogger
	srv     *http.Server
}

// NewServer creates the operational endpoint server on listen, e.g. ":9095"
func NewServer(listen string, monitor core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		listen:  listen,
		monitor: monitor,
		logger:  logger.WithField("component", "health_server"),
	}
}

// Start serves in the background until Stop
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.srv = &http.Server{
		Addr:              s.listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting operational endpoints", "listen", s.listen)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Operational endpoint server failed", "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.monitor.GetStatus()
	code := http.StatusOK
	if !s.monitor.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping operational endpoints")
	return s.srv.Shutdown(ctx)
}
