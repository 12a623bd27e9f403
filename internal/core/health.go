package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ktyurin/survcafe/internal/lifecycle"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status          string  `json:"status"` // "healthy", "degraded", "unhealthy"
	State           string  `json:"state"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	StreamConnected bool    `json:"stream_connected"`
	StreamFPS       float64 `json:"stream_fps"`
	MQTTConnected   bool    `json:"mqtt_connected,omitempty"`
	Clients         int     `json:"clients"`
}

// HealthCheck returns the current health status of the service
func (s *Server) HealthCheck() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streamStats := s.stream.Stats()

	status := HealthStatus{
		Status:          "healthy",
		State:           s.state.String(),
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		StreamConnected: streamStats.IsConnected,
		StreamFPS:       streamStats.FPSReal,
	}

	if s.state == lifecycle.Connected && s.out != nil {
		status.Clients = s.out.ClientCount()
	}

	mqttOK := true
	if s.emit != nil {
		status.MQTTConnected = s.emit.Client != nil && s.emit.Client.IsConnected()
		mqttOK = status.MQTTConnected
	}

	if !s.isRunning {
		status.Status = "unhealthy"
	} else if !status.StreamConnected || !mqttOK {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatusHandler handles /status endpoint (full status snapshot)
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.Status())
}

// MetricsHandler handles /metrics endpoint (stub for future Prometheus)
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	s.mu.RLock()
	consumed := s.framesConsumed
	encoded := s.framesEncoded
	saved := s.stillsSaved
	s.mu.RUnlock()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "# Prometheus metrics endpoint (future implementation)\n")
	fmt.Fprintf(w, "survcafe_uptime_seconds{instance=%q} %d\n",
		s.cfg.InstanceID, int64(time.Since(s.started).Seconds()))
	fmt.Fprintf(w, "survcafe_frames_consumed{instance=%q} %d\n", s.cfg.InstanceID, consumed)
	fmt.Fprintf(w, "survcafe_frames_encoded{instance=%q} %d\n", s.cfg.InstanceID, encoded)
	fmt.Fprintf(w, "survcafe_stills_saved{instance=%q} %d\n", s.cfg.InstanceID, saved)
}

// StartHealthServer starts the HTTP health check server on the given port.
// Runs in a separate goroutine and does not block.
func (s *Server) StartHealthServer(port string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/status", s.StatusHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/status", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}
