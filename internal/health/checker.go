package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-server/internal/monitor"
)

// Connectable reports broker connectivity.
type Connectable interface {
	IsConnected() bool
}

// Runnable reports whether a component's loop is active.
type Runnable interface {
	Running() bool
}

// Checker provides health check endpoints
type Checker struct {
	publisher    Connectable
	subscription Runnable
	logger       zerolog.Logger
}

// NewChecker creates a new health checker
func NewChecker(publisher Connectable, subscription Runnable, logger zerolog.Logger) *Checker {
	return &Checker{
		publisher:    publisher,
		subscription: subscription,
		logger:       logger.With().Str("component", "health-checker").Logger(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	LiveItems  int64             `json:"live_monitored_items"`
	Components map[string]string `json:"components"`
}

// HealthHandler returns the overall health status
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	mqttStatus := "healthy"
	if !c.publisher.IsConnected() {
		mqttStatus = "unhealthy"
	}

	subStatus := "healthy"
	if !c.subscription.Running() {
		subStatus = "unhealthy"
	}

	overallStatus := "healthy"
	if mqttStatus != "healthy" || subStatus != "healthy" {
		overallStatus = "degraded"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		LiveItems: monitor.LiveItems(),
		Components: map[string]string{
			"mqtt":         mqttStatus,
			"subscription": subStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")

	if overallStatus != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

// LiveHandler returns 200 if the process is running
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler returns 200 if the service is ready to accept traffic
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ready := c.publisher.IsConnected() && c.subscription.Running()

	w.Header().Set("Content-Type", "application/json")

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "not_ready",
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"mqtt":         c.publisher.IsConnected(),
			"subscription": c.subscription.Running(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
