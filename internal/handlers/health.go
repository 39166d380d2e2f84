package handlers

import (
	"context"
	"net/http"
	"time"

	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/utils"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backlog reports how many mirror writes wait for repair
type Backlog interface {
	Pending() int
}

// BrokerStatus reports the health of the optional message broker
type BrokerStatus interface {
	Healthy() bool
}

// HealthHandler handles health check related requests
type HealthHandler struct {
	backend Pinger
	backlog Backlog
	broker  BrokerStatus
}

// NewHealthHandler creates a new HealthHandler instance. broker may be nil.
func NewHealthHandler(backend Pinger, backlog Backlog, broker BrokerStatus) *HealthHandler {
	return &HealthHandler{backend: backend, backlog: backlog, broker: broker}
}

// HealthCheck handles basic health check (no dependencies)
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// LivenessCheck handles process liveness check
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /livez [get]
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, dto.HealthResponse{Status: "alive"})
}

// ReadinessCheck handles readiness check (backend connectivity, broker, repair backlog)
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Failure 503 {object} dto.HealthResponse
// @Router /readyz [get]
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	details := dto.ReadinessDetails{Backend: "ok"}
	if h.backlog != nil {
		details.RepairBacklog = h.backlog.Pending()
	}
	status, code := "ready", http.StatusOK

	if err := h.backend.Ping(ctx); err != nil {
		details.Backend = err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if h.broker != nil {
		details.Broker = "ok"
		if !h.broker.Healthy() {
			// positions still flow through the local mirror
			details.Broker = "disconnected"
			if code == http.StatusOK {
				status = "degraded"
			}
		}
	}

	utils.WriteJSONResponse(w, code, dto.HealthResponse{Status: status, Details: details})
}
