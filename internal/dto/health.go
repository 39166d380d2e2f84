package dto

// HealthResponse represents the response structure for health checks
type HealthResponse struct {
	Status  string `json:"status"`
	Details any    `json:"details,omitempty"`
}

// ReadinessDetails reports the dependencies checked by /readyz
type ReadinessDetails struct {
	Backend       string `json:"backend"`
	Broker        string `json:"broker,omitempty"`
	RepairBacklog int    `json:"mirror_repair_backlog"`
}
