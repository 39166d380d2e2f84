package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ProvisioningPendingResponse is returned with 202 when a companion was
// accepted and its group created, but the group chat still has to be set up
type ProvisioningPendingResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID int64  `json:"request_id"`
	GroupID   int64  `json:"group_id"`
}

// LocationFix is a device position supplied by the client
type LocationFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      *string `json:"name,omitempty"`
}
