package dto

// LocationResponse is a stored origin or destination
type LocationResponse struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      *string `json:"name,omitempty"`
	CreatedAt string  `json:"created_at"`
}
