package dto

// AppendPositionRequest records the caller's current position
type AppendPositionRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PositionResponse struct {
	UserID    int64   `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	Seq       uint64  `json:"seq"`
}

// RecentPositionsResponse maps user id to that user's latest positions, oldest first
type RecentPositionsResponse struct {
	Positions map[int64][]PositionResponse `json:"positions"`
}
