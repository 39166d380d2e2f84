package dto

// CreateCompanionRequest publishes a companion request between two stored locations
type CreateCompanionRequest struct {
	SourceID      int64   `json:"source_id"`
	DestinationID int64   `json:"destination_id"`
	Description   *string `json:"description,omitempty"`
	AproxHour     *string `json:"aprox_hour,omitempty"`
}

// ApplyCompanionRequest carries the applicant's optional message
type ApplyCompanionRequest struct {
	Message string `json:"message"`
}

// CompanionMatch reports who, if anyone, is matched to a request
type CompanionMatch struct {
	Kind   string `json:"kind"` // unmatched | awaiting_decision | matched
	UserID int64  `json:"user_id,omitempty"`
}

type CompanionResponse struct {
	ID               int64          `json:"id"`
	CreatorID        int64          `json:"creator_id"`
	CompanionID      *int64         `json:"companion_id,omitempty"`
	SourceID         int64          `json:"source_id"`
	DestinationID    int64          `json:"destination_id"`
	Description      *string        `json:"description,omitempty"`
	AproxHour        *string        `json:"aprox_hour,omitempty"`
	CompanionMessage *string        `json:"companion_message,omitempty"`
	CompanionGroupID *int64         `json:"companion_group_id,omitempty"`
	State            string         `json:"state"`
	Match            CompanionMatch `json:"match"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

type CompanionListResponse struct {
	Requests []CompanionResponse `json:"requests"`
}
