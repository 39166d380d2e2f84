package dto

// CreateJourneyRequest starts a journey for a group. Origin is the creator's
// current device location and is required.
type CreateJourneyRequest struct {
	GroupID     int64        `json:"group_id"`
	JourneyType string       `json:"journey_type"` // INDIVIDUAL | COMMON_DESTINATION | PERSONALIZED
	Origin      *LocationFix `json:"origin"`
	Destination *LocationFix `json:"destination,omitempty"`
}

// TransitionJourneyRequest moves a journey to State
type TransitionJourneyRequest struct {
	State string `json:"state"` // IN_PROGRESS | COMPLETED
}

// JoinJourneyRequest registers the caller in a journey
type JoinJourneyRequest struct {
	Location    *LocationFix `json:"location"`
	Destination *LocationFix `json:"destination,omitempty"`
}

// SharingRequest toggles location sharing of a participation
type SharingRequest struct {
	Shared bool `json:"shared"`
}

type JourneyResponse struct {
	ID          int64  `json:"id"`
	GroupID     int64  `json:"group_id"`
	CreatorID   int64  `json:"creator_id"`
	JourneyType string `json:"journey_type"`
	State       string `json:"state"`
	IniDate     string `json:"ini_date"`
	EndDate     string `json:"end_date,omitempty"`
}

type ParticipationResponse struct {
	ID             int64  `json:"id"`
	JourneyID      int64  `json:"journey_id"`
	UserID         int64  `json:"user_id"`
	State          string `json:"state"`
	SourceID       int64  `json:"source_id"`
	DestinationID  *int64 `json:"destination_id,omitempty"`
	SharedLocation bool   `json:"shared_location"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// CreateJourneyResponse envelope
type CreateJourneyResponse struct {
	Journey       JourneyResponse       `json:"journey"`
	Participation ParticipationResponse `json:"participation"`
}

type JourneyListResponse struct {
	Journeys []JourneyResponse `json:"journeys"`
}

type ParticipationListResponse struct {
	Participations []ParticipationResponse `json:"participations"`
}
