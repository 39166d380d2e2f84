package models

import (
	"time"
)

// ParticipationState tracks whether a user confirmed their place in a journey
type ParticipationState string

const (
	ParticipationPending  ParticipationState = "PENDING"
	ParticipationAccepted ParticipationState = "ACCEPTED"
	ParticipationDeclined ParticipationState = "DECLINED"
)

// Terminal reports whether no further transitions are possible.
func (s ParticipationState) Terminal() bool {
	return s == ParticipationAccepted || s == ParticipationDeclined
}

// Participation is one user's join record within a Journey.
type Participation struct {
	ID             int64              `json:"id" db:"id"`
	JourneyID      int64              `json:"journey_id" db:"journey_id"`
	UserID         int64              `json:"user_id" db:"user_id"`
	State          ParticipationState `json:"state" db:"state"`
	SourceID       int64              `json:"source_id" db:"source_id"`
	DestinationID  *int64             `json:"destination_id,omitempty" db:"destination_id"`
	SharedLocation bool               `json:"shared_location" db:"shared_location"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}
