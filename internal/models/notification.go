package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType names the event a notification reports
type NotificationType string

const (
	NotifyCompanionApplied  NotificationType = "companion_applied"
	NotifyCompanionAccepted NotificationType = "companion_accepted"
	NotifyCompanionRejected NotificationType = "companion_rejected"
	NotifyCompanionFinished NotificationType = "companion_finished"
	NotifyParticipantJoined NotificationType = "participant_joined"
	NotifyParticipationDone NotificationType = "participation_answered"
)

// Notification is an in-app message for a single user.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    int64            `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   *string          `json:"message,omitempty" db:"message"`
	Data      map[string]any   `json:"data,omitempty" db:"data"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
