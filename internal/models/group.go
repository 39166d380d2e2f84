package models

import "time"

// Group is the backend record created when a companion is accepted.
type Group struct {
	ID                 int64     `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	CompanionRequestID *int64    `json:"companion_request_id,omitempty" db:"companion_request_id"`
	Members            []int64   `json:"members"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}
