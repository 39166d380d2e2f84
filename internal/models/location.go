package models

import (
	"time"
)

// Location is an immutable coordinate record used as an origin or destination.
// A "moved" location is always a new row.
type Location struct {
	ID        int64     `json:"id" db:"id"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
	Name      *string   `json:"name,omitempty" db:"name"`
}

// DeviceFix is a single position reading reported by a client device.
type DeviceFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      *string `json:"name,omitempty"`
}
