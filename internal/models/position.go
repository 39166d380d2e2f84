package models

import "time"

// Position is one device sample appended to a journey's live feed.
// Seq is the per-user append sequence assigned by the mirror.
type Position struct {
	UserID    int64     `json:"user_id" cbor:"user_id"`
	Latitude  float64   `json:"latitude" cbor:"lat"`
	Longitude float64   `json:"longitude" cbor:"lon"`
	Timestamp time.Time `json:"timestamp" cbor:"ts"`
	Seq       uint64    `json:"seq" cbor:"-"`
}
