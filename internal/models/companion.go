package models

import (
	"time"
)

// CompanionState is the lifecycle state of a CompanionRequest
type CompanionState string

const (
	CompanionCreated    CompanionState = "CREATED"
	CompanionPending    CompanionState = "PENDING"
	CompanionMatched    CompanionState = "MATCHED"
	CompanionInProgress CompanionState = "IN_PROGRESS"
	CompanionFinished   CompanionState = "FINISHED"
	CompanionExpired    CompanionState = "EXPIRED"
	CompanionCancelled  CompanionState = "CANCELLED"
)

// Open reports whether the request is still discoverable by prospective companions.
func (s CompanionState) Open() bool {
	return s == CompanionCreated || s == CompanionPending
}

// Terminal reports whether the request is closed for good.
func (s CompanionState) Terminal() bool {
	return s == CompanionFinished || s == CompanionExpired || s == CompanionCancelled
}

// CompanionRequest asks for an ad-hoc travel companion.
type CompanionRequest struct {
	ID               int64          `json:"id" db:"id"`
	CreatorID        int64          `json:"creator_id" db:"creator_id"`
	CompanionID      *int64         `json:"companion_id,omitempty" db:"companion_id"`
	SourceID         int64          `json:"source_id" db:"source_id"`
	DestinationID    int64          `json:"destination_id" db:"destination_id"`
	Description      *string        `json:"description,omitempty" db:"description"`
	AproxHour        *string        `json:"aprox_hour,omitempty" db:"aprox_hour"`
	CompanionMessage *string        `json:"companion_message,omitempty" db:"companion_message"`
	CompanionGroupID *int64         `json:"companion_group_id,omitempty" db:"companion_group_id"`
	State            CompanionState `json:"state" db:"state"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// MatchKind discriminates the companion slot of a request.
type MatchKind int

const (
	Unmatched MatchKind = iota
	AwaitingDecision
	Matched
)

func (k MatchKind) String() string {
	switch k {
	case AwaitingDecision:
		return "awaiting_decision"
	case Matched:
		return "matched"
	default:
		return "unmatched"
	}
}

// Match is the companion slot as a tagged variant: nobody, a provisional
// applicant the creator has not decided on, or the accepted companion.
type Match struct {
	Kind   MatchKind
	UserID int64
}

// Match derives the companion slot from state and companion id.
func (r *CompanionRequest) Match() Match {
	if r.CompanionID == nil {
		return Match{Kind: Unmatched}
	}
	switch r.State {
	case CompanionPending:
		return Match{Kind: AwaitingDecision, UserID: *r.CompanionID}
	case CompanionCreated:
		return Match{Kind: Unmatched}
	default:
		return Match{Kind: Matched, UserID: *r.CompanionID}
	}
}
