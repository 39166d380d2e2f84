package models

import (
	"fmt"
	"strings"
	"time"
)

// JourneyType describes how participants travel together
type JourneyType string

const (
	JourneyIndividual        JourneyType = "INDIVIDUAL"
	JourneyCommonDestination JourneyType = "COMMON_DESTINATION"
	JourneyPersonalized      JourneyType = "PERSONALIZED"
)

// JourneyState is the lifecycle state of a Journey
type JourneyState string

const (
	JourneyPending    JourneyState = "PENDING"
	JourneyInProgress JourneyState = "IN_PROGRESS"
	JourneyCompleted  JourneyState = "COMPLETED"
)

// Journey is a tracked travel session owned by a group.
type Journey struct {
	ID        int64        `json:"id" db:"id"`
	GroupID   int64        `json:"group_id" db:"group_id"`
	CreatorID int64        `json:"creator_id" db:"creator_id"`
	Type      JourneyType  `json:"journey_type" db:"journey_type"`
	State     JourneyState `json:"state" db:"state"`
	IniDate   time.Time    `json:"ini_date" db:"ini_date"`
	EndDate   *time.Time   `json:"end_date,omitempty" db:"end_date"`
}

// ParseJourneyType normalizes and validates a journey type.
func ParseJourneyType(s string) (JourneyType, error) {
	switch t := JourneyType(strings.ToUpper(strings.TrimSpace(s))); t {
	case JourneyIndividual, JourneyCommonDestination, JourneyPersonalized:
		return t, nil
	default:
		return "", fmt.Errorf("unknown journey type %q", s)
	}
}

// ParseJourneyState normalizes and validates a journey state.
func ParseJourneyState(s string) (JourneyState, error) {
	switch st := JourneyState(strings.ToUpper(strings.TrimSpace(s))); st {
	case JourneyPending, JourneyInProgress, JourneyCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown journey state %q", s)
	}
}

// InitialState returns the state a new journey of type t starts in.
// Individual journeys need no matchmaking and start immediately.
func (t JourneyType) InitialState() JourneyState {
	if t == JourneyIndividual {
		return JourneyInProgress
	}
	return JourneyPending
}

// Active reports whether the state counts against the one-active-journey-per-group rule.
func (s JourneyState) Active() bool {
	return s == JourneyPending || s == JourneyInProgress
}

// ActiveJourneyStates lists the non-terminal states.
var ActiveJourneyStates = []JourneyState{JourneyPending, JourneyInProgress}

// CanTransition reports whether from -> to is a legal journey transition.
func CanTransition(from, to JourneyState) bool {
	switch from {
	case JourneyPending:
		return to == JourneyInProgress
	case JourneyInProgress:
		return to == JourneyCompleted
	}
	return false
}
