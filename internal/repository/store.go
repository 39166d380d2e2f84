// Package repository is the relational backend: the authoritative record of
// locations, journeys, participations, companion requests, groups and
// notifications.
//
// Every state change is a conditional write. Methods that move state return
// (false, nil) when the row was not in the expected state, so the caller can
// tell a lost race from a database failure.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"GOSAFE_BACK-END/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store is a backend connection that can also open transactions.
type Store interface {
	Queries

	// InTx runs fn inside one transaction. A non-nil error from fn rolls
	// the transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(q Queries) error) error

	Ping(ctx context.Context) error
	Close()
}

// Queries is the set of backend operations, usable inside or outside a transaction.
type Queries interface {
	InsertLocation(ctx context.Context, loc *models.Location) error
	GetLocation(ctx context.Context, id int64) (*models.Location, error)

	// InsertJourney returns false if the group already has an active journey.
	InsertJourney(ctx context.Context, j *models.Journey) (bool, error)
	GetJourney(ctx context.Context, id int64) (*models.Journey, error)
	GetActiveJourney(ctx context.Context, groupID int64) (*models.Journey, error)
	ListJourneys(ctx context.Context, groupID int64) ([]models.Journey, error)
	UpdateJourneyState(ctx context.Context, id int64, from, to models.JourneyState, endDate *time.Time) (bool, error)

	// InsertParticipation returns false if (journey, user) already has a row.
	InsertParticipation(ctx context.Context, p *models.Participation) (bool, error)
	GetParticipation(ctx context.Context, id int64) (*models.Participation, error)
	FindParticipation(ctx context.Context, journeyID, userID int64) (*models.Participation, error)
	ListParticipations(ctx context.Context, journeyID int64) ([]models.Participation, error)
	UpdateParticipationState(ctx context.Context, id int64, from, to models.ParticipationState) (bool, error)
	SetParticipationSharing(ctx context.Context, id int64, shared bool) (bool, error)

	InsertCompanionRequest(ctx context.Context, r *models.CompanionRequest) error
	GetCompanionRequest(ctx context.Context, id int64) (*models.CompanionRequest, error)
	ListCompanionRequests(ctx context.Context, f CompanionFilter) ([]models.CompanionRequest, error)
	// ApplyCompanion stores the applicant and moves CREATED|PENDING -> PENDING.
	ApplyCompanion(ctx context.Context, id, applicantID int64, message *string) (bool, error)
	// ClearCompanion drops the applicant and moves PENDING -> CREATED.
	ClearCompanion(ctx context.Context, id int64) (bool, error)
	// MatchCompanion moves PENDING -> MATCHED if companionID is still the applicant.
	MatchCompanion(ctx context.Context, id, companionID int64) (bool, error)
	// SetCompanionGroup stores the group id and moves MATCHED -> IN_PROGRESS.
	SetCompanionGroup(ctx context.Context, id, groupID int64) (bool, error)
	UpdateCompanionState(ctx context.Context, id int64, from []models.CompanionState, to models.CompanionState) (bool, error)

	InsertGroup(ctx context.Context, g *models.Group) error
	FindGroupByRequest(ctx context.Context, requestID int64) (*models.Group, error)

	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID int64, f NotificationFilter) (NotificationPage, error)
	MarkNotificationRead(ctx context.Context, userID int64, id uuid.UUID) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
}

// CompanionFilter narrows ListCompanionRequests. Zero fields do not filter.
type CompanionFilter struct {
	States        []models.CompanionState
	CreatorID     int64
	CreatedBefore time.Time
	Limit         int
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	UnreadOnly bool
	Type       string
	Limit      int
	Offset     int
}

// NotificationPage is one page of notifications plus counters for the user.
type NotificationPage struct {
	Items  []models.Notification
	Total  int
	Unread int
}

func stateStrings[S ~string](states []S) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
