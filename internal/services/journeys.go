package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/metrics"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

// Journeys coordinates the journey lifecycle in the backend and its mirror.
type Journeys struct {
	store  repository.Store
	mirror Projector
	closed ClosedPublisher
	log    zerolog.Logger
	now    func() time.Time
}

func NewJourneys(store repository.Store, p Projector) *Journeys {
	return &Journeys{
		store:  store,
		mirror: p,
		log:    logging.For("journeys"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AnnounceClosures makes completions visible to position streams on other instances.
func (s *Journeys) AnnounceClosures(c ClosedPublisher) {
	s.closed = c
}

// CreateJourneyInput starts a journey for GroupID. Origin is the creator's
// device fix; Destination is optional.
type CreateJourneyInput struct {
	GroupID     int64
	CreatorID   int64
	Type        models.JourneyType
	Origin      *models.DeviceFix
	Destination *models.DeviceFix
}

// CreatedJourney is the journey plus the creator's participation.
type CreatedJourney struct {
	Journey       models.Journey
	Participation models.Participation
}

// CreateJourney fails with ErrActiveJourneyExists if the group already has a
// PENDING or IN_PROGRESS journey. The journey, its locations and the creator's
// ACCEPTED participation are written in one transaction.
func (s *Journeys) CreateJourney(ctx context.Context, in CreateJourneyInput) (*CreatedJourney, error) {
	if in.GroupID <= 0 || in.CreatorID <= 0 {
		return nil, invalid("group_id and creator_id are required")
	}
	typ, err := models.ParseJourneyType(string(in.Type))
	if err != nil {
		return nil, invalid("%v", err)
	}
	if in.Origin == nil {
		return nil, ErrLocationUnavailable
	}

	// fast path only; the partial unique index is the real guard
	if active, err := s.store.GetActiveJourney(ctx, in.GroupID); err == nil && active != nil {
		return nil, ErrActiveJourneyExists
	}

	out := &CreatedJourney{}
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		origin, err := createLocation(ctx, q, in.Origin)
		if err != nil {
			return err
		}
		var destID *int64
		if in.Destination != nil {
			dest, err := createLocation(ctx, q, in.Destination)
			if err != nil {
				return err
			}
			destID = &dest.ID
		}

		out.Journey = models.Journey{
			GroupID:   in.GroupID,
			CreatorID: in.CreatorID,
			Type:      typ,
			State:     typ.InitialState(),
			IniDate:   s.now(),
		}
		inserted, err := q.InsertJourney(ctx, &out.Journey)
		if err != nil {
			return fmt.Errorf("insert journey: %w", err)
		}
		if !inserted {
			return ErrActiveJourneyExists
		}

		out.Participation = models.Participation{
			JourneyID:      out.Journey.ID,
			UserID:         in.CreatorID,
			State:          models.ParticipationAccepted,
			SourceID:       origin.ID,
			DestinationID:  destID,
			SharedLocation: true,
		}
		if _, err := q.InsertParticipation(ctx, &out.Participation); err != nil {
			return fmt.Errorf("insert creator participation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JourneyTransitions.WithLabelValues(string(out.Journey.State)).Inc()
	s.log.Info().
		Int64(logging.JOURNEY, out.Journey.ID).
		Int64(logging.GROUP, out.Journey.GroupID).
		Str("type", string(out.Journey.Type)).
		Str("state", string(out.Journey.State)).
		Msg("journey created")

	project(ctx, s.mirror, s.log,
		mirror.PutOp(mirror.JourneyPath(out.Journey.GroupID, out.Journey.ID), out.Journey),
		mirror.PutOp(mirror.ParticipationPath(out.Journey.GroupID, out.Journey.ID, in.CreatorID), out.Participation),
	)
	return out, nil
}

// TransitionState moves a journey to target. Legal moves are PENDING->IN_PROGRESS
// and IN_PROGRESS->COMPLETED. Requesting the current state is a no-op.
// Completing seals the journey's mirror subtree, positions included, and sets EndDate.
func (s *Journeys) TransitionState(ctx context.Context, journeyID int64, target models.JourneyState) (*models.Journey, error) {
	target, err := models.ParseJourneyState(string(target))
	if err != nil {
		return nil, invalid("%v", err)
	}
	j, err := s.store.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	if j.State == target {
		return j, nil
	}
	if !models.CanTransition(j.State, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.State, target)
	}

	var end *time.Time
	if target == models.JourneyCompleted {
		t := s.now()
		end = &t
	}
	moved, err := s.store.UpdateJourneyState(ctx, journeyID, j.State, target, end)
	if err != nil {
		return nil, fmt.Errorf("update journey state: %w", err)
	}
	if !moved {
		// someone else moved it first
		cur, err := s.store.GetJourney(ctx, journeyID)
		if err != nil {
			return nil, notFound(err, "journey")
		}
		if cur.State == target {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.State, target)
	}

	from := j.State
	j.State = target
	j.EndDate = end
	metrics.JourneyTransitions.WithLabelValues(string(target)).Inc()
	s.log.Info().
		Int64(logging.JOURNEY, j.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("journey transitioned")

	if target == models.JourneyCompleted {
		project(ctx, s.mirror, s.log, mirror.SealOp(mirror.JourneyPath(j.GroupID, j.ID)))
		if s.closed != nil {
			if err := s.closed.PublishClosed(ctx, j.ID); err != nil {
				s.log.Warn().Err(err).Int64(logging.JOURNEY, j.ID).Msg("journey closure not announced")
			}
		}
	} else {
		project(ctx, s.mirror, s.log, mirror.PutOp(mirror.JourneyPath(j.GroupID, j.ID), j))
	}
	return j, nil
}

// GetActiveJourney returns the group's PENDING or IN_PROGRESS journey, or nil if there is none.
func (s *Journeys) GetActiveJourney(ctx context.Context, groupID int64) (*models.Journey, error) {
	j, err := s.store.GetActiveJourney(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active journey: %w", err)
	}
	return j, nil
}

func (s *Journeys) GetJourney(ctx context.Context, journeyID int64) (*models.Journey, error) {
	j, err := s.store.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	return j, nil
}

// ListJourneys returns the group's journey history, newest first.
func (s *Journeys) ListJourneys(ctx context.Context, groupID int64) ([]models.Journey, error) {
	return s.store.ListJourneys(ctx, groupID)
}

func (s *Journeys) ListParticipations(ctx context.Context, journeyID int64) ([]models.Participation, error) {
	if _, err := s.GetJourney(ctx, journeyID); err != nil {
		return nil, err
	}
	return s.store.ListParticipations(ctx, journeyID)
}
