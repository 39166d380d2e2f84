package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

// Participations manages per-user join records of a journey.
type Participations struct {
	store  repository.Store
	mirror Projector
	notify *Notifications
	log    zerolog.Logger
}

func NewParticipations(store repository.Store, p Projector, notify *Notifications) *Participations {
	return &Participations{
		store:  store,
		mirror: p,
		notify: notify,
		log:    logging.For("participations"),
	}
}

// JoinInput registers UserID in JourneyID. Fix is the device's current location.
type JoinInput struct {
	JourneyID   int64
	UserID      int64
	Fix         *models.DeviceFix
	Destination *models.DeviceFix
}

// Join creates the user's participation, or returns the existing one if the
// user already joined. A nil Fix fails with ErrLocationUnavailable.
func (s *Participations) Join(ctx context.Context, in JoinInput) (*models.Participation, error) {
	if in.UserID <= 0 {
		return nil, invalid("user_id is required")
	}
	if in.Fix == nil {
		return nil, ErrLocationUnavailable
	}
	if err := validateCoordinates(in.Fix.Latitude, in.Fix.Longitude); err != nil {
		return nil, err
	}

	j, err := s.store.GetJourney(ctx, in.JourneyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	if !j.State.Active() {
		return nil, ErrJourneyClosed
	}

	if existing, err := s.store.FindParticipation(ctx, j.ID, in.UserID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find participation: %w", err)
	}

	p := &models.Participation{
		JourneyID:      j.ID,
		UserID:         in.UserID,
		State:          models.ParticipationPending,
		SharedLocation: true,
	}
	if in.UserID == j.CreatorID {
		p.State = models.ParticipationAccepted
	}

	err = s.store.InTx(ctx, func(q repository.Queries) error {
		origin, err := createLocation(ctx, q, in.Fix)
		if err != nil {
			return err
		}
		p.SourceID = origin.ID

		switch {
		case in.Destination != nil:
			dest, err := createLocation(ctx, q, in.Destination)
			if err != nil {
				return err
			}
			p.DestinationID = &dest.ID
		case j.Type == models.JourneyCommonDestination:
			creator, err := q.FindParticipation(ctx, j.ID, j.CreatorID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if creator != nil {
				p.DestinationID = creator.DestinationID
			}
		}

		inserted, err := q.InsertParticipation(ctx, p)
		if err != nil {
			return fmt.Errorf("insert participation: %w", err)
		}
		if !inserted {
			// roll back the locations created above
			return ErrDuplicateParticipation
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateParticipation) {
		existing, ferr := s.store.FindParticipation(ctx, j.ID, in.UserID)
		if ferr != nil {
			return nil, fmt.Errorf("find participation: %w", ferr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64(logging.JOURNEY, j.ID).
		Int64(logging.USER, in.UserID).
		Str("state", string(p.State)).
		Msg("participation created")

	project(ctx, s.mirror, s.log, mirror.PutOp(mirror.ParticipationPath(j.GroupID, j.ID, p.UserID), p))
	if in.UserID != j.CreatorID {
		s.notify.Notify(ctx, j.CreatorID, models.NotifyParticipantJoined,
			"New participant", "", map[string]any{"journey_id": j.ID, "user_id": in.UserID, "participation_id": p.ID})
	}
	return p, nil
}

// SetAccepted moves a PENDING participation to ACCEPTED. Only the participant may answer.
// Answering a participation that is already ACCEPTED or DECLINED changes nothing.
func (s *Participations) SetAccepted(ctx context.Context, participationID, actorID int64) (*models.Participation, error) {
	return s.answer(ctx, participationID, actorID, models.ParticipationAccepted)
}

// SetDeclined moves a PENDING participation to DECLINED, with the same rules as SetAccepted.
func (s *Participations) SetDeclined(ctx context.Context, participationID, actorID int64) (*models.Participation, error) {
	return s.answer(ctx, participationID, actorID, models.ParticipationDeclined)
}

func (s *Participations) answer(ctx context.Context, participationID, actorID int64, to models.ParticipationState) (*models.Participation, error) {
	p, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return nil, notFound(err, "participation")
	}
	if p.UserID != actorID {
		return nil, ErrForbidden
	}
	if p.State.Terminal() {
		return p, nil
	}

	moved, err := s.store.UpdateParticipationState(ctx, p.ID, models.ParticipationPending, to)
	if err != nil {
		return nil, fmt.Errorf("update participation state: %w", err)
	}
	if !moved {
		// a concurrent answer won; report what it left
		return s.reload(ctx, p.ID)
	}
	p.State = to

	j, err := s.store.GetJourney(ctx, p.JourneyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	if j.State.Active() {
		project(ctx, s.mirror, s.log, mirror.PutOp(mirror.ParticipationPath(j.GroupID, j.ID, p.UserID), p))
	}
	s.notify.Notify(ctx, j.CreatorID, models.NotifyParticipationDone,
		"Participation "+strings.ToLower(string(to)), "",
		map[string]any{"journey_id": j.ID, "user_id": p.UserID, "state": string(to)})
	return p, nil
}

// SetSharing toggles whether the participant's live position is shared.
func (s *Participations) SetSharing(ctx context.Context, participationID, actorID int64, shared bool) (*models.Participation, error) {
	p, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return nil, notFound(err, "participation")
	}
	if p.UserID != actorID {
		return nil, ErrForbidden
	}
	if p.SharedLocation == shared {
		return p, nil
	}
	if _, err := s.store.SetParticipationSharing(ctx, p.ID, shared); err != nil {
		return nil, fmt.Errorf("set sharing: %w", err)
	}
	p, err = s.reload(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	j, err := s.store.GetJourney(ctx, p.JourneyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	if j.State.Active() {
		project(ctx, s.mirror, s.log, mirror.PutOp(mirror.ParticipationPath(j.GroupID, j.ID, p.UserID), p))
	}
	return p, nil
}

func (s *Participations) Get(ctx context.Context, participationID int64) (*models.Participation, error) {
	p, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return nil, notFound(err, "participation")
	}
	return p, nil
}

func (s *Participations) reload(ctx context.Context, id int64) (*models.Participation, error) {
	p, err := s.store.GetParticipation(ctx, id)
	if err != nil {
		return nil, notFound(err, "participation")
	}
	return p, nil
}
