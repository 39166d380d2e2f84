package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/metrics"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

var activeCompanionStates = []models.CompanionState{models.CompanionCreated, models.CompanionPending}

// Companions is the companion request matchmaker.
type Companions struct {
	store  repository.Store
	prov   Provisioner
	notify *Notifications
	log    zerolog.Logger

	// per-request accept lock; the conditional write is the real guard
	mu      sync.Mutex
	accepts map[int64]*refMutex
}

func NewCompanions(store repository.Store, prov Provisioner, notify *Notifications) *Companions {
	return &Companions{
		store:   store,
		prov:    prov,
		notify:  notify,
		log:     logging.For("companions"),
		accepts: make(map[int64]*refMutex),
	}
}

// CreateCompanionInput publishes a request. Source and destination are existing location ids.
type CreateCompanionInput struct {
	CreatorID     int64
	SourceID      int64
	DestinationID int64
	Description   *string
	AproxHour     *string
}

func (s *Companions) Create(ctx context.Context, in CreateCompanionInput) (*models.CompanionRequest, error) {
	if in.CreatorID <= 0 {
		return nil, invalid("creator_id is required")
	}
	for _, locID := range []int64{in.SourceID, in.DestinationID} {
		if _, err := s.store.GetLocation(ctx, locID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, invalid("location %d does not exist", locID)
			}
			return nil, fmt.Errorf("get location: %w", err)
		}
	}
	r := &models.CompanionRequest{
		CreatorID:     in.CreatorID,
		SourceID:      in.SourceID,
		DestinationID: in.DestinationID,
		Description:   trimmed(in.Description),
		AproxHour:     trimmed(in.AproxHour),
		State:         models.CompanionCreated,
	}
	if err := s.store.InsertCompanionRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("insert companion request: %w", err)
	}
	metrics.CompanionTransitions.WithLabelValues(string(r.State)).Inc()
	s.log.Info().Int64(logging.COMPANION, r.ID).Int64(logging.USER, r.CreatorID).Msg("companion request created")
	return r, nil
}

func (s *Companions) Get(ctx context.Context, id int64) (*models.CompanionRequest, error) {
	r, err := s.store.GetCompanionRequest(ctx, id)
	if err != nil {
		return nil, notFound(err, "companion request")
	}
	return r, nil
}

// ListActive returns the requests open for discovery, newest first.
func (s *Companions) ListActive(ctx context.Context) ([]models.CompanionRequest, error) {
	return s.store.ListCompanionRequests(ctx, repository.CompanionFilter{States: activeCompanionStates})
}

// ListByCreator returns every request of userID, whatever its state.
func (s *Companions) ListByCreator(ctx context.Context, userID int64) ([]models.CompanionRequest, error) {
	return s.store.ListCompanionRequests(ctx, repository.CompanionFilter{CreatorID: userID})
}

// Apply makes applicantID the provisional companion. A later applicant
// replaces an earlier one while the creator has not decided.
func (s *Companions) Apply(ctx context.Context, id, applicantID int64, message string) (*models.CompanionRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID == applicantID {
		return nil, ErrSelfApply
	}
	if err := applyRefusal(r); err != nil {
		return nil, err
	}

	ok, err := s.store.ApplyCompanion(ctx, id, applicantID, trimmed(&message))
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	if r, err = s.Get(ctx, id); err != nil {
		return nil, err
	}
	if !ok {
		if err := applyRefusal(r); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}

	metrics.CompanionTransitions.WithLabelValues(string(models.CompanionPending)).Inc()
	s.log.Info().Int64(logging.COMPANION, id).Int64(logging.USER, applicantID).Msg("companion applied")
	s.notify.Notify(ctx, r.CreatorID, models.NotifyCompanionApplied, "Someone wants to travel with you", message,
		map[string]any{"request_id": id, "applicant_id": applicantID})
	return r, nil
}

func applyRefusal(r *models.CompanionRequest) error {
	switch {
	case r.State == models.CompanionMatched || r.State == models.CompanionInProgress:
		return ErrAlreadyMatched
	case r.State.Terminal():
		return ErrRequestClosed
	}
	return nil
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (s *Companions) acceptLock(id int64) func() {
	s.mu.Lock()
	l, ok := s.accepts[id]
	if !ok {
		l = &refMutex{}
		s.accepts[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.accepts, id)
		}
		s.mu.Unlock()
	}
}

// Accept matches the pending applicant and provisions the group and its chat.
//
// A failed group step rolls the request back to PENDING and returns
// ErrProvisioningFailed. A failed chat step leaves the request MATCHED and
// returns a *ChatPendingError; RepairChat finishes the chain.
func (s *Companions) Accept(ctx context.Context, id, actorID int64) (*models.CompanionRequest, error) {
	unlock := s.acceptLock(id)
	defer unlock()

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != actorID {
		return nil, ErrNotCreator
	}
	if r.State != models.CompanionPending || r.CompanionID == nil {
		return nil, ErrNotPending
	}

	// the applicant seen above must still be the one matched
	matched, err := s.store.MatchCompanion(ctx, id, *r.CompanionID)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	if !matched {
		return nil, ErrNotPending
	}
	if r, err = s.Get(ctx, id); err != nil {
		return nil, err
	}
	metrics.CompanionTransitions.WithLabelValues(string(models.CompanionMatched)).Inc()

	spec := groupSpecFor(r)
	groupID, err := s.prov.CreateGroup(ctx, spec)
	if err != nil {
		metrics.ProvisioningFailures.WithLabelValues("group").Inc()
		s.log.Error().Err(err).Int64(logging.COMPANION, id).Msg("group provisioning failed, rolling back")
		if _, rbErr := s.store.UpdateCompanionState(ctx, id,
			[]models.CompanionState{models.CompanionMatched}, models.CompanionPending); rbErr != nil {
			s.log.Error().Err(rbErr).Int64(logging.COMPANION, id).Msg("rollback to PENDING failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	r, err = s.finishProvisioning(ctx, r, groupID, spec)
	if err != nil {
		return nil, err
	}
	s.notify.Notify(ctx, *r.CompanionID, models.NotifyCompanionAccepted, "Your companion request was accepted", "",
		map[string]any{"request_id": id, "group_id": groupID})
	return r, nil
}

// RepairChat completes the provisioning chain of a MATCHED request whose chat
// mirror could not be created. It is a no-op once the request is IN_PROGRESS.
func (s *Companions) RepairChat(ctx context.Context, id, actorID int64) (*models.CompanionRequest, error) {
	unlock := s.acceptLock(id)
	defer unlock()

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != actorID && (r.CompanionID == nil || *r.CompanionID != actorID) {
		return nil, ErrForbidden
	}
	switch r.State {
	case models.CompanionMatched:
	case models.CompanionInProgress, models.CompanionFinished:
		return r, nil
	default:
		return nil, fmt.Errorf("%w: request is %s", ErrIllegalTransition, r.State)
	}

	spec := groupSpecFor(r)
	var groupID int64
	group, err := s.store.FindGroupByRequest(ctx, id)
	switch {
	case err == nil:
		groupID = group.ID
	case errors.Is(err, repository.ErrNotFound):
		if groupID, err = s.prov.CreateGroup(ctx, spec); err != nil {
			metrics.ProvisioningFailures.WithLabelValues("group").Inc()
			return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
		}
	default:
		return nil, fmt.Errorf("find group: %w", err)
	}
	return s.finishProvisioning(ctx, r, groupID, spec)
}

// finishProvisioning creates the chat mirror, then stores the group id and
// moves MATCHED -> IN_PROGRESS in one conditional write.
func (s *Companions) finishProvisioning(ctx context.Context, r *models.CompanionRequest, groupID int64, spec GroupSpec) (*models.CompanionRequest, error) {
	if _, err := s.prov.CreateChatMirror(ctx, groupID, spec); err != nil {
		metrics.ProvisioningFailures.WithLabelValues("chat").Inc()
		s.log.Error().Err(err).Int64(logging.COMPANION, r.ID).Int64(logging.GROUP, groupID).Msg("chat mirror failed, request stays MATCHED")
		return nil, &ChatPendingError{RequestID: r.ID, GroupID: groupID, Err: err}
	}

	ok, err := s.store.SetCompanionGroup(ctx, r.ID, groupID)
	if err != nil {
		return nil, fmt.Errorf("set companion group: %w", err)
	}
	cur, err := s.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if !ok && (cur.CompanionGroupID == nil || *cur.CompanionGroupID != groupID) {
		return nil, fmt.Errorf("%w: request is %s", ErrIllegalTransition, cur.State)
	}
	if ok {
		metrics.CompanionTransitions.WithLabelValues(string(models.CompanionInProgress)).Inc()
		s.log.Info().Int64(logging.COMPANION, r.ID).Int64(logging.GROUP, groupID).Msg("companion matched")
	}
	return cur, nil
}

func groupSpecFor(r *models.CompanionRequest) GroupSpec {
	members := []int64{r.CreatorID}
	if r.CompanionID != nil {
		members = append(members, *r.CompanionID)
	}
	name := fmt.Sprintf("Companion #%d", r.ID)
	if r.Description != nil {
		name = *r.Description
	}
	return GroupSpec{Name: name, RequestID: r.ID, Members: members}
}

// Reject drops the pending applicant and reopens the request. Rejecting a
// request that is already CREATED changes nothing.
func (s *Companions) Reject(ctx context.Context, id, actorID int64) (*models.CompanionRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != actorID {
		return nil, ErrNotCreator
	}
	if r.State == models.CompanionCreated {
		return r, nil
	}
	if r.State != models.CompanionPending {
		return nil, ErrNotPending
	}
	rejected := r.CompanionID

	ok, err := s.store.ClearCompanion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	if !ok {
		return nil, ErrNotPending
	}
	if r, err = s.Get(ctx, id); err != nil {
		return nil, err
	}
	metrics.CompanionTransitions.WithLabelValues(string(models.CompanionCreated)).Inc()
	if rejected != nil {
		s.notify.Notify(ctx, *rejected, models.NotifyCompanionRejected, "Your companion request was declined", "",
			map[string]any{"request_id": id})
	}
	return r, nil
}

// Finish closes a PENDING or IN_PROGRESS request and removes its chat mirror.
func (s *Companions) Finish(ctx context.Context, id, actorID int64) (*models.CompanionRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != actorID {
		return nil, ErrNotCreator
	}
	r, err = s.close(ctx, r, []models.CompanionState{models.CompanionPending, models.CompanionInProgress}, models.CompanionFinished)
	if err != nil {
		return nil, err
	}
	if r.CompanionID != nil {
		s.notify.Notify(ctx, *r.CompanionID, models.NotifyCompanionFinished, "Companion trip finished", "",
			map[string]any{"request_id": id})
	}
	return r, nil
}

// Cancel withdraws a request that has not been matched.
func (s *Companions) Cancel(ctx context.Context, id, actorID int64) (*models.CompanionRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.CreatorID != actorID {
		return nil, ErrNotCreator
	}
	return s.close(ctx, r, activeCompanionStates, models.CompanionCancelled)
}

// Expire closes a CREATED or PENDING request whose retention window passed.
func (s *Companions) Expire(ctx context.Context, id int64) (*models.CompanionRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, r, activeCompanionStates, models.CompanionExpired)
}

// ExpireStale expires every open request created before cutoff and returns how many it closed.
func (s *Companions) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.ListCompanionRequests(ctx, repository.CompanionFilter{
		States:        activeCompanionStates,
		CreatedBefore: cutoff,
		Limit:         500,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale requests: %w", err)
	}
	expired := 0
	for i := range stale {
		if _, err := s.close(ctx, &stale[i], activeCompanionStates, models.CompanionExpired); err != nil {
			// the request moved on since it was listed
			if errors.Is(err, ErrIllegalTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// close moves r from one of from to the terminal state to. Repeating the same
// close is a no-op. A group chat mirror, if any, is removed.
func (s *Companions) close(ctx context.Context, r *models.CompanionRequest, from []models.CompanionState, to models.CompanionState) (*models.CompanionRequest, error) {
	if r.State == to {
		return r, nil
	}
	ok, err := s.store.UpdateCompanionState(ctx, r.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("update companion state: %w", err)
	}
	cur, err := s.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur.State == to {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.State, to)
	}

	metrics.CompanionTransitions.WithLabelValues(string(to)).Inc()
	s.log.Info().Int64(logging.COMPANION, r.ID).Str("from", string(r.State)).Str("to", string(to)).Msg("companion request closed")

	if cur.CompanionGroupID != nil {
		if err := s.prov.DeleteChatMirror(ctx, *cur.CompanionGroupID); err != nil {
			s.log.Warn().Err(err).Int64(logging.GROUP, *cur.CompanionGroupID).Msg("chat mirror not deleted")
		}
	}
	return cur, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
