package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
)

func TestJoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 9, 1, models.JourneyPersonalized).Journey

	first, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2, Fix: fix(40.1, -3.1)})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if first.State != models.ParticipationPending || !first.SharedLocation {
		t.Errorf("new participation = %+v", first)
	}
	second, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2, Fix: fix(40.2, -3.2)})
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second join id = %d, want %d", second.ID, first.ID)
	}

	all, err := h.journeys.ListParticipations(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListParticipations: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("journey has %d participations, want 2", len(all))
	}

	var doc models.Participation
	if err := h.bolt.Get(ctx, mirror.ParticipationPath(9, j.ID, 2), &doc); err != nil {
		t.Fatalf("participation not mirrored: %v", err)
	}

	joined := 0
	for _, n := range h.notificationsOf(t, 1) {
		if n.Type == models.NotifyParticipantJoined {
			joined++
		}
	}
	if joined != 1 {
		t.Errorf("creator got %d join notifications, want 1", joined)
	}
}

func TestConcurrentJoinSameUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 9, 1, models.JourneyPersonalized).Journey

	const racers = 6
	ids := make(chan int64, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 3, Fix: fix(1, 1)})
			if err != nil {
				t.Errorf("Join: %v", err)
				return
			}
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)

	var want int64
	for id := range ids {
		if want == 0 {
			want = id
		}
		if id != want {
			t.Errorf("joins returned ids %d and %d", want, id)
		}
	}
}

func TestJoinRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 9, 1, models.JourneyIndividual).Journey

	if _, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2}); !errors.Is(err, ErrLocationUnavailable) {
		t.Errorf("join without fix err = %v", err)
	}
	if _, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID + 50, UserID: 2, Fix: fix(1, 1)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("join of missing journey err = %v", err)
	}

	creator, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 1, Fix: fix(1, 1)})
	if err != nil {
		t.Fatalf("creator rejoin: %v", err)
	}
	if creator.State != models.ParticipationAccepted {
		t.Errorf("creator participation state = %s", creator.State)
	}

	if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2, Fix: fix(1, 1)}); !errors.Is(err, ErrJourneyClosed) {
		t.Errorf("join of completed journey err = %v", err)
	}
}

func TestCommonDestinationIsInherited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.startJourney(t, 9, 1, models.JourneyCommonDestination)

	p, err := h.parts.Join(ctx, JoinInput{JourneyID: created.Journey.ID, UserID: 2, Fix: fix(2, 2)})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if p.DestinationID == nil || *p.DestinationID != *created.Participation.DestinationID {
		t.Errorf("destination = %v, want %d", p.DestinationID, *created.Participation.DestinationID)
	}
}

func TestAnswerParticipation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 9, 1, models.JourneyPersonalized).Journey
	p, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2, Fix: fix(1, 1)})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := h.parts.SetAccepted(ctx, p.ID, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("answer by another user err = %v", err)
	}

	got, err := h.parts.SetAccepted(ctx, p.ID, 2)
	if err != nil || got.State != models.ParticipationAccepted {
		t.Fatalf("SetAccepted = %+v, %v", got, err)
	}
	again, err := h.parts.SetAccepted(ctx, p.ID, 2)
	if err != nil || again.State != models.ParticipationAccepted {
		t.Errorf("repeated SetAccepted = %+v, %v", again, err)
	}
	late, err := h.parts.SetDeclined(ctx, p.ID, 2)
	if err != nil || late.State != models.ParticipationAccepted {
		t.Errorf("decline after accept = %+v, %v", late, err)
	}

	var doc models.Participation
	if err := h.bolt.Get(ctx, mirror.ParticipationPath(9, j.ID, 2), &doc); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if doc.State != models.ParticipationAccepted {
		t.Errorf("mirrored state = %s", doc.State)
	}
}

func TestSetSharing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 9, 1, models.JourneyIndividual).Journey
	p, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 2, Fix: fix(1, 1)})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	off, err := h.parts.SetSharing(ctx, p.ID, 2, false)
	if err != nil || off.SharedLocation {
		t.Fatalf("SetSharing(false) = %+v, %v", off, err)
	}
	if _, err := h.feed.Append(ctx, j.ID, 2, 1, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("append with sharing off err = %v", err)
	}
	if _, err := h.parts.SetSharing(ctx, p.ID, 1, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("toggle by another user err = %v", err)
	}
	if _, err := h.parts.SetSharing(ctx, p.ID, 2, true); err != nil {
		t.Fatalf("SetSharing(true): %v", err)
	}
	if _, err := h.feed.Append(ctx, j.ID, 2, 1, 1); err != nil {
		t.Errorf("append with sharing on: %v", err)
	}
}
