package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
)

func TestIndividualJourneyStartsInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j1 := h.startJourney(t, 42, 7, models.JourneyIndividual)
	if j1.Journey.State != models.JourneyInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS", j1.Journey.State)
	}
	if j1.Participation.State != models.ParticipationAccepted || j1.Participation.UserID != 7 {
		t.Errorf("creator participation = %+v", j1.Participation)
	}
	if j1.Participation.DestinationID == nil {
		t.Error("creator destination not stored")
	}

	_, err := h.journeys.CreateJourney(ctx, CreateJourneyInput{
		GroupID: 42, CreatorID: 8, Type: models.JourneyPersonalized, Origin: fix(1, 1),
	})
	if !errors.Is(err, ErrActiveJourneyExists) {
		t.Fatalf("second CreateJourney err = %v, want ErrActiveJourneyExists", err)
	}

	var doc models.Journey
	if err := h.bolt.Get(ctx, mirror.JourneyPath(42, j1.Journey.ID), &doc); err != nil {
		t.Fatalf("journey not mirrored: %v", err)
	}
	if doc.State != models.JourneyInProgress {
		t.Errorf("mirrored state = %s", doc.State)
	}
}

func TestGroupJourneysStartPending(t *testing.T) {
	h := newHarness(t)
	for i, typ := range []models.JourneyType{models.JourneyCommonDestination, models.JourneyPersonalized} {
		out := h.startJourney(t, int64(100+i), 1, typ)
		if out.Journey.State != models.JourneyPending {
			t.Errorf("%s starts %s, want PENDING", typ, out.Journey.State)
		}
	}
}

func TestCreateJourneyValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateJourneyInput
		want error
	}{
		{"no fix", CreateJourneyInput{GroupID: 1, CreatorID: 1, Type: models.JourneyIndividual}, ErrLocationUnavailable},
		{"bad type", CreateJourneyInput{GroupID: 1, CreatorID: 1, Type: "WALK", Origin: fix(1, 1)}, ErrInvalidInput},
		{"bad latitude", CreateJourneyInput{GroupID: 1, CreatorID: 1, Type: models.JourneyIndividual, Origin: fix(91, 1)}, ErrInvalidInput},
		{"no group", CreateJourneyInput{CreatorID: 1, Type: models.JourneyIndividual, Origin: fix(1, 1)}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.journeys.CreateJourney(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if active, err := h.journeys.GetActiveJourney(ctx, 1); err != nil || active != nil {
		t.Errorf("GetActiveJourney after failures = %v, %v", active, err)
	}
}

func TestConcurrentCreateJourney(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(creator int64) {
			defer wg.Done()
			_, err := h.journeys.CreateJourney(ctx, CreateJourneyInput{
				GroupID: 5, CreatorID: creator, Type: models.JourneyCommonDestination, Origin: fix(1, 2),
			})
			errs <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrActiveJourneyExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d creations succeeded, want 1", won)
	}

	all, err := h.journeys.ListJourneys(ctx, 5)
	if err != nil {
		t.Fatalf("ListJourneys: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("group has %d journeys, want 1", len(all))
	}
}

func TestTransitionState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.startJourney(t, 3, 1, models.JourneyPersonalized)
	id := out.Journey.ID

	if _, err := h.journeys.TransitionState(ctx, id, models.JourneyCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("PENDING->COMPLETED err = %v", err)
	}

	j, err := h.journeys.TransitionState(ctx, id, models.JourneyInProgress)
	if err != nil || j.State != models.JourneyInProgress {
		t.Fatalf("PENDING->IN_PROGRESS = %v, %v", j, err)
	}
	again, err := h.journeys.TransitionState(ctx, id, models.JourneyInProgress)
	if err != nil || again.State != models.JourneyInProgress {
		t.Fatalf("repeated transition = %v, %v", again, err)
	}

	if _, err := h.journeys.TransitionState(ctx, id, models.JourneyPending); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("IN_PROGRESS->PENDING err = %v", err)
	}
	if _, err := h.journeys.TransitionState(ctx, id+99, models.JourneyInProgress); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing journey err = %v", err)
	}
}

func TestCompletingRemovesMirrorKeepsRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.startJourney(t, 42, 7, models.JourneyIndividual)
	j := out.Journey

	if _, err := h.feed.Append(ctx, j.ID, 7, 40.41, -3.70); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.UserPositionsPath(42, j.ID, 7)); !ok {
		t.Fatal("position log not in mirror")
	}

	done, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.EndDate == nil {
		t.Error("EndDate not set on the returned journey")
	}

	if ok, _ := h.bolt.Exists(ctx, mirror.JourneyPath(42, j.ID)); ok {
		t.Error("journey mirror entry survived completion")
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.PositionsPath(42, j.ID)); ok {
		t.Error("position feed survived completion")
	}
	if ok, _ := h.bolt.Sealed(ctx, mirror.UserPositionsPath(42, j.ID, 7)); !ok {
		t.Error("completed journey is not sealed")
	}

	row, err := h.journeys.GetJourney(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJourney: %v", err)
	}
	if row.State != models.JourneyCompleted || row.EndDate == nil {
		t.Errorf("backend row = %+v", row)
	}

	if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
		t.Errorf("repeated completion: %v", err)
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.JourneyPath(42, j.ID)); ok {
		t.Error("repeated completion resurrected the mirror entry")
	}

	// the group is free again
	if active, err := h.journeys.GetActiveJourney(ctx, 42); err != nil || active != nil {
		t.Errorf("GetActiveJourney = %v, %v", active, err)
	}
	h.startJourney(t, 42, 7, models.JourneyIndividual)
}
