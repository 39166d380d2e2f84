package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

func TestReadRecent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey

	lats := []float64{40.10, 40.11, 40.12, 40.13}
	for _, lat := range lats {
		if _, err := h.feed.Append(ctx, j.ID, 7, lat, -3.7); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	latest, err := h.feed.ReadRecent(ctx, j.ID, 7, []int64{7, 8}, 1)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if got := latest[7]; len(got) != 1 || got[0].Latitude != 40.13 {
		t.Errorf("latest of user 7 = %+v", got)
	}
	if got, ok := latest[8]; !ok || len(got) != 0 {
		t.Errorf("user without positions = %v, %v", got, ok)
	}

	recent, err := h.feed.ReadRecent(ctx, j.ID, 7, []int64{7}, 3)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	got := recent[7]
	if len(got) != 3 {
		t.Fatalf("got %d positions, want 3", len(got))
	}
	for i, want := range lats[1:] {
		if got[i].Latitude != want || got[i].UserID != 7 {
			t.Errorf("position %d = %+v, want latitude %v", i, got[i], want)
		}
		if i > 0 && got[i].Seq <= got[i-1].Seq {
			t.Errorf("sequence not increasing: %d then %d", got[i-1].Seq, got[i].Seq)
		}
	}
}

func TestReadAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.startJourney(t, 42, 7, models.JourneyPersonalized)
	j := created.Journey
	if _, err := h.feed.Append(ctx, j.ID, 7, 40.1, -3.7); err != nil {
		t.Fatalf("Append: %v", err)
	}
	joined, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 8, Fix: fix(1, 1)})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	// a pending participant may watch before answering
	if got, err := h.feed.ReadRecent(ctx, j.ID, 8, []int64{7}, 1); err != nil || len(got[7]) != 1 {
		t.Fatalf("ReadRecent by pending participant = %v, %v", got, err)
	}
	if _, err := h.feed.ReadRecent(ctx, j.ID, 99, []int64{7}, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("ReadRecent by a stranger err = %v", err)
	}
	if _, err := h.feed.Subscribe(ctx, j.ID, 99, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("Subscribe by a stranger err = %v", err)
	}

	if _, err := h.parts.SetDeclined(ctx, joined.ID, 8); err != nil {
		t.Fatalf("SetDeclined: %v", err)
	}
	if _, err := h.feed.ReadRecent(ctx, j.ID, 8, []int64{7}, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("ReadRecent after declining err = %v", err)
	}
	if _, err := h.feed.Subscribe(ctx, j.ID, 8, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("Subscribe after declining err = %v", err)
	}
}

func TestAppendRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey

	if _, err := h.feed.Append(ctx, j.ID, 99, 1, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("append by a stranger err = %v", err)
	}
	if _, err := h.feed.Append(ctx, j.ID, 7, 95, 1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("append out of range err = %v", err)
	}

	before := time.Now().UTC()
	p, err := h.feed.Append(ctx, j.ID, 7, 1, 1)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if p.Timestamp.Before(before) {
		t.Errorf("timestamp %v is before the call", p.Timestamp)
	}

	if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.feed.Append(ctx, j.ID, 7, 1, 1); !errors.Is(err, ErrJourneyClosed) {
		t.Errorf("append after completion err = %v", err)
	}
}

// completingStore completes the journey right after Append checked the participation.
type completingStore struct {
	repository.Store
	once     sync.Once
	complete func()
}

func (s *completingStore) FindParticipation(ctx context.Context, journeyID, userID int64) (*models.Participation, error) {
	p, err := s.Store.FindParticipation(ctx, journeyID, userID)
	if err == nil {
		s.once.Do(s.complete)
	}
	return p, err
}

func TestAppendLosingToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey
	if _, err := h.feed.Append(ctx, j.ID, 7, 1, 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	store := &completingStore{Store: h.store, complete: func() {
		if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
			t.Errorf("complete: %v", err)
		}
	}}
	feed := NewFeed(store, h.bolt, nil, 16)
	if _, err := feed.Append(ctx, j.ID, 7, 2, 2); !errors.Is(err, ErrJourneyClosed) {
		t.Fatalf("Append racing completion err = %v, want ErrJourneyClosed", err)
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.JourneyPath(j.GroupID, j.ID)); ok {
		t.Error("journey subtree exists after completion")
	}

	// late participation projections are dropped too
	if _, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 8, Fix: fix(1, 1)}); err == nil {
		t.Error("Join of a completed journey succeeded")
	}
	if err := h.syncer.Apply(ctx, mirror.PutOp(mirror.ParticipationPath(j.GroupID, j.ID, 7), models.Participation{})); err != nil {
		t.Errorf("late projection err = %v", err)
	}
	if ok, _ := h.bolt.Exists(ctx, mirror.JourneyPath(j.GroupID, j.ID)); ok {
		t.Error("late projection recreated the journey subtree")
	}
}

func recv(t *testing.T, sub *Subscription) (models.Position, bool) {
	t.Helper()
	select {
	case p, ok := <-sub.C:
		return p, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a position")
		return models.Position{}, false
	}
}

func TestSubscribeFromMirror(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.startJourney(t, 42, 7, models.JourneyPersonalized).Journey
	if _, err := h.parts.Join(ctx, JoinInput{JourneyID: j.ID, UserID: 8, Fix: fix(1, 1)}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	sub, err := h.feed.Subscribe(ctx, j.ID, 8, []int64{7})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i, lat := range []float64{10, 11, 12} {
		if _, err := h.feed.Append(ctx, j.ID, 8, 50, 50); err != nil {
			t.Fatalf("Append user 8: %v", err)
		}
		if _, err := h.feed.Append(ctx, j.ID, 7, lat, 20); err != nil {
			t.Fatalf("Append user 7: %v", err)
		}
		p, ok := recv(t, sub)
		if !ok {
			t.Fatalf("subscription ended early: %v", sub.Err())
		}
		if p.UserID != 7 || p.Latitude != lat {
			t.Errorf("event %d = %+v, want user 7 at %v", i, p, lat)
		}
	}

	if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyInProgress); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := recv(t, sub); ok {
		t.Fatal("expected the subscription to end on completion")
	}
	if !errors.Is(sub.Err(), ErrJourneyClosed) {
		t.Errorf("Err = %v, want ErrJourneyClosed", sub.Err())
	}

	if _, err := h.feed.Subscribe(ctx, j.ID, 7, nil); !errors.Is(err, ErrJourneyClosed) {
		t.Errorf("subscribe to completed journey err = %v", err)
	}
}

func TestSubscribeEndsWithContext(t *testing.T) {
	h := newHarness(t)
	j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.feed.Subscribe(ctx, j.ID, 7, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	if _, ok := recv(t, sub); ok {
		t.Fatal("expected the subscription to end")
	}
	if sub.Err() != nil {
		t.Errorf("Err = %v, want nil", sub.Err())
	}
	sub.Close()
}

type busSub struct {
	fn     func(models.Position)
	closed func()
}

type memoryBus struct {
	mu   sync.Mutex
	subs map[int64][]*busSub
}

func (b *memoryBus) subscribers(journeyID int64) []*busSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*busSub(nil), b.subs[journeyID]...)
}

func (b *memoryBus) PublishPosition(_ context.Context, journeyID int64, p models.Position) error {
	for _, s := range b.subscribers(journeyID) {
		s.fn(p)
	}
	return nil
}

func (b *memoryBus) PublishClosed(_ context.Context, journeyID int64) error {
	for _, s := range b.subscribers(journeyID) {
		if s.closed != nil {
			s.closed()
		}
	}
	return nil
}

func (b *memoryBus) SubscribePositions(journeyID int64, fn func(models.Position), closed func()) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int64][]*busSub)
	}
	s := &busSub{fn: fn, closed: closed}
	b.subs[journeyID] = append(b.subs[journeyID], s)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[journeyID]
		for i := range subs {
			if subs[i] == s {
				b.subs[journeyID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}, nil
}

func TestSubscribeThroughBus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bus := &memoryBus{}
	feed := NewFeed(h.store, h.bolt, bus, 4)
	j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey

	sub, err := feed.Subscribe(ctx, j.ID, 7, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	want, err := feed.Append(ctx, j.ID, 7, 3, 4)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, ok := recv(t, sub)
	if !ok || got.Seq != want.Seq || got.Latitude != 3 {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// the buffer holds 4; the fifth undelivered position ends the subscription
	for i := 0; i < 5; i++ {
		if _, err := feed.Append(ctx, j.ID, 7, 3, 4); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for range sub.C {
	}
	if !errors.Is(sub.Err(), mirror.ErrSlowWatcher) {
		t.Errorf("Err = %v, want slow watcher", sub.Err())
	}
	if left := len(bus.subscribers(j.ID)); left != 0 {
		t.Errorf("%d bus subscriptions left after the stream ended", left)
	}
}

func TestBusSubscriptionEndsOnCompletion(t *testing.T) {
	tests := []struct {
		name string
		// announce wires the bus into the completing service; without it only
		// the local mirror reports the completion
		announce bool
	}{
		{"closed marker", true},
		{"local seal", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			bus := &memoryBus{}
			feed := NewFeed(h.store, h.bolt, bus, 16)
			journeys := NewJourneys(h.store, h.syncer)
			if tt.announce {
				journeys.AnnounceClosures(bus)
			}
			j := h.startJourney(t, 42, 7, models.JourneyIndividual).Journey

			sub, err := feed.Subscribe(ctx, j.ID, 7, nil)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			defer sub.Close()
			if _, err := journeys.TransitionState(ctx, j.ID, models.JourneyCompleted); err != nil {
				t.Fatalf("complete: %v", err)
			}
			if _, ok := recv(t, sub); ok {
				t.Fatal("expected the subscription to end on completion")
			}
			if !errors.Is(sub.Err(), ErrJourneyClosed) {
				t.Errorf("Err = %v, want ErrJourneyClosed", sub.Err())
			}
			if left := len(bus.subscribers(j.ID)); left != 0 {
				t.Errorf("%d bus subscriptions left after completion", left)
			}
			if _, err := feed.Subscribe(ctx, j.ID, 7, nil); !errors.Is(err, ErrJourneyClosed) {
				t.Errorf("subscribe after completion err = %v", err)
			}
		})
	}
}
