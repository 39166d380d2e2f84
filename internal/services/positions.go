package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/metrics"
	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

const maxRecentPositions = 100

// PositionLog is the part of the mirror the feed reads and appends to. *mirror.Bolt implements it.
type PositionLog interface {
	Push(ctx context.Context, p mirror.Path, v any) (uint64, error)
	Last(ctx context.Context, p mirror.Path, n int) ([]mirror.Entry, error)
	Watch(prefix mirror.Path) (*mirror.Watch, error)
	Sealed(ctx context.Context, p mirror.Path) (bool, error)
}

// ClosedPublisher announces that a journey completed.
type ClosedPublisher interface {
	PublishClosed(ctx context.Context, journeyID int64) error
}

// PositionBus fans positions out to other instances. *broker.NATS implements it.
type PositionBus interface {
	ClosedPublisher
	PublishPosition(ctx context.Context, journeyID int64, p models.Position) error
	// SubscribePositions calls closed once the journey is announced closed.
	SubscribePositions(journeyID int64, fn func(models.Position), closed func()) (func(), error)
}

// Feed is the per-journey, per-user append-only position log.
type Feed struct {
	store  repository.Store
	log    PositionLog
	bus    PositionBus
	buffer int
	now    func() time.Time
	logger zerolog.Logger

	// journey id -> group id; a journey never changes group
	groups sync.Map
}

// NewFeed returns a feed over positions. bus may be nil, in which case
// subscriptions watch the local mirror.
func NewFeed(store repository.Store, positions PositionLog, bus PositionBus, buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		store:  store,
		log:    positions,
		bus:    bus,
		buffer: buffer,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.For("positions"),
	}
}

func (f *Feed) journey(ctx context.Context, journeyID int64) (*models.Journey, error) {
	j, err := f.store.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, notFound(err, "journey")
	}
	f.groups.Store(j.ID, j.GroupID)
	return j, nil
}

func (f *Feed) groupOf(ctx context.Context, journeyID int64) (int64, error) {
	if g, ok := f.groups.Load(journeyID); ok {
		return g.(int64), nil
	}
	j, err := f.journey(ctx, journeyID)
	if err != nil {
		return 0, err
	}
	return j.GroupID, nil
}

// authorize lets through any participant of the journey that has not declined.
func (f *Feed) authorize(ctx context.Context, journeyID, userID int64) error {
	p, err := f.store.FindParticipation(ctx, journeyID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if err != nil {
		return fmt.Errorf("find participation: %w", err)
	}
	if p.State == models.ParticipationDeclined {
		return fmt.Errorf("%w: participation declined", ErrForbidden)
	}
	return nil
}

// Append records a position for userID. The server stamps the time. Only
// participants sharing their location may append, and never to a completed journey.
func (f *Feed) Append(ctx context.Context, journeyID, userID int64, lat, lon float64) (models.Position, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return models.Position{}, err
	}
	j, err := f.journey(ctx, journeyID)
	if err != nil {
		return models.Position{}, err
	}
	if !j.State.Active() {
		return models.Position{}, ErrJourneyClosed
	}
	p, err := f.store.FindParticipation(ctx, journeyID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Position{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if err != nil {
		return models.Position{}, fmt.Errorf("find participation: %w", err)
	}
	if p.State == models.ParticipationDeclined || !p.SharedLocation {
		return models.Position{}, fmt.Errorf("%w: location sharing is off", ErrForbidden)
	}

	pos := models.Position{UserID: userID, Latitude: lat, Longitude: lon, Timestamp: f.now()}
	seq, err := f.log.Push(ctx, mirror.UserPositionsPath(j.GroupID, j.ID, userID), pos)
	if errors.Is(err, mirror.ErrSealed) {
		// completed after the state check above
		return models.Position{}, ErrJourneyClosed
	}
	if err != nil {
		return models.Position{}, fmt.Errorf("append position: %w", err)
	}
	pos.Seq = seq
	metrics.PositionAppends.Inc()

	if f.bus != nil {
		if err := f.bus.PublishPosition(ctx, j.ID, pos); err != nil {
			f.logger.Warn().Err(err).Int64(logging.JOURNEY, j.ID).Msg("position not published")
		}
	}
	return pos, nil
}

// ReadRecent returns, per user, up to limit of the most recent positions,
// oldest first. Users without positions map to an empty slice. callerID must
// be a participant that has not declined.
func (f *Feed) ReadRecent(ctx context.Context, journeyID, callerID int64, userIDs []int64, limit int) (map[int64][]models.Position, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > maxRecentPositions {
		limit = maxRecentPositions
	}
	groupID, err := f.groupOf(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, journeyID, callerID); err != nil {
		return nil, err
	}

	out := make(map[int64][]models.Position, len(userIDs))
	for _, uid := range userIDs {
		entries, err := f.log.Last(ctx, mirror.UserPositionsPath(groupID, journeyID, uid), limit)
		if err != nil {
			return nil, fmt.Errorf("read positions of user %d: %w", uid, err)
		}
		positions := make([]models.Position, 0, len(entries))
		for _, e := range entries {
			var p models.Position
			if err := e.Decode(&p); err != nil {
				return nil, fmt.Errorf("decode position %d of user %d: %w", e.Seq, uid, err)
			}
			p.Seq = e.Seq
			positions = append(positions, p)
		}
		out[uid] = positions
	}
	return out, nil
}

// Subscription is a live stream of positions. C is closed when the
// subscription ends; Err reports why.
type Subscription struct {
	C <-chan models.Position

	ch     chan models.Position
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	err    error
	stop   func()
	once   sync.Once
}

func newSubscription(buffer int) *Subscription {
	ch := make(chan models.Position, buffer)
	metrics.PositionSubscribers.Inc()
	return &Subscription{C: ch, ch: ch, done: make(chan struct{})}
}

// deliver never blocks; a subscriber that cannot keep up is ended with mirror.ErrSlowWatcher.
func (s *Subscription) deliver(p models.Position) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.ch <- p:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.end(mirror.ErrSlowWatcher)
	}
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		stop := s.stop
		close(s.ch)
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		close(s.done)
		metrics.PositionSubscribers.Dec()
	})
}

// setStop installs the transport teardown, running it at once if the
// subscription already ended.
func (s *Subscription) setStop(stop func()) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.stop = stop
	}
	s.mu.Unlock()
	if closed {
		stop()
	}
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.end(nil) }

// Err is nil while open or after Close; otherwise ErrJourneyClosed,
// mirror.ErrSlowWatcher or the transport error that ended the stream.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe streams new positions of userIDs (all participants if empty) to
// callerID, who must be a participant that has not declined. Within one user,
// positions arrive in append order. The subscription ends when ctx is done,
// when Close is called, or when the journey completes.
func (f *Feed) Subscribe(ctx context.Context, journeyID, callerID int64, userIDs []int64) (*Subscription, error) {
	j, err := f.journey(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if !j.State.Active() {
		return nil, ErrJourneyClosed
	}
	if err := f.authorize(ctx, journeyID, callerID); err != nil {
		return nil, err
	}

	want := make(map[int64]bool, len(userIDs))
	for _, uid := range userIDs {
		want[uid] = true
	}
	match := func(uid int64) bool { return len(want) == 0 || want[uid] }

	sub := newSubscription(f.buffer)
	root := mirror.PositionsPath(j.GroupID, j.ID)
	w, err := f.log.Watch(root)
	if err != nil {
		sub.end(err)
		return nil, fmt.Errorf("watch positions: %w", err)
	}
	if f.bus != nil {
		unsubscribe, err := f.bus.SubscribePositions(j.ID, func(p models.Position) {
			if match(p.UserID) {
				sub.deliver(p)
			}
		}, func() { sub.end(ErrJourneyClosed) })
		if err != nil {
			w.Close()
			sub.end(err)
			return nil, err
		}
		sub.setStop(func() {
			unsubscribe()
			w.Close()
		})
		// positions come from the bus; the local watch only reports completion
		go closeOnDelete(w, sub)
	} else {
		sub.setStop(w.Close)
		go f.pump(w, root, sub, match)
	}

	// the journey may have completed before the watch and the bus were in place
	if err := f.stillOpen(ctx, j, root); err != nil {
		sub.end(err)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (f *Feed) stillOpen(ctx context.Context, j *models.Journey, root mirror.Path) error {
	sealed, err := f.log.Sealed(ctx, root)
	if err != nil {
		return fmt.Errorf("check positions: %w", err)
	}
	if sealed {
		return ErrJourneyClosed
	}
	cur, err := f.store.GetJourney(ctx, j.ID)
	if err != nil {
		return notFound(err, "journey")
	}
	if !cur.State.Active() {
		return ErrJourneyClosed
	}
	return nil
}

func closeOnDelete(w *mirror.Watch, sub *Subscription) {
	for e := range w.C {
		if e.Op == mirror.OpDelete {
			sub.end(ErrJourneyClosed)
			return
		}
	}
}

func (f *Feed) pump(w *mirror.Watch, root mirror.Path, sub *Subscription, match func(int64) bool) {
	for e := range w.C {
		switch e.Op {
		case mirror.OpDelete:
			sub.end(ErrJourneyClosed)
			return
		case mirror.OpPush:
			if len(e.Path) != len(root)+1 {
				continue
			}
			uid, err := strconv.ParseInt(e.Path[len(root)], 10, 64)
			if err != nil || !match(uid) {
				continue
			}
			var p models.Position
			if err := mirror.Unmarshal(e.Value, &p); err != nil {
				f.logger.Warn().Err(err).Str(logging.PATH, e.Path.String()).Msg("undecodable position")
				continue
			}
			p.Seq = e.Seq
			sub.deliver(p)
		}
	}
	sub.end(w.Err())
}
