package services

import (
	"context"
	"path/filepath"
	"testing"

	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

type harness struct {
	store      *repository.SQLite
	bolt       *mirror.Bolt
	syncer     *mirror.Syncer
	notify     *Notifications
	journeys   *Journeys
	parts      *Participations
	feed       *Feed
	prov       *GroupProvisioner
	companions *Companions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := repository.OpenSQLite(context.Background(), filepath.Join(dir, "gosafe.db"), 4)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(store.Close)

	bolt, err := mirror.OpenBolt(filepath.Join(dir, "mirror.db"), mirror.Options{WatchBuffer: 256})
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })

	h := &harness{store: store, bolt: bolt, syncer: mirror.NewSyncer(bolt, 0)}
	h.notify = NewNotifications(store)
	h.journeys = NewJourneys(store, h.syncer)
	h.parts = NewParticipations(store, h.syncer, h.notify)
	h.feed = NewFeed(store, bolt, nil, 256)
	h.prov = NewGroupProvisioner(store, bolt, h.syncer)
	h.companions = NewCompanions(store, h.prov, h.notify)
	return h
}

func fix(lat, lon float64) *models.DeviceFix {
	return &models.DeviceFix{Latitude: lat, Longitude: lon}
}

func (h *harness) startJourney(t *testing.T, groupID, creatorID int64, typ models.JourneyType) *CreatedJourney {
	t.Helper()
	out, err := h.journeys.CreateJourney(context.Background(), CreateJourneyInput{
		GroupID:     groupID,
		CreatorID:   creatorID,
		Type:        typ,
		Origin:      fix(40.4168, -3.7038),
		Destination: fix(40.4530, -3.6883),
	})
	if err != nil {
		t.Fatalf("CreateJourney: %v", err)
	}
	return out
}

func (h *harness) location(t *testing.T) int64 {
	t.Helper()
	loc, err := NewLocations(h.store).Create(context.Background(), fix(41.3874, 2.1686))
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	return loc.ID
}

func (h *harness) notificationsOf(t *testing.T, userID int64) []models.Notification {
	t.Helper()
	page, err := h.notify.List(context.Background(), userID, repository.NotificationFilter{Limit: 100})
	if err != nil {
		t.Fatalf("List notifications: %v", err)
	}
	return page.Items
}
