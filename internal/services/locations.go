package services

import (
	"context"
	"math"
	"strings"

	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/repository"
)

// Locations creates the immutable origin and destination records.
type Locations struct {
	store repository.Store
}

func NewLocations(store repository.Store) *Locations {
	return &Locations{store: store}
}

// Create stores fix as a new location. A nil fix means the device could not
// produce one and fails with ErrLocationUnavailable.
func (l *Locations) Create(ctx context.Context, fix *models.DeviceFix) (*models.Location, error) {
	return createLocation(ctx, l.store, fix)
}

func (l *Locations) Get(ctx context.Context, id int64) (*models.Location, error) {
	loc, err := l.store.GetLocation(ctx, id)
	if err != nil {
		return nil, notFound(err, "location")
	}
	return loc, nil
}

func createLocation(ctx context.Context, q repository.Queries, fix *models.DeviceFix) (*models.Location, error) {
	if fix == nil {
		return nil, ErrLocationUnavailable
	}
	if err := validateCoordinates(fix.Latitude, fix.Longitude); err != nil {
		return nil, err
	}
	loc := &models.Location{Latitude: fix.Latitude, Longitude: fix.Longitude}
	if fix.Name != nil {
		if name := strings.TrimSpace(*fix.Name); name != "" {
			loc.Name = &name
		}
	}
	if err := q.InsertLocation(ctx, loc); err != nil {
		return nil, err
	}
	return loc, nil
}

func validateCoordinates(lat, lon float64) error {
	switch {
	case math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90:
		return invalid("latitude %v out of range", lat)
	case math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180:
		return invalid("longitude %v out of range", lon)
	}
	return nil
}
