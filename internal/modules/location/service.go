// README: Driver position updates and nearby-driver lookup.
package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

const (
	DefaultRadiusKm = 5.0
	MaxRadiusKm     = 50.0
	maxResults      = 50
)

var ErrInvalidPoint = errors.New("invalid coordinates")

type Drivers interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point) (*driver.Driver, error)
}

// DriverLocation is an ONLINE driver with its distance from the query point.
type DriverLocation struct {
	DriverID     types.ID    `json:"driver_id"`
	Position     types.Point `json:"position"`
	DistanceKm   float64     `json:"distance_km"`
	VehicleClass string      `json:"vehicle_class"`
}

type Service struct {
	drivers Drivers
	index   Index
	log     logrus.FieldLogger
}

func NewService(drivers Drivers, index Index, log logrus.FieldLogger) *Service {
	return &Service{drivers: drivers, index: index, log: log}
}

// UpdateDriverLocation stores the driver's position on its record and in the geo index.
func (s *Service) UpdateDriverLocation(ctx context.Context, id types.ID, p types.Point) (*driver.Driver, error) {
	if !p.Valid() {
		return nil, ErrInvalidPoint
	}
	d, err := s.drivers.UpdateLocation(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if err := s.index.Set(ctx, id, p); err != nil {
		return nil, fmt.Errorf("geo index: %w", err)
	}
	return d, nil
}

// NearbyDrivers returns ONLINE drivers within radiusKm of p, closest first.
func (s *Service) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]DriverLocation, error) {
	if !p.Valid() {
		return nil, ErrInvalidPoint
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if radiusKm > MaxRadiusKm {
		radiusKm = MaxRadiusKm
	}
	hits, err := s.index.Nearby(ctx, p, radiusKm, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]DriverLocation, 0, len(hits))
	for _, h := range hits {
		d, err := s.drivers.Get(ctx, h.DriverID)
		if errors.Is(err, driver.ErrNotFound) {
			s.prune(ctx, h.DriverID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Status != driver.StatusOnline {
			continue
		}
		out = append(out, DriverLocation{
			DriverID:     h.DriverID,
			Position:     h.Position,
			DistanceKm:   h.DistanceKm,
			VehicleClass: d.VehicleClass(),
		})
	}
	return out, nil
}

func (s *Service) prune(ctx context.Context, id types.ID) {
	if err := s.index.Remove(ctx, id); err != nil {
		s.log.WithError(err).WithField("driver_id", id).Warn("prune geo index")
	}
}
