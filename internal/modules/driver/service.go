// README: Driver availability service: vehicle registration, online/offline, heartbeat.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

// Availability arms and disarms the online-flag expiry for a driver.
type Availability interface {
	MarkOnline(id types.ID)
	MarkOffline(id types.ID)
}

type Service struct {
	store    Store
	watchdog Availability
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, watchdog Availability, log logrus.FieldLogger) *Service {
	return &Service{store: store, watchdog: watchdog, log: log, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// RegisterVehicle stores the vehicle in its canonical class spelling, creating the driver record on first use.
func (s *Service) RegisterVehicle(ctx context.Context, id types.ID, v Vehicle) (*Driver, error) {
	class, ok := pricing.CanonicalClass(v.Class)
	if !ok {
		return nil, fmt.Errorf("%w: unknown vehicle class %q", ErrInvalidVehicle, v.Class)
	}
	v.Class = class
	v.Plate = strings.TrimSpace(v.Plate)
	if v.Plate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidVehicle)
	}

	set := func(d *Driver) error {
		if d.Status == StatusWorking && !strings.EqualFold(d.VehicleClass(), v.Class) {
			return fmt.Errorf("%w: cannot change vehicle class during a trip", ErrWorking)
		}
		vv := v
		d.Vehicle = &vv
		return nil
	}

	d, err := s.store.Update(ctx, id, set)
	if !errors.Is(err, ErrNotFound) {
		return d, err
	}
	fresh := New(id, s.now())
	_ = set(fresh)
	err = s.store.Create(ctx, fresh)
	if errors.Is(err, ErrExists) {
		return s.store.Update(ctx, id, set)
	}
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// GoOnline marks the driver available and arms the watchdog. A WORKING driver is returned unchanged.
func (s *Service) GoOnline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Update(ctx, id, func(d *Driver) error {
		if d.Vehicle == nil {
			return ErrNoVehicle
		}
		if d.Status != StatusWorking {
			d.Status = StatusOnline
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.Status == StatusOnline {
		s.watchdog.MarkOnline(id)
	}
	return d, nil
}

func (s *Service) GoOffline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Update(ctx, id, func(d *Driver) error {
		if d.Status == StatusWorking {
			return ErrWorking
		}
		d.Status = StatusOffline
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.watchdog.MarkOffline(id)
	return d, nil
}

// Heartbeat re-arms the watchdog for an ONLINE driver. Unknown users are ignored since
// riders share the push channel.
func (s *Service) Heartbeat(ctx context.Context, id types.ID) error {
	d, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Status == StatusOnline {
		s.watchdog.MarkOnline(id)
	}
	return nil
}

func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point) (*Driver, error) {
	at := s.now()
	return s.store.Update(ctx, id, func(d *Driver) error {
		pp := p
		d.CurrentLocation = &pp
		d.LocationUpdatedAt = &at
		return nil
	})
}

// ListOnline returns every driver currently ONLINE.
func (s *Service) ListOnline(ctx context.Context) ([]*Driver, error) {
	return s.store.ListByStatus(ctx, StatusOnline)
}

// ResumeOnline arms the watchdog for every driver stored as ONLINE, so drivers that never
// reconnect after a restart still expire. It returns how many were armed.
func (s *Service) ResumeOnline(ctx context.Context) (int, error) {
	online, err := s.store.ListByStatus(ctx, StatusOnline)
	if err != nil {
		return 0, err
	}
	for _, d := range online {
		s.watchdog.MarkOnline(d.ID)
	}
	return len(online), nil
}
