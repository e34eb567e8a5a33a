// README: Driver record, availability statuses and the vehicle registration.
package driver

import (
	"time"

	"ridecore/internal/modules/ranking"
	"ridecore/internal/types"
)

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
	// StatusWorking is owned by the trip lifecycle; the watchdog never overrides it.
	StatusWorking Status = "WORKING"
)

const DefaultRating = 5.0

type Vehicle struct {
	Class string `json:"class" firestore:"class"`
	Plate string `json:"plate" firestore:"plate"`
	Color string `json:"color" firestore:"color"`
	Model string `json:"model" firestore:"model"`
}

type Driver struct {
	ID                types.ID
	Vehicle           *Vehicle
	Status            Status
	CurrentLocation   *types.Point
	LocationUpdatedAt *time.Time
	Rating            float64
	RatingCount       int
	TripCount         int
	Version           int
	CreatedAt         time.Time
}

// New returns an offline driver without a vehicle.
func New(id types.ID, now time.Time) *Driver {
	return &Driver{
		ID:        id,
		Status:    StatusOffline,
		Rating:    DefaultRating,
		CreatedAt: now,
	}
}

// VehicleClass returns the registered class, or "" when no vehicle is registered.
func (d *Driver) VehicleClass() string {
	if d.Vehicle == nil {
		return ""
	}
	return d.Vehicle.Class
}

// ApplyRating folds one rating into the running mean.
func (d *Driver) ApplyRating(r int) {
	d.Rating = ranking.RollingMean(d.Rating, d.RatingCount, r)
	d.RatingCount++
}

func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	if d.Vehicle != nil {
		v := *d.Vehicle
		c.Vehicle = &v
	}
	if d.CurrentLocation != nil {
		p := *d.CurrentLocation
		c.CurrentLocation = &p
	}
	if d.LocationUpdatedAt != nil {
		t := *d.LocationUpdatedAt
		c.LocationUpdatedAt = &t
	}
	return &c
}
