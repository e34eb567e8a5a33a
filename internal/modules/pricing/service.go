// README: Pricing service computes fare estimates.
package pricing

import (
	"math"
	"time"

	"ridecore/internal/types"
)

type Service struct {
	table Table
}

func NewService(table Table) *Service {
	return &Service{table: table}
}

// Quote is a priced route.
type Quote struct {
	DistanceMeters  int64
	DurationSeconds int64
	VehicleClass    string
	Fare            types.Money
}

func (s *Service) rate(vehicleClass string) Rate {
	if c, ok := CanonicalClass(vehicleClass); ok {
		if r, ok := s.table.Rates[c]; ok {
			return r
		}
	}
	return s.table.Fallback
}

// Fare returns base + perKm*km rounded to an integer, never below base.
// Callers validate distanceMeters >= 0 beforehand.
func (s *Service) Fare(distanceMeters int64, vehicleClass string) int64 {
	r := s.rate(vehicleClass)
	fare := math.Round(r.Base + r.PerKm*float64(distanceMeters)/1000)
	if floor := math.Round(r.Base); fare < floor {
		fare = floor
	}
	return int64(fare)
}

func (s *Service) Quote(distanceMeters int64, duration time.Duration, vehicleClass string) Quote {
	return Quote{
		DistanceMeters:  distanceMeters,
		DurationSeconds: int64(duration / time.Second),
		VehicleClass:    vehicleClass,
		Fare:            types.Money{Amount: s.Fare(distanceMeters, vehicleClass), Currency: s.table.Currency},
	}
}
