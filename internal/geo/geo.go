// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"
	"time"

	"ridecore/internal/types"
)

const earthRadiusKm = 6371.0

// fallbackSpeedKmh is the average urban speed used when no routing provider answers.
const fallbackSpeedKmh = 30.0

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// StraightLine estimates distance and duration between two points without a routing provider.
func StraightLine(a, b types.Point) (distanceMeters int64, duration time.Duration) {
	km := HaversineKm(a, b)
	distanceMeters = int64(math.Round(km * 1000))
	duration = time.Duration(km / fallbackSpeedKmh * float64(time.Hour)).Round(time.Second)
	return distanceMeters, duration
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
