package maps

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"

	"ridecore/internal/geo"
	"ridecore/internal/metrics"
	"ridecore/internal/types"
)

// Route is the distance provider's answer for one origin/destination pair.
type Route struct {
	DistanceMeters int64
	Duration       time.Duration
	Path           []types.Point
	// Degraded is set when the straight-line estimator produced the route.
	Degraded bool
}

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
	log    logrus.FieldLogger
}

// NewRouteService creates a RouteService. An empty apiKey yields a service that always
// answers with the straight-line estimate.
func NewRouteService(apiKey string, log logrus.FieldLogger) (*RouteService, error) {
	s := &RouteService{log: log}
	if apiKey == "" {
		return s, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	s.client = client
	return s, nil
}

// Estimate returns the driving route between two points. Provider failures are logged and
// answered with a straight-line estimate; Estimate itself never fails.
func (s *RouteService) Estimate(ctx context.Context, from, to types.Point) Route {
	if s.client != nil {
		r, err := s.directions(ctx, from, to)
		if err == nil {
			return r
		}
		s.log.WithError(err).Warn("distance provider unavailable, using straight-line estimate")
	}
	metrics.RouteFallbacks.Inc()
	meters, dur := geo.StraightLine(from, to)
	return Route{
		DistanceMeters: meters,
		Duration:       dur,
		Path:           []types.Point{from, to},
		Degraded:       true,
	}
}

func (s *RouteService) directions(ctx context.Context, from, to types.Point) (Route, error) {
	routes, _, err := s.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("no route found")
	}

	var out Route
	for _, leg := range routes[0].Legs {
		out.DistanceMeters += int64(leg.Distance.Meters)
		out.Duration += leg.Duration
	}
	if pts, err := routes[0].OverviewPolyline.Decode(); err == nil {
		out.Path = make([]types.Point, len(pts))
		for i, p := range pts {
			out.Path[i] = types.Point{Lat: p.Lat, Lng: p.Lng}
		}
	}
	return out, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
