// README: Geo index of driver positions backed by Redis GEO, with an in-process fallback.
package location

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

const driverGeoKey = "location:drivers"

// Hit is one indexed driver near a query point.
type Hit struct {
	DriverID   types.ID
	Position   types.Point
	DistanceKm float64
}

// Index answers radius queries over the last known driver positions, closest first.
type Index interface {
	Set(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Hit, error)
}

type RedisIndex struct {
	redis *redis.Client
}

func NewRedisIndex(rdb *redis.Client) *RedisIndex {
	return &RedisIndex{redis: rdb}
}

func (x *RedisIndex) Set(ctx context.Context, id types.ID, p types.Point) error {
	return x.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (x *RedisIndex) Remove(ctx context.Context, id types.ID) error {
	return x.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

func (x *RedisIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Hit, error) {
	locs, err := x.redis.GeoRadius(ctx, driverGeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, len(locs))
	for i, l := range locs {
		out[i] = Hit{
			DriverID:   types.ID(l.Name),
			Position:   types.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceKm: l.Dist,
		}
	}
	return out, nil
}

type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[types.ID]types.Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[types.ID]types.Point)}
}

func (x *MemoryIndex) Set(_ context.Context, id types.ID, p types.Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.positions[id] = p
	return nil
}

func (x *MemoryIndex) Remove(_ context.Context, id types.ID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.positions, id)
	return nil
}

func (x *MemoryIndex) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]Hit, error) {
	x.mu.RLock()
	var out []Hit
	for id, pos := range x.positions {
		if d := geo.HaversineKm(p, pos); d <= radiusKm {
			out = append(out, Hit{DriverID: id, Position: pos, DistanceKm: d})
		}
	}
	x.mu.RUnlock()

	geo.SortByDistance(out, func(h Hit) float64 { return h.DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
