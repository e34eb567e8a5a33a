package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridecore/internal/logger"
	"ridecore/internal/types"
)

type fakeAvailability struct {
	mu     sync.Mutex
	online map[types.ID]int
	off    map[types.ID]int
}

func newFakeAvailability() *fakeAvailability {
	return &fakeAvailability{online: map[types.ID]int{}, off: map[types.ID]int{}}
}

func (f *fakeAvailability) MarkOnline(id types.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id]++
}

func (f *fakeAvailability) MarkOffline(id types.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.off[id]++
}

func testNow() time.Time {
	return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
}

func newTestService() (*Service, *MemoryStore, *fakeAvailability) {
	store := NewMemoryStore()
	av := newFakeAvailability()
	return NewService(store, av, logger.Discard()), store, av
}

func TestRegisterVehicle_CanonicalClass(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	d, err := svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "motorbike", Plate: " 59X1-12345 ", Color: "red"})
	require.NoError(t, err)
	assert.Equal(t, "Motorbike", d.Vehicle.Class)
	assert.Equal(t, "59X1-12345", d.Vehicle.Plate)
	assert.Equal(t, StatusOffline, d.Status)
	assert.Equal(t, DefaultRating, d.Rating)

	d, err = svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "CAR 7-SEAT", Plate: "51A-00001"})
	require.NoError(t, err)
	assert.Equal(t, "Car 7-Seat", d.Vehicle.Class)
}

func TestRegisterVehicle_Rejects(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "Helicopter", Plate: "X"})
	assert.ErrorIs(t, err, ErrInvalidVehicle)

	_, err = svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "Motorbike"})
	assert.ErrorIs(t, err, ErrInvalidVehicle)
}

func TestGoOnline_RequiresVehicle(t *testing.T) {
	svc, store, av := newTestService()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, New("d1", testNow())))

	_, err := svc.GoOnline(ctx, "d1")
	assert.ErrorIs(t, err, ErrNoVehicle)
	assert.Zero(t, av.online["d1"])

	_, err = svc.GoOnline(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGoOnlineOffline(t *testing.T) {
	svc, _, av := newTestService()
	ctx := context.Background()
	_, err := svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "Motorbike", Plate: "P"})
	require.NoError(t, err)

	d, err := svc.GoOnline(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, d.Status)
	assert.Equal(t, 1, av.online["d1"])

	require.NoError(t, svc.Heartbeat(ctx, "d1"))
	assert.Equal(t, 2, av.online["d1"])

	d, err = svc.GoOffline(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, d.Status)
	assert.Equal(t, 1, av.off["d1"])

	require.NoError(t, svc.Heartbeat(ctx, "d1"))
	assert.Equal(t, 2, av.online["d1"], "heartbeat while offline must not arm the watchdog")
}

func TestWorkingDriver(t *testing.T) {
	svc, store, av := newTestService()
	ctx := context.Background()
	d := New("d1", testNow())
	d.Vehicle = &Vehicle{Class: "Motorbike", Plate: "P"}
	d.Status = StatusWorking
	require.NoError(t, store.Create(ctx, d))

	got, err := svc.GoOnline(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, got.Status)
	assert.Zero(t, av.online["d1"])

	_, err = svc.GoOffline(ctx, "d1")
	assert.ErrorIs(t, err, ErrWorking)

	_, err = svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "Car 4-Seat", Plate: "P"})
	assert.ErrorIs(t, err, ErrWorking)
}

func TestHeartbeat_UnknownUserIgnored(t *testing.T) {
	svc, _, av := newTestService()
	require.NoError(t, svc.Heartbeat(context.Background(), "rider-1"))
	assert.Empty(t, av.online)
}

func TestUpdateLocation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.RegisterVehicle(ctx, "d1", Vehicle{Class: "Motorbike", Plate: "P"})
	require.NoError(t, err)

	d, err := svc.UpdateLocation(ctx, "d1", types.Point{Lat: 10.77, Lng: 106.70})
	require.NoError(t, err)
	require.NotNil(t, d.CurrentLocation)
	assert.Equal(t, 10.77, d.CurrentLocation.Lat)
	assert.NotNil(t, d.LocationUpdatedAt)
}

func TestApplyRating(t *testing.T) {
	d := New("d1", testNow())
	d.ApplyRating(4)
	assert.Equal(t, 4.0, d.Rating)
	assert.Equal(t, 1, d.RatingCount)
	d.ApplyRating(5)
	assert.InDelta(t, 4.5, d.Rating, 1e-9)
	assert.Equal(t, 2, d.RatingCount)
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []types.ID{"b", "a", "c"} {
		d := New(id, testNow())
		if id != "c" {
			d.Status = StatusOnline
		}
		require.NoError(t, store.Create(ctx, d))
	}
	assert.ErrorIs(t, store.Create(ctx, New("a", testNow())), ErrExists)

	online, err := store.ListByStatus(ctx, StatusOnline)
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, types.ID("a"), online[0].ID)
	assert.Equal(t, types.ID("b"), online[1].ID)
}

func TestResumeOnline_ArmsStoredOnlineDrivers(t *testing.T) {
	svc, store, av := newTestService()
	ctx := context.Background()
	for id, st := range map[types.ID]Status{"on1": StatusOnline, "on2": StatusOnline, "off": StatusOffline, "busy": StatusWorking} {
		d := New(id, testNow())
		d.Status = st
		require.NoError(t, store.Create(ctx, d))
	}

	n, err := svc.ResumeOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[types.ID]int{"on1": 1, "on2": 1}, av.online)
}
