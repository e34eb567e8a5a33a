package trip

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridecore/internal/logger"
	"ridecore/internal/maps"
	"ridecore/internal/modules/contacts"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ranking"
	"ridecore/internal/types"
)

type sentEvent struct {
	to      types.ID
	event   string
	payload any
}

type fakeNotifier struct {
	mu   sync.Mutex
	live map[types.ID]bool
	sent []sentEvent
}

func (n *fakeNotifier) Notify(_ context.Context, userID types.ID, event string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{to: userID, event: event, payload: payload})
	if n.live[userID] {
		return 1
	}
	return 0
}

func (n *fakeNotifier) Broadcast(_ context.Context, match func(types.ID) bool, event string, payload any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	users := make([]types.ID, 0, len(n.live))
	for id := range n.live {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	sent := 0
	for _, id := range users {
		if match(id) {
			n.sent = append(n.sent, sentEvent{to: id, event: event, payload: payload})
			sent++
		}
	}
	return sent
}

func (n *fakeNotifier) count(to types.ID, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.sent {
		if e.to == to && e.event == event {
			c++
		}
	}
	return c
}

type fixedRoute struct{ route maps.Route }

func (f fixedRoute) Estimate(context.Context, types.Point, types.Point) maps.Route { return f.route }

type fakeWatchdog struct {
	mu     sync.Mutex
	online map[types.ID]int
}

func (w *fakeWatchdog) MarkOnline(id types.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.online[id]++
}

type failingLedger struct{}

func (failingLedger) RecordCompletion(context.Context, types.ID) error {
	return errors.New("redis down")
}

// flakyDrivers fails Update while failing is set.
type flakyDrivers struct {
	*driver.MemoryStore
	failing atomic.Bool
}

func (f *flakyDrivers) Update(ctx context.Context, id types.ID, mutate driver.Mutator) (*driver.Driver, error) {
	if f.failing.Load() {
		return nil, errors.New("driver store down")
	}
	return f.MemoryStore.Update(ctx, id, mutate)
}

type harness struct {
	svc      *Service
	store    *MemoryStore
	drivers  *driver.MemoryStore
	notifier *fakeNotifier
	ledger   *ranking.MemoryLedger
	contacts *contacts.MemoryLinker
	timeouts *matching.Timeouts
	watchdog *fakeWatchdog
}

func newHarness(t *testing.T, matchTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		store:    NewMemoryStore(),
		drivers:  driver.NewMemoryStore(),
		notifier: &fakeNotifier{live: map[types.ID]bool{}},
		ledger:   ranking.NewMemoryLedger(),
		contacts: contacts.NewMemoryLinker(),
		timeouts: matching.NewTimeouts(),
		watchdog: &fakeWatchdog{online: map[types.ID]int{}},
	}
	t.Cleanup(h.timeouts.Stop)
	h.svc = NewService(h.store, Deps{
		Drivers:      h.drivers,
		Routes:       fixedRoute{route: maps.Route{DistanceMeters: 10000, Duration: 20 * time.Minute}},
		Pricing:      pricing.NewService(pricing.DefaultTable()),
		Notifier:     h.notifier,
		Ranking:      h.ledger,
		Contacts:     h.contacts,
		Timeouts:     h.timeouts,
		Watchdog:     h.watchdog,
		Log:          logger.Discard(),
		MatchTimeout: matchTimeout,
	})
	return h
}

func (h *harness) addDriver(t *testing.T, id types.ID, class string, status driver.Status, live bool) {
	t.Helper()
	d := driver.New(id, time.Now())
	d.Vehicle = &driver.Vehicle{Class: class, Plate: "PLATE-" + string(id)}
	d.Status = status
	require.NoError(t, h.drivers.Create(context.Background(), d))
	if live {
		h.notifier.mu.Lock()
		h.notifier.live[id] = true
		h.notifier.mu.Unlock()
	}
}

func (h *harness) driverStatus(t *testing.T, id types.ID) driver.Status {
	t.Helper()
	d, err := h.drivers.Get(context.Background(), id)
	require.NoError(t, err)
	return d.Status
}

func (h *harness) request(t *testing.T, rider types.ID, class string) *Trip {
	t.Helper()
	tr, err := h.svc.RequestTrip(context.Background(), RequestCommand{
		RiderID:      rider,
		Pickup:       types.Location{Lat: 10.7769, Lng: 106.7009, Address: "A"},
		Dropoff:      types.Location{Lat: 10.8231, Lng: 106.6297, Address: "B"},
		VehicleClass: class,
	})
	require.NoError(t, err)
	return tr
}

func TestRequestTrip_PricesPersistsAndDispatches(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "moto-live", "motorbike", driver.StatusOnline, true)
	h.addDriver(t, "moto-offline", "Motorbike", driver.StatusOffline, true)
	h.addDriver(t, "moto-nosocket", "Motorbike", driver.StatusOnline, false)
	h.addDriver(t, "car-live", "Car 4-Seat", driver.StatusOnline, true)

	tr := h.request(t, "rider-1", "Motorbike")

	assert.Equal(t, StatusRequested, tr.Status)
	assert.Nil(t, tr.DriverID)
	assert.Equal(t, int64(10000+4000*10), tr.Fare.Amount)
	assert.Equal(t, "VND", tr.Fare.Currency)
	assert.Equal(t, int64(1200), tr.DurationSeconds)
	assert.Equal(t, DefaultPaymentMethod, tr.PaymentMethod)
	assert.Equal(t, PaymentPending, tr.PaymentStatus)
	assert.True(t, h.timeouts.Pending(tr.ID))

	assert.Equal(t, 1, h.notifier.count("moto-live", EventNewRideRequest))
	assert.Zero(t, h.notifier.count("moto-offline", EventNewRideRequest))
	assert.Zero(t, h.notifier.count("moto-nosocket", EventNewRideRequest))
	assert.Zero(t, h.notifier.count("car-live", EventNewRideRequest))

	stored, err := h.store.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Fare, stored.Fare)
}

func TestRequestTrip_UnknownClassUsesFallbackRate(t *testing.T) {
	h := newHarness(t, time.Minute)
	tr := h.request(t, "rider-1", "Tuk Tuk")
	assert.Equal(t, "Tuk Tuk", tr.VehicleClass)
	assert.Equal(t, int64(20000+10000*10), tr.Fare.Amount)
}

func TestRequestTrip_Validation(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	ok := types.Location{Lat: 10, Lng: 106}

	_, err := h.svc.RequestTrip(ctx, RequestCommand{Pickup: ok, Dropoff: ok, VehicleClass: "Motorbike"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.svc.RequestTrip(ctx, RequestCommand{RiderID: "r", Pickup: types.Location{Lat: 91}, Dropoff: ok, VehicleClass: "Motorbike"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.svc.RequestTrip(ctx, RequestCommand{RiderID: "r", Pickup: ok, Dropoff: ok, VehicleClass: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestTrip_OneActivePerRider(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.request(t, "rider-1", "Motorbike")

	_, err := h.svc.RequestTrip(context.Background(), RequestCommand{
		RiderID:      "rider-1",
		Pickup:       types.Location{Lat: 10, Lng: 106},
		Dropoff:      types.Location{Lat: 11, Lng: 106},
		VehicleClass: "Motorbike",
	})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestRequestTrip_ConcurrentRequestsYieldOneActive(t *testing.T) {
	h := newHarness(t, time.Minute)
	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RequestTrip(context.Background(), RequestCommand{
				RiderID:      "rider-1",
				Pickup:       types.Location{Lat: 10, Lng: 106},
				Dropoff:      types.Location{Lat: 11, Lng: 106},
				VehicleClass: "Motorbike",
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrStateConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)

	trips, err := h.store.ListForUser(context.Background(), "rider-1")
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestAccept_VehicleClassMatching(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "car", "Car 4-Seat", driver.StatusOnline, true)
	h.addDriver(t, "moto", "MOTORBIKE", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "car"})
	assert.ErrorIs(t, err, ErrVehicleMismatch)
	assert.Equal(t, driver.StatusOnline, h.driverStatus(t, "car"))

	_, err = h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "unregistered"})
	assert.ErrorIs(t, err, ErrVehicleMismatch)

	accepted, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "moto"})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.DriverID)
	assert.Equal(t, types.ID("moto"), *accepted.DriverID)
	assert.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, driver.StatusWorking, h.driverStatus(t, "moto"))
	assert.False(t, h.timeouts.Pending(tr.ID))
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripAccepted))

	assert.Eventually(t, func() bool {
		return len(h.contacts.Contacts("rider-1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.ID{"rider-1"}, h.contacts.Contacts("moto"))
}

func TestAccept_SecondDriverLoses(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	h.addDriver(t, "E", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "E"})
	assert.ErrorIs(t, err, ErrStateConflict)

	got, err := h.store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ID("D"), *got.DriverID)
	assert.Equal(t, driver.StatusOnline, h.driverStatus(t, "E"))
}

func TestAccept_ConcurrentRace(t *testing.T) {
	h := newHarness(t, time.Minute)
	drivers := []types.ID{"d1", "d2", "d3", "d4", "d5", "d6"}
	for _, id := range drivers {
		h.addDriver(t, id, "Motorbike", driver.StatusOnline, true)
	}
	tr := h.request(t, "rider-1", "Motorbike")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []types.ID
	)
	for _, id := range drivers {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := h.svc.Accept(context.Background(), AcceptCommand{TripID: tr.ID, DriverID: id})
			if err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrStateConflict)
		}(id)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := h.store.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *got.DriverID)
	for _, id := range drivers {
		want := driver.StatusOnline
		if id == winners[0] {
			want = driver.StatusWorking
		}
		assert.Equal(t, want, h.driverStatus(t, id), "driver %s", id)
	}
}

func TestAccept_DriverWithActiveTripRefused(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	first := h.request(t, "rider-1", "Motorbike")
	second := h.request(t, "rider-2", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: first.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.Accept(ctx, AcceptCommand{TripID: second.ID, DriverID: "D"})
	assert.ErrorIs(t, err, ErrStateConflict)

	got, err := h.store.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status)
	assert.Equal(t, driver.StatusWorking, h.driverStatus(t, "D"))
}

func TestTimeout_NoDriverFoundNotifiesOnce(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	require.Eventually(t, func() bool {
		got, err := h.store.Get(ctx, tr.ID)
		return err == nil && got.Status == StatusNoDriverFound
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	got, err := h.store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoDriverFound, got.Status)
	assert.Nil(t, got.DriverID)
	assert.NotNil(t, got.ExpiredAt)
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripNoDriver))

	expired, err := h.svc.Expire(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripNoDriver))

	_, err = h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "late"})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestTimeout_AfterAcceptIsNoop(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	got, err := h.store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Zero(t, h.notifier.count("rider-1", EventTripNoDriver))

	expired, err := h.svc.Expire(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestLifecycle_CompleteAndRate(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()
	observed := []Status{tr.Status}

	got, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	observed = append(observed, got.Status)

	_, err = h.svc.MarkPickup(ctx, PickupCommand{TripID: tr.ID, DriverID: "intruder"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.MarkComplete(ctx, CompleteCommand{TripID: tr.ID, DriverID: "D"})
	assert.ErrorIs(t, err, ErrStateConflict)

	got, err = h.svc.MarkPickup(ctx, PickupCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	observed = append(observed, got.Status)
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripStarted))

	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 5, TripRating: 5})
	assert.ErrorIs(t, err, ErrStateConflict)

	got, err = h.svc.MarkComplete(ctx, CompleteCommand{TripID: tr.ID, DriverID: "D", PaymentConfirmed: true})
	require.NoError(t, err)
	observed = append(observed, got.Status)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, types.ID("D"), *got.DriverID)

	d, err := h.drivers.Get(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOnline, d.Status)
	assert.Equal(t, 1, d.TripCount)
	assert.Equal(t, 1, h.watchdog.online["D"])
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripCompleted))
	assert.Equal(t, 1, h.notifier.count("D", EventTripCompleted))

	top, err := h.ledger.TopN(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []ranking.Entry{{DriverID: "D", Score: 1}}, top)

	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "D", DriverRating: 5, TripRating: 5})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 6, TripRating: 5})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 3, TripRating: 0})
	assert.ErrorIs(t, err, ErrValidation)

	rated, err := h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 4, TripRating: 5, Comment: " smooth "})
	require.NoError(t, err)
	assert.Equal(t, 4, *rated.RatingDriver)
	assert.Equal(t, "smooth", *rated.RatingComment)

	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 1, TripRating: 1})
	assert.ErrorIs(t, err, ErrStateConflict)

	d, err = h.drivers.Get(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, 4.0, d.Rating)
	assert.Equal(t, 1, d.RatingCount)

	assert.Equal(t, []Status{StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted}, observed)
	for i := 1; i < len(observed); i++ {
		assert.True(t, CanTransition(observed[i-1], observed[i]))
	}

	_, err = h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "rider-1"})
	assert.ErrorIs(t, err, ErrStateConflict)

	active, err := h.svc.ActiveFor(ctx, "D")
	require.NoError(t, err)
	assert.Nil(t, active)
	history, err := h.svc.History(ctx, "D")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRate_DriverUpdateFailureLeavesTripUnrated(t *testing.T) {
	h := newHarness(t, time.Minute)
	flaky := &flakyDrivers{MemoryStore: h.drivers}
	h.svc.drivers = flaky
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.MarkPickup(ctx, PickupCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.MarkComplete(ctx, CompleteCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)

	flaky.failing.Store(true)
	_, err = h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 2, TripRating: 3, Comment: "late"})
	require.Error(t, err)

	stored, err := h.store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, stored.Rated())
	assert.Nil(t, stored.RatingTrip)
	assert.Nil(t, stored.RatingComment)

	flaky.failing.Store(false)
	rated, err := h.svc.Rate(ctx, RateCommand{TripID: tr.ID, RiderID: "rider-1", DriverRating: 2, TripRating: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, *rated.RatingDriver)

	d, err := h.drivers.Get(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, 2.0, d.Rating)
	assert.Equal(t, 1, d.RatingCount)
}

func TestComplete_RankingFailureDoesNotFailTrip(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.svc.ranking = failingLedger{}
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.MarkPickup(ctx, PickupCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)

	got, err := h.svc.MarkComplete(ctx, CompleteCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
}

func TestCancel_RiderCancelsAcceptedTrip(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()
	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "stranger"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := h.svc.Cancel(ctx, CancelCommand{CallerID: "rider-1", Reason: "changed plans"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.DriverID)
	assert.Equal(t, types.ID("rider-1"), *got.CancelledBy)
	assert.Equal(t, "changed plans", *got.CancelReason)

	assert.Equal(t, driver.StatusOnline, h.driverStatus(t, "D"))
	assert.Equal(t, 1, h.notifier.count("D", EventTripCancelled))
	assert.Zero(t, h.notifier.count("rider-1", EventTripCancelled))

	history, err := h.svc.History(ctx, "D")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tr.ID, history[0].ID)

	_, err = h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "rider-1"})
	assert.ErrorIs(t, err, ErrStateConflict)
	_, err = h.svc.Cancel(ctx, CancelCommand{CallerID: "rider-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_DriverCancelsNotifiesRider(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()
	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "D"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.count("rider-1", EventTripCancelled))
	assert.Equal(t, driver.StatusOnline, h.driverStatus(t, "D"))
}

func TestCancel_RequestedStopsCountdown(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()

	_, err := h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "rider-1"})
	require.NoError(t, err)
	assert.False(t, h.timeouts.Pending(tr.ID))

	time.Sleep(80 * time.Millisecond)
	got, err := h.store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, h.notifier.count("rider-1", EventTripNoDriver))
}

func TestCancel_InProgressRefused(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	tr := h.request(t, "rider-1", "Motorbike")
	ctx := context.Background()
	_, err := h.svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)
	_, err = h.svc.MarkPickup(ctx, PickupCommand{TripID: tr.ID, DriverID: "D"})
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: "rider-1"})
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, driver.StatusWorking, h.driverStatus(t, "D"))
}

func TestAvailableFor_FiltersByClassAndSortsByDistance(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	h.addDriver(t, "D", "Motorbike", driver.StatusOnline, true)
	_, err := h.drivers.Update(ctx, "D", func(d *driver.Driver) error {
		d.CurrentLocation = &types.Point{Lat: 10.0, Lng: 106.0}
		return nil
	})
	require.NoError(t, err)

	mk := func(rider types.ID, class string, lat float64) types.ID {
		tr, err := h.svc.RequestTrip(ctx, RequestCommand{
			RiderID:      rider,
			Pickup:       types.Location{Lat: lat, Lng: 106.0},
			Dropoff:      types.Location{Lat: lat + 0.1, Lng: 106.0},
			VehicleClass: class,
		})
		require.NoError(t, err)
		return tr.ID
	}
	far := mk("r1", "Motorbike", 10.5)
	near := mk("r2", "motorbike", 10.01)
	mk("r3", "Car 7-Seat", 10.0)

	trips, err := h.svc.AvailableFor(ctx, "D")
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, near, trips[0].ID)
	assert.Equal(t, far, trips[1].ID)

	none, err := h.svc.AvailableFor(ctx, "unregistered")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResumePending_ExpiresOverdueAndRearmsFresh(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	now := time.Now()

	overdue := &Trip{ID: "old", RiderID: "r1", VehicleClass: "Motorbike", Status: StatusRequested, CreatedAt: now.Add(-2 * time.Minute)}
	fresh := &Trip{ID: "new", RiderID: "r2", VehicleClass: "Motorbike", Status: StatusRequested, CreatedAt: now.Add(-10 * time.Second)}
	require.NoError(t, h.store.Create(ctx, overdue))
	require.NoError(t, h.store.Create(ctx, fresh))

	require.NoError(t, h.svc.ResumePending(ctx))

	got, err := h.store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusNoDriverFound, got.Status)
	assert.Equal(t, 1, h.notifier.count("r1", EventTripNoDriver))

	got, err = h.store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status)
	assert.True(t, h.timeouts.Pending("new"))
	assert.False(t, h.timeouts.Pending("old"))
}

func TestRunTimeoutMonitor_StopsOnCancel(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.RunTimeoutMonitor(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestEstimate(t *testing.T) {
	h := newHarness(t, time.Minute)
	est, err := h.svc.Estimate(context.Background(), EstimateCommand{
		Pickup:       types.Location{Lat: 10, Lng: 106},
		Dropoff:      types.Location{Lat: 10.1, Lng: 106},
		VehicleClass: "car 7-seat",
	})
	require.NoError(t, err)
	assert.Equal(t, "Car 7-Seat", est.VehicleClass)
	assert.Equal(t, int64(25000+13000*10), est.Fare.Amount)

	_, err = h.svc.Estimate(context.Background(), EstimateCommand{VehicleClass: "Motorbike", Pickup: types.Location{Lng: 200}})
	assert.ErrorIs(t, err, ErrValidation)
}
