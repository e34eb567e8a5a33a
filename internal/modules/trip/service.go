// README: Trip lifecycle engine: request, dispatch, accept, pickup, complete, cancel, rate.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridecore/internal/geo"
	"ridecore/internal/maps"
	"ridecore/internal/metrics"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

const (
	// sideEffectWait bounds best-effort work that outlives the request.
	sideEffectWait = 10 * time.Second
	// DefaultSweepInterval is how often RunTimeoutMonitor looks for overdue requests.
	DefaultSweepInterval = 30 * time.Second
)

// errNotPending aborts an expiry write for a trip that already left REQUESTED.
var errNotPending = errors.New("trip no longer pending")

type Drivers interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	Update(ctx context.Context, id types.ID, mutate driver.Mutator) (*driver.Driver, error)
	ListByStatus(ctx context.Context, status driver.Status) ([]*driver.Driver, error)
}

type RouteEstimator interface {
	Estimate(ctx context.Context, from, to types.Point) maps.Route
}

type Pricer interface {
	Quote(distanceMeters int64, duration time.Duration, vehicleClass string) pricing.Quote
}

type Notifier interface {
	Notify(ctx context.Context, userID types.ID, event string, payload any) int
	Broadcast(ctx context.Context, match func(types.ID) bool, event string, payload any) int
}

type Ranking interface {
	RecordCompletion(ctx context.Context, driverID types.ID) error
}

type Linker interface {
	Link(ctx context.Context, a, b types.ID) error
}

// Scheduler runs one cancellable countdown per trip id.
type Scheduler interface {
	Schedule(id types.ID, after time.Duration, fn func())
	Cancel(id types.ID) bool
}

type Availability interface {
	MarkOnline(id types.ID)
}

type Deps struct {
	Drivers      Drivers
	Routes       RouteEstimator
	Pricing      Pricer
	Notifier     Notifier
	Ranking      Ranking
	Contacts     Linker
	Timeouts     Scheduler
	Watchdog     Availability
	Log          logrus.FieldLogger
	MatchTimeout time.Duration
	Now          func() time.Time
}

type Service struct {
	store        Store
	drivers      Drivers
	routes       RouteEstimator
	pricing      Pricer
	notifier     Notifier
	ranking      Ranking
	contacts     Linker
	timeouts     Scheduler
	watchdog     Availability
	log          logrus.FieldLogger
	matchTimeout time.Duration
	now          func() time.Time
}

func NewService(store Store, deps Deps) *Service {
	s := &Service{
		store:        store,
		drivers:      deps.Drivers,
		routes:       deps.Routes,
		pricing:      deps.Pricing,
		notifier:     deps.Notifier,
		ranking:      deps.Ranking,
		contacts:     deps.Contacts,
		timeouts:     deps.Timeouts,
		watchdog:     deps.Watchdog,
		log:          deps.Log,
		matchTimeout: deps.MatchTimeout,
		now:          deps.Now,
	}
	if s.matchTimeout <= 0 {
		s.matchTimeout = 60 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RequestCommand struct {
	RiderID       types.ID
	Pickup        types.Location
	Dropoff       types.Location
	VehicleClass  string
	PaymentMethod string
}

type EstimateCommand struct {
	Pickup       types.Location
	Dropoff      types.Location
	VehicleClass string
}

type AcceptCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type PickupCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	TripID           types.ID
	DriverID         types.ID
	PaymentConfirmed bool
}

type CancelCommand struct {
	// TripID is optional; empty means the caller's active trip.
	TripID   types.ID
	CallerID types.ID
	Reason   string
}

type RateCommand struct {
	TripID       types.ID
	RiderID      types.ID
	DriverRating int
	TripRating   int
	Comment      string
}

// Estimate is a priced route without a trip.
type Estimate struct {
	pricing.Quote
	Path     []types.Point
	Degraded bool
}

func validateRoute(pickup, dropoff types.Location, vehicleClass string) error {
	if !pickup.Point().Valid() {
		return fmt.Errorf("%w: pickup coordinates out of range", ErrValidation)
	}
	if !dropoff.Point().Valid() {
		return fmt.Errorf("%w: dropoff coordinates out of range", ErrValidation)
	}
	if strings.TrimSpace(vehicleClass) == "" {
		return fmt.Errorf("%w: vehicle class is required", ErrValidation)
	}
	return nil
}

// normalizeClass keeps unknown classes as given; they are priced at the fallback rate.
func normalizeClass(class string) string {
	if c, ok := pricing.CanonicalClass(class); ok {
		return c
	}
	return strings.TrimSpace(class)
}

func (s *Service) Estimate(ctx context.Context, cmd EstimateCommand) (Estimate, error) {
	if err := validateRoute(cmd.Pickup, cmd.Dropoff, cmd.VehicleClass); err != nil {
		return Estimate{}, err
	}
	route := s.routes.Estimate(ctx, cmd.Pickup.Point(), cmd.Dropoff.Point())
	return Estimate{
		Quote:    s.pricing.Quote(route.DistanceMeters, route.Duration, normalizeClass(cmd.VehicleClass)),
		Path:     route.Path,
		Degraded: route.Degraded,
	}, nil
}

func (s *Service) RequestTrip(ctx context.Context, cmd RequestCommand) (*Trip, error) {
	if cmd.RiderID == "" {
		return nil, fmt.Errorf("%w: rider is required", ErrValidation)
	}
	if err := validateRoute(cmd.Pickup, cmd.Dropoff, cmd.VehicleClass); err != nil {
		return nil, err
	}
	active, err := s.store.ActiveFor(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: trip %s is still active", ErrStateConflict, active.ID)
	}

	class := normalizeClass(cmd.VehicleClass)
	route := s.routes.Estimate(ctx, cmd.Pickup.Point(), cmd.Dropoff.Point())
	quote := s.pricing.Quote(route.DistanceMeters, route.Duration, class)

	payment := strings.TrimSpace(cmd.PaymentMethod)
	if payment == "" {
		payment = DefaultPaymentMethod
	}
	t := &Trip{
		ID:              types.ID(uuid.NewString()),
		RiderID:         cmd.RiderID,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		VehicleClass:    class,
		Fare:            quote.Fare,
		DistanceMeters:  quote.DistanceMeters,
		DurationSeconds: quote.DurationSeconds,
		Path:            route.Path,
		Status:          StatusRequested,
		PaymentMethod:   payment,
		PaymentStatus:   PaymentPending,
		CreatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	metrics.TripTransitions.WithLabelValues(string(StatusRequested)).Inc()
	s.log.WithFields(logrus.Fields{
		"trip_id":       t.ID,
		"user_id":       t.RiderID,
		"vehicle_class": t.VehicleClass,
		"fare":          t.Fare.Amount,
		"degraded":      route.Degraded,
	}).Info("trip requested")

	s.scheduleTimeout(t.ID, s.matchTimeout)
	s.dispatch(ctx, t)
	return t, nil
}

// dispatch pushes the request to ONLINE drivers of the same class that have a live connection.
func (s *Service) dispatch(ctx context.Context, t *Trip) {
	online, err := s.drivers.ListByStatus(ctx, driver.StatusOnline)
	if err != nil {
		s.log.WithError(err).WithField("trip_id", t.ID).Warn("list online drivers")
		return
	}
	eligible := make(map[types.ID]bool)
	for _, d := range online {
		if pricing.SameClass(d.VehicleClass(), t.VehicleClass) {
			eligible[d.ID] = true
		}
	}
	if len(eligible) == 0 {
		s.log.WithField("trip_id", t.ID).Info("no eligible drivers online")
		return
	}
	sent := s.notifier.Broadcast(ctx, func(id types.ID) bool { return eligible[id] }, EventNewRideRequest, NewRideRequest{
		TripID:       t.ID,
		Pickup:       t.Pickup,
		Dropoff:      t.Dropoff,
		Fare:         t.Fare.Amount,
		Distance:     t.DistanceMeters,
		VehicleClass: t.VehicleClass,
	})
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "eligible": len(eligible), "delivered": sent}).Info("trip dispatched")
}

func (s *Service) scheduleTimeout(id types.ID, after time.Duration) {
	s.timeouts.Schedule(id, after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectWait)
		defer cancel()
		if _, err := s.Expire(ctx, id); err != nil {
			s.log.WithError(err).WithField("trip_id", id).Error("match timeout")
		}
	})
}

// Expire moves a still-REQUESTED trip to NO_DRIVER_FOUND and tells the rider. It reports
// false without error when the trip already left REQUESTED.
func (s *Service) Expire(ctx context.Context, id types.ID) (bool, error) {
	t, err := s.store.Update(ctx, id, func(t *Trip) error {
		if t.Status != StatusRequested {
			return errNotPending
		}
		return t.Transition(StatusNoDriverFound, nil, s.now())
	})
	if errors.Is(err, errNotPending) || errors.Is(err, ErrStateConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.timeouts.Cancel(id)
	metrics.TripTransitions.WithLabelValues(string(StatusNoDriverFound)).Inc()
	s.log.WithField("trip_id", id).Info("no driver found")
	s.notifier.Notify(ctx, t.RiderID, EventTripNoDriver, TripNoDriver{TripID: t.ID, Message: noDriverMessage})
	return true, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRequested {
		return nil, fmt.Errorf("%w: trip is %s", ErrStateConflict, t.Status)
	}

	var prev driver.Status
	_, err = s.drivers.Update(ctx, cmd.DriverID, func(d *driver.Driver) error {
		if !pricing.SameClass(d.VehicleClass(), t.VehicleClass) {
			return fmt.Errorf("%w: trip wants %q, driver has %q", ErrVehicleMismatch, t.VehicleClass, d.VehicleClass())
		}
		if d.Status == driver.StatusWorking {
			return fmt.Errorf("%w: driver already has an active trip", ErrStateConflict)
		}
		prev = d.Status
		d.Status = driver.StatusWorking
		return nil
	})
	if errors.Is(err, driver.ErrNotFound) {
		return nil, fmt.Errorf("%w: driver has no registered vehicle", ErrVehicleMismatch)
	}
	if err != nil {
		return nil, err
	}

	driverID := cmd.DriverID
	accepted, err := s.store.Update(ctx, cmd.TripID, func(t *Trip) error {
		return t.Transition(StatusAccepted, &driverID, s.now())
	})
	if err != nil {
		s.releaseDriver(ctx, cmd.DriverID, prev)
		return nil, err
	}

	s.timeouts.Cancel(accepted.ID)
	metrics.TripTransitions.WithLabelValues(string(StatusAccepted)).Inc()
	s.log.WithFields(logrus.Fields{"trip_id": accepted.ID, "driver_id": driverID}).Info("trip accepted")
	s.notifier.Notify(ctx, accepted.RiderID, EventTripAccepted, TripAccepted{
		TripID:   accepted.ID,
		DriverID: driverID,
		Status:   accepted.Status,
	})
	go s.autoConnect(accepted.RiderID, driverID)
	return accepted, nil
}

// releaseDriver undoes a WORKING claim after the trip transition lost its race.
func (s *Service) releaseDriver(ctx context.Context, id types.ID, prev driver.Status) {
	_, err := s.drivers.Update(ctx, id, func(d *driver.Driver) error {
		if d.Status == driver.StatusWorking {
			d.Status = prev
		}
		return nil
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues(metrics.EffectDriverState).Inc()
		s.log.WithError(err).WithField("driver_id", id).Error("release driver claim")
	}
}

func (s *Service) autoConnect(riderID, driverID types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectWait)
	defer cancel()
	if err := s.contacts.Link(ctx, riderID, driverID); err != nil {
		metrics.SideEffectFailures.WithLabelValues(metrics.EffectAutoConnect).Inc()
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": riderID, "driver_id": driverID}).Warn("auto-connect failed")
	}
}

func (s *Service) MarkPickup(ctx context.Context, cmd PickupCommand) (*Trip, error) {
	t, err := s.store.Update(ctx, cmd.TripID, func(t *Trip) error {
		if !t.IsDriver(cmd.DriverID) {
			return ErrUnauthorized
		}
		return t.Transition(StatusInProgress, nil, s.now())
	})
	if err != nil {
		return nil, err
	}
	metrics.TripTransitions.WithLabelValues(string(StatusInProgress)).Inc()
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "driver_id": cmd.DriverID}).Info("rider picked up")
	s.notifier.Notify(ctx, t.RiderID, EventTripStarted, TripStarted{TripID: t.ID, Status: t.Status})
	return t, nil
}

func (s *Service) MarkComplete(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	t, err := s.store.Update(ctx, cmd.TripID, func(t *Trip) error {
		if !t.IsDriver(cmd.DriverID) {
			return ErrUnauthorized
		}
		if err := t.Transition(StatusCompleted, nil, s.now()); err != nil {
			return err
		}
		t.PaymentStatus = PaymentPending
		if cmd.PaymentConfirmed {
			t.PaymentStatus = PaymentPaid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TripTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "driver_id": cmd.DriverID, "payment": t.PaymentStatus}).Info("trip completed")

	s.freeDriver(ctx, cmd.DriverID, true)
	if err := s.ranking.RecordCompletion(ctx, cmd.DriverID); err != nil {
		metrics.SideEffectFailures.WithLabelValues(metrics.EffectRanking).Inc()
		s.log.WithError(err).WithField("driver_id", cmd.DriverID).Warn("ranking update failed")
	}

	done := TripCompleted{TripID: t.ID, Fare: t.Fare.Amount, Status: t.Status}
	s.notifier.Notify(ctx, t.RiderID, EventTripCompleted, done)
	s.notifier.Notify(ctx, cmd.DriverID, EventTripCompleted, done)
	return t, nil
}

// freeDriver puts a WORKING driver back to ONLINE once its trip is over. The trip is
// already committed, so failures are logged rather than returned.
func (s *Service) freeDriver(ctx context.Context, id types.ID, completed bool) {
	d, err := s.drivers.Update(ctx, id, func(d *driver.Driver) error {
		if d.Status == driver.StatusWorking {
			d.Status = driver.StatusOnline
		}
		if completed {
			d.TripCount++
		}
		return nil
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues(metrics.EffectDriverState).Inc()
		s.log.WithError(err).WithField("driver_id", id).Error("free driver")
		return
	}
	if d.Status == driver.StatusOnline {
		s.watchdog.MarkOnline(id)
	}
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Trip, error) {
	id := cmd.TripID
	if id == "" {
		active, err := s.store.ActiveFor(ctx, cmd.CallerID)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, fmt.Errorf("%w: no active trip", ErrNotFound)
		}
		id = active.ID
	}

	var assigned *types.ID
	t, err := s.store.Update(ctx, id, func(t *Trip) error {
		if !t.IsParty(cmd.CallerID) {
			return ErrUnauthorized
		}
		if t.Status.Terminal() {
			return fmt.Errorf("%w: trip already %s", ErrStateConflict, t.Status)
		}
		assigned = clonePtr(t.DriverID)
		if err := t.Transition(StatusCancelled, nil, s.now()); err != nil {
			return err
		}
		caller := cmd.CallerID
		t.CancelledBy = &caller
		t.CancelReason = nil
		if r := strings.TrimSpace(cmd.Reason); r != "" {
			t.CancelReason = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.timeouts.Cancel(t.ID)
	metrics.TripTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "user_id": cmd.CallerID}).Info("trip cancelled")
	if assigned != nil {
		s.freeDriver(ctx, *assigned, false)
	}

	reason := ""
	if t.CancelReason != nil {
		reason = *t.CancelReason
	}
	msg := TripCancelled{TripID: t.ID, CancelledBy: cmd.CallerID, Reason: reason}
	switch {
	case cmd.CallerID == t.RiderID && assigned != nil:
		s.notifier.Notify(ctx, *assigned, EventTripCancelled, msg)
	case cmd.CallerID != t.RiderID:
		s.notifier.Notify(ctx, t.RiderID, EventTripCancelled, msg)
	}
	return t, nil
}

func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Trip, error) {
	if cmd.DriverRating < 1 || cmd.DriverRating > 5 || cmd.TripRating < 1 || cmd.TripRating > 5 {
		return nil, fmt.Errorf("%w: ratings must be between 1 and 5", ErrValidation)
	}

	var driverID types.ID
	t, err := s.store.Update(ctx, cmd.TripID, func(t *Trip) error {
		if t.RiderID != cmd.RiderID {
			return ErrUnauthorized
		}
		if t.Status != StatusCompleted {
			return fmt.Errorf("%w: trip is %s", ErrStateConflict, t.Status)
		}
		if t.Rated() {
			return fmt.Errorf("%w: trip already rated", ErrStateConflict)
		}
		dr, tr := cmd.DriverRating, cmd.TripRating
		t.RatingDriver = &dr
		t.RatingTrip = &tr
		t.RatingComment = nil
		if c := strings.TrimSpace(cmd.Comment); c != "" {
			t.RatingComment = &c
		}
		driverID = *t.DriverID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.drivers.Update(ctx, driverID, func(d *driver.Driver) error {
		d.ApplyRating(cmd.DriverRating)
		return nil
	}); err != nil {
		s.unrate(ctx, t.ID, t.Version)
		return nil, fmt.Errorf("update driver rating: %w", err)
	}
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "driver_id": driverID, "rating": cmd.DriverRating}).Info("trip rated")
	return t, nil
}

// unrate clears the rating written at version so the rider can retry after the driver
// update failed. A trip written since then is left alone.
func (s *Service) unrate(ctx context.Context, id types.ID, version int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectWait)
	defer cancel()
	_, err := s.store.Update(ctx, id, func(t *Trip) error {
		if t.Version != version {
			return fmt.Errorf("%w: trip changed after rating", ErrStateConflict)
		}
		t.RatingDriver = nil
		t.RatingTrip = nil
		t.RatingComment = nil
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("trip_id", id).Error("roll back trip rating")
	}
}

// ActiveFor returns the caller's non-terminal trip, or nil.
func (s *Service) ActiveFor(ctx context.Context, userID types.ID) (*Trip, error) {
	return s.store.ActiveFor(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID types.ID) ([]*Trip, error) {
	return s.store.ListForUser(ctx, userID)
}

// AvailableFor lists REQUESTED trips of the driver's class, nearest pickup first when the
// driver's position is known.
func (s *Service) AvailableFor(ctx context.Context, driverID types.ID) ([]*Trip, error) {
	d, err := s.drivers.Get(ctx, driverID)
	if errors.Is(err, driver.ErrNotFound) {
		return []*Trip{}, nil
	}
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListByStatus(ctx, StatusRequested)
	if err != nil {
		return nil, err
	}
	out := make([]*Trip, 0, len(pending))
	for _, t := range pending {
		if pricing.SameClass(d.VehicleClass(), t.VehicleClass) {
			out = append(out, t)
		}
	}
	if d.CurrentLocation != nil {
		from := *d.CurrentLocation
		geo.SortByDistance(out, func(t *Trip) float64 { return geo.HaversineKm(from, t.Pickup.Point()) })
	}
	return out, nil
}

// ResumePending expires overdue REQUESTED trips and re-arms the countdown of the rest.
// It backs restarts and the periodic sweep.
func (s *Service) ResumePending(ctx context.Context) error {
	pending, err := s.store.ListByStatus(ctx, StatusRequested)
	if err != nil {
		return err
	}
	for _, t := range pending {
		remaining := s.matchTimeout - s.now().Sub(t.CreatedAt)
		if remaining > 0 {
			s.scheduleTimeout(t.ID, remaining)
			continue
		}
		if _, err := s.Expire(ctx, t.ID); err != nil {
			s.log.WithError(err).WithField("trip_id", t.ID).Error("expire overdue trip")
		}
	}
	return nil
}

// RunTimeoutMonitor runs ResumePending every interval until ctx is done.
func (s *Service) RunTimeoutMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ResumePending(ctx); err != nil {
				s.log.WithError(err).Warn("timeout sweep failed")
			}
		}
	}
}
