// README: Trip aggregate, status definitions and the transition table.
package trip

import (
	"fmt"
	"time"

	"ridecore/internal/types"
)

type Status string

const (
	StatusRequested     Status = "REQUESTED"
	StatusAccepted      Status = "ACCEPTED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusCompleted     Status = "COMPLETED"
	StatusCancelled     Status = "CANCELLED"
	StatusNoDriverFound Status = "NO_DRIVER_FOUND"
)

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{StatusRequested, StatusAccepted, StatusInProgress}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

const DefaultPaymentMethod = "cash"

type Trip struct {
	ID       types.ID
	RiderID  types.ID
	DriverID *types.ID
	// AssignedDriverID records who accepted the trip and survives cancellation; history
	// lookups use it since DriverID is cleared on CANCELLED.
	AssignedDriverID *types.ID
	Pickup           types.Location
	Dropoff          types.Location
	VehicleClass     string
	Fare             types.Money
	DistanceMeters   int64
	DurationSeconds  int64
	Path             []types.Point
	Status           Status
	// Version increases on every write; stores use it as an optimistic lock.
	Version       int
	PaymentMethod string
	PaymentStatus PaymentStatus
	RatingDriver  *int
	RatingTrip    *int
	RatingComment *string
	CancelledBy   *types.ID
	CancelReason  *string
	CreatedAt     time.Time
	AcceptedAt    *time.Time
	PickedUpAt    *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	ExpiredAt     *time.Time
}

// AllowedTransitions represents the trip state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCancelled, StatusNoDriverFound},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoDriverFound
}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoDriverFound:
		return true
	}
	return false
}

// InHistoryOf reports whether the trip belongs in userID's history: as rider, or as the
// driver who accepted it even if it was cancelled afterwards.
func (t *Trip) InHistoryOf(userID types.ID) bool {
	return t.RiderID == userID || (t.AssignedDriverID != nil && *t.AssignedDriverID == userID)
}

// IsParty reports whether userID is the trip's rider or assigned driver.
func (t *Trip) IsParty(userID types.ID) bool {
	return t.RiderID == userID || t.IsDriver(userID)
}

func (t *Trip) IsDriver(userID types.ID) bool {
	return t.DriverID != nil && *t.DriverID == userID
}

func (t *Trip) Rated() bool {
	return t.RatingDriver != nil
}

// Transition moves the trip to status `to`, rejecting illegal edges and keeping
// DriverID set exactly while the trip is ACCEPTED, IN_PROGRESS or COMPLETED.
// driverID is only consulted when entering ACCEPTED.
func (t *Trip) Transition(to Status, driverID *types.ID, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrStateConflict, t.Status, to)
	}
	switch to {
	case StatusAccepted:
		if driverID == nil || *driverID == "" {
			return fmt.Errorf("%w: accept without driver", ErrValidation)
		}
		d, a := *driverID, *driverID
		t.DriverID = &d
		t.AssignedDriverID = &a
		t.AcceptedAt = &at
	case StatusInProgress:
		t.PickedUpAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.DriverID = nil
		t.CancelledAt = &at
	case StatusNoDriverFound:
		t.DriverID = nil
		t.ExpiredAt = &at
	}
	t.Status = to
	return nil
}

// Clone returns a deep copy so callers never share pointers with a store.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	c.DriverID = clonePtr(t.DriverID)
	c.AssignedDriverID = clonePtr(t.AssignedDriverID)
	c.RatingDriver = clonePtr(t.RatingDriver)
	c.RatingTrip = clonePtr(t.RatingTrip)
	c.RatingComment = clonePtr(t.RatingComment)
	c.CancelledBy = clonePtr(t.CancelledBy)
	c.CancelReason = clonePtr(t.CancelReason)
	c.AcceptedAt = clonePtr(t.AcceptedAt)
	c.PickedUpAt = clonePtr(t.PickedUpAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.CancelledAt = clonePtr(t.CancelledAt)
	c.ExpiredAt = clonePtr(t.ExpiredAt)
	if t.Path != nil {
		c.Path = append([]types.Point(nil), t.Path...)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
