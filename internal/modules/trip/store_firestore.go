// README: Trip store backed by Cloud Firestore documents.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridecore/internal/types"
)

const (
	tripsCollection = "trips"
	// activeRiderCollection holds one pointer document per rider naming its latest trip.
	// Create checks it inside a transaction so two concurrent requests cannot both succeed.
	activeRiderCollection = "activeRiderTrips"
)

type tripDoc struct {
	RiderID          string         `firestore:"riderId"`
	DriverID         *string        `firestore:"driverId"`
	AssignedDriverID *string        `firestore:"assignedDriverId"`
	Pickup           types.Location `firestore:"pickupLocation"`
	Dropoff          types.Location `firestore:"dropoffLocation"`
	VehicleClass     string         `firestore:"vehicleClass"`
	Fare             int64          `firestore:"fare"`
	Currency         string         `firestore:"currency"`
	DistanceMeters   int64          `firestore:"distanceMeters"`
	DurationSeconds  int64          `firestore:"durationSeconds"`
	Path             []types.Point  `firestore:"path"`
	Status           string         `firestore:"status"`
	Version          int            `firestore:"version"`
	PaymentMethod    string         `firestore:"paymentMethod"`
	PaymentStatus    string         `firestore:"paymentStatus"`
	RatingDriver     *int           `firestore:"ratingDriver"`
	RatingTrip       *int           `firestore:"ratingTrip"`
	RatingComment    *string        `firestore:"ratingComment"`
	CancelledBy      *string        `firestore:"cancelledBy"`
	CancelReason     *string        `firestore:"cancelReason"`
	CreatedAt        time.Time      `firestore:"createdAt"`
	AcceptedAt       *time.Time     `firestore:"acceptedAt"`
	PickedUpAt       *time.Time     `firestore:"pickedUpAt"`
	CompletedAt      *time.Time     `firestore:"completedAt"`
	CancelledAt      *time.Time     `firestore:"cancelledAt"`
	ExpiredAt        *time.Time     `firestore:"expiredAt"`
}

type activeRiderDoc struct {
	TripID string `firestore:"tripId"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) trips() *firestore.CollectionRef {
	return s.client.Collection(tripsCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, t *Trip) error {
	tripRef := s.trips().Doc(string(t.ID))
	lockRef := s.client.Collection(activeRiderCollection).Doc(string(t.RiderID))
	doc := toDoc(t)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		lockSnap, err := tx.Get(lockRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && lockSnap.Exists() {
			var lock activeRiderDoc
			if err := lockSnap.DataTo(&lock); err != nil {
				return err
			}
			active, err := s.isActive(tx, lock.TripID)
			if err != nil {
				return err
			}
			if active {
				return fmt.Errorf("%w: rider already has an active trip", ErrStateConflict)
			}
		}
		if err := tx.Create(tripRef, doc); err != nil {
			return err
		}
		return tx.Set(lockRef, activeRiderDoc{TripID: string(t.ID)})
	})
}

func (s *FirestoreStore) isActive(tx *firestore.Transaction, tripID string) (bool, error) {
	if tripID == "" {
		return false, nil
	}
	snap, err := tx.Get(s.trips().Doc(tripID))
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var d tripDoc
	if err := snap.DataTo(&d); err != nil {
		return false, err
	}
	return !Status(d.Status).Terminal(), nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	snap, err := s.trips().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSnapshot(snap)
}

// Update runs the mutator inside a Firestore transaction; the SDK retries on contention,
// so the mutator re-validates against the freshest document on every attempt.
func (s *FirestoreStore) Update(ctx context.Context, id types.ID, mutate Mutator) (*Trip, error) {
	ref := s.trips().Doc(string(id))
	var out *Trip
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		out = next
		return tx.Set(ref, toDoc(next))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreStore) ActiveFor(ctx context.Context, userID types.ID) (*Trip, error) {
	active := make([]string, len(ActiveStatuses))
	for i, st := range ActiveStatuses {
		active[i] = string(st)
	}
	for _, field := range []string{"riderId", "driverId"} {
		q := s.trips().Where(field, "==", string(userID)).Where("status", "in", active).Limit(1)
		trips, err := s.query(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(trips) > 0 {
			return trips[0], nil
		}
	}
	return nil, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st Status) ([]*Trip, error) {
	trips, err := s.query(ctx, s.trips().Where("status", "==", string(st)))
	if err != nil {
		return nil, err
	}
	sortNewestFirst(trips)
	return trips, nil
}

func (s *FirestoreStore) ListForUser(ctx context.Context, userID types.ID) ([]*Trip, error) {
	seen := make(map[types.ID]bool)
	var out []*Trip
	for _, field := range []string{"riderId", "assignedDriverId"} {
		trips, err := s.query(ctx, s.trips().Where(field, "==", string(userID)))
		if err != nil {
			return nil, err
		}
		for _, t := range trips {
			if !seen[t.ID] {
				seen[t.ID] = true
				out = append(out, t)
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *FirestoreStore) query(ctx context.Context, q firestore.Query) ([]*Trip, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*Trip
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*Trip, error) {
	var d tripDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode trip %s: %w", snap.Ref.ID, err)
	}
	return &Trip{
		ID:               types.ID(snap.Ref.ID),
		RiderID:          types.ID(d.RiderID),
		DriverID:         toIDPtr(d.DriverID),
		AssignedDriverID: toIDPtr(d.AssignedDriverID),
		Pickup:           d.Pickup,
		Dropoff:          d.Dropoff,
		VehicleClass:     d.VehicleClass,
		Fare:             types.Money{Amount: d.Fare, Currency: d.Currency},
		DistanceMeters:   d.DistanceMeters,
		DurationSeconds:  d.DurationSeconds,
		Path:             d.Path,
		Status:           Status(d.Status),
		Version:          d.Version,
		PaymentMethod:    d.PaymentMethod,
		PaymentStatus:    PaymentStatus(d.PaymentStatus),
		RatingDriver:     d.RatingDriver,
		RatingTrip:       d.RatingTrip,
		RatingComment:    d.RatingComment,
		CancelledBy:      toIDPtr(d.CancelledBy),
		CancelReason:     d.CancelReason,
		CreatedAt:        d.CreatedAt,
		AcceptedAt:       d.AcceptedAt,
		PickedUpAt:       d.PickedUpAt,
		CompletedAt:      d.CompletedAt,
		CancelledAt:      d.CancelledAt,
		ExpiredAt:        d.ExpiredAt,
	}, nil
}

func toDoc(t *Trip) tripDoc {
	return tripDoc{
		RiderID:          string(t.RiderID),
		DriverID:         idPtr(t.DriverID),
		AssignedDriverID: idPtr(t.AssignedDriverID),
		Pickup:           t.Pickup,
		Dropoff:          t.Dropoff,
		VehicleClass:     t.VehicleClass,
		Fare:             t.Fare.Amount,
		Currency:         t.Fare.Currency,
		DistanceMeters:   t.DistanceMeters,
		DurationSeconds:  t.DurationSeconds,
		Path:             t.Path,
		Status:           string(t.Status),
		Version:          t.Version,
		PaymentMethod:    t.PaymentMethod,
		PaymentStatus:    string(t.PaymentStatus),
		RatingDriver:     t.RatingDriver,
		RatingTrip:       t.RatingTrip,
		RatingComment:    t.RatingComment,
		CancelledBy:      idPtr(t.CancelledBy),
		CancelReason:     t.CancelReason,
		CreatedAt:        t.CreatedAt,
		AcceptedAt:       t.AcceptedAt,
		PickedUpAt:       t.PickedUpAt,
		CompletedAt:      t.CompletedAt,
		CancelledAt:      t.CancelledAt,
		ExpiredAt:        t.ExpiredAt,
	}
}
