// README: Driver store backed by Cloud Firestore documents.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridecore/internal/types"
)

const driversCollection = "drivers"

type driverDoc struct {
	Vehicle           *Vehicle     `firestore:"vehicle"`
	Status            string       `firestore:"status"`
	CurrentLocation   *types.Point `firestore:"currentLocation"`
	LocationUpdatedAt *time.Time   `firestore:"locationUpdatedAt"`
	Rating            float64      `firestore:"rating"`
	RatingCount       int          `firestore:"ratingCount"`
	TripCount         int          `firestore:"tripCount"`
	Version           int          `firestore:"version"`
	CreatedAt         time.Time    `firestore:"createdAt"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) doc(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(driversCollection).Doc(string(id))
}

func (s *FirestoreStore) Create(ctx context.Context, d *Driver) error {
	_, err := s.doc(d.ID).Create(ctx, toDoc(d))
	if status.Code(err) == codes.AlreadyExists {
		return ErrExists
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSnapshot(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id types.ID, mutate Mutator) (*Driver, error) {
	ref := s.doc(id)
	var out *Driver
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

func (s *FirestoreStore) ListByStatus(ctx context.Context, st Status) ([]*Driver, error) {
	iter := s.client.Collection(driversCollection).Where("status", "==", string(st)).Documents(ctx)
	defer iter.Stop()

	var out []*Driver
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		d, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*Driver, error) {
	var d driverDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", snap.Ref.ID, err)
	}
	return &Driver{
		ID:                types.ID(snap.Ref.ID),
		Vehicle:           d.Vehicle,
		Status:            Status(d.Status),
		CurrentLocation:   d.CurrentLocation,
		LocationUpdatedAt: d.LocationUpdatedAt,
		Rating:            d.Rating,
		RatingCount:       d.RatingCount,
		TripCount:         d.TripCount,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
	}, nil
}

func toDoc(d *Driver) driverDoc {
	return driverDoc{
		Vehicle:           d.Vehicle,
		Status:            string(d.Status),
		CurrentLocation:   d.CurrentLocation,
		LocationUpdatedAt: d.LocationUpdatedAt,
		Rating:            d.Rating,
		RatingCount:       d.RatingCount,
		TripCount:         d.TripCount,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
	}
}
