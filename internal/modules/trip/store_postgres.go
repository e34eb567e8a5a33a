// README: Trip store backed by PostgreSQL with an optimistic status_version lock.
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

const uniqueViolation = "23505"

const tripColumns = `
    id, rider_id, driver_id, assigned_driver_id,
    pickup_lat, pickup_lng, pickup_address,
    dropoff_lat, dropoff_lng, dropoff_address,
    vehicle_class, fare, currency, distance_meters, duration_seconds, path,
    status, status_version, payment_method, payment_status,
    rating_driver, rating_trip, rating_comment, cancelled_by, cancel_reason,
    created_at, accepted_at, picked_up_at, completed_at, cancelled_at, expired_at`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, t *Trip) error {
	path, err := marshalPath(t.Path)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO trips (`+tripColumns+`) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
            $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
            $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
            $31
        )`,
		string(t.ID), string(t.RiderID), idPtr(t.DriverID), idPtr(t.AssignedDriverID),
		t.Pickup.Lat, t.Pickup.Lng, t.Pickup.Address,
		t.Dropoff.Lat, t.Dropoff.Lng, t.Dropoff.Address,
		t.VehicleClass, t.Fare.Amount, t.Fare.Currency, t.DistanceMeters, t.DurationSeconds, path,
		string(t.Status), t.Version, t.PaymentMethod, string(t.PaymentStatus),
		t.RatingDriver, t.RatingTrip, t.RatingComment, idPtr(t.CancelledBy), t.CancelReason,
		t.CreatedAt, t.AcceptedAt, t.PickedUpAt, t.CompletedAt, t.CancelledAt, t.ExpiredAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: rider already has an active trip", ErrStateConflict)
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) Update(ctx context.Context, id types.ID, mutate Mutator) (*Trip, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1

	tag, err := s.db.Exec(ctx, `
        UPDATE trips
        SET driver_id = $1,
            assigned_driver_id = $2,
            status = $3,
            status_version = $4,
            payment_status = $5,
            rating_driver = $6,
            rating_trip = $7,
            rating_comment = $8,
            cancelled_by = $9,
            cancel_reason = $10,
            accepted_at = $11,
            picked_up_at = $12,
            completed_at = $13,
            cancelled_at = $14,
            expired_at = $15
        WHERE id = $16 AND status_version = $17`,
		idPtr(next.DriverID), idPtr(next.AssignedDriverID),
		string(next.Status),
		next.Version,
		string(next.PaymentStatus),
		next.RatingDriver, next.RatingTrip, next.RatingComment,
		idPtr(next.CancelledBy), next.CancelReason,
		next.AcceptedAt, next.PickedUpAt, next.CompletedAt, next.CancelledAt, next.ExpiredAt,
		string(id), cur.Version,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: trip %s changed concurrently", ErrStateConflict, id)
	}
	return next, nil
}

func (s *PostgresStore) ActiveFor(ctx context.Context, userID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+tripColumns+` FROM trips
        WHERE (rider_id = $1 OR driver_id = $1)
          AND status IN ('REQUESTED', 'ACCEPTED', 'IN_PROGRESS')
        ORDER BY created_at DESC
        LIMIT 1`, string(userID),
	)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]*Trip, error) {
	return s.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID types.ID) ([]*Trip, error) {
	return s.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE rider_id = $1 OR assigned_driver_id = $1 ORDER BY created_at DESC`, string(userID))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var driverID, assignedDriverID, cancelledBy *string
	var status, paymentStatus string
	var path []byte

	err := row.Scan(
		&t.ID, &t.RiderID, &driverID, &assignedDriverID,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Pickup.Address,
		&t.Dropoff.Lat, &t.Dropoff.Lng, &t.Dropoff.Address,
		&t.VehicleClass, &t.Fare.Amount, &t.Fare.Currency, &t.DistanceMeters, &t.DurationSeconds, &path,
		&status, &t.Version, &t.PaymentMethod, &paymentStatus,
		&t.RatingDriver, &t.RatingTrip, &t.RatingComment, &cancelledBy, &t.CancelReason,
		&t.CreatedAt, &t.AcceptedAt, &t.PickedUpAt, &t.CompletedAt, &t.CancelledAt, &t.ExpiredAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.PaymentStatus = PaymentStatus(paymentStatus)
	t.DriverID = toIDPtr(driverID)
	t.AssignedDriverID = toIDPtr(assignedDriverID)
	t.CancelledBy = toIDPtr(cancelledBy)
	if len(path) > 0 {
		if err := json.Unmarshal(path, &t.Path); err != nil {
			return nil, fmt.Errorf("decode trip path: %w", err)
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func marshalPath(path []types.Point) ([]byte, error) {
	if len(path) == 0 {
		return nil, nil
	}
	return json.Marshal(path)
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
