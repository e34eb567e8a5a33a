// README: Driver store backed by PostgreSQL with an optimistic version column.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

// updateAttempts bounds how often Update re-reads after losing a version race.
const updateAttempts = 3

const driverColumns = `
    id, vehicle_class, vehicle_plate, vehicle_color, vehicle_model,
    status, location_lat, location_lng, location_updated_at,
    rating, rating_count, trip_count, version, created_at`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, d *Driver) error {
	v := vehicleColumns(d.Vehicle)
	lat, lng := pointColumns(d.CurrentLocation)
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (`+driverColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(d.ID), v[0], v[1], v[2], v[3],
		string(d.Status), lat, lng, d.LocationUpdatedAt,
		d.Rating, d.RatingCount, d.TripCount, d.Version, d.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) Update(ctx context.Context, id types.ID, mutate Mutator) (*Driver, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.Version = cur.Version + 1

		v := vehicleColumns(next.Vehicle)
		lat, lng := pointColumns(next.CurrentLocation)
		tag, err := s.db.Exec(ctx, `
            UPDATE drivers SET
                vehicle_class = $1, vehicle_plate = $2, vehicle_color = $3, vehicle_model = $4,
                status = $5, location_lat = $6, location_lng = $7, location_updated_at = $8,
                rating = $9, rating_count = $10, trip_count = $11, version = $12
            WHERE id = $13 AND version = $14`,
			v[0], v[1], v[2], v[3],
			string(next.Status), lat, lng, next.LocationUpdatedAt,
			next.Rating, next.RatingCount, next.TripCount, next.Version,
			string(id), cur.Version,
		)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var (
		d                          Driver
		id, status                 string
		class, plate, color, model *string
		lat, lng                   *float64
		locAt                      *time.Time
	)
	if err := row.Scan(
		&id, &class, &plate, &color, &model,
		&status, &lat, &lng, &locAt,
		&d.Rating, &d.RatingCount, &d.TripCount, &d.Version, &d.CreatedAt,
	); err != nil {
		return nil, err
	}
	d.ID = types.ID(id)
	d.Status = Status(status)
	if class != nil {
		d.Vehicle = &Vehicle{Class: *class, Plate: deref(plate), Color: deref(color), Model: deref(model)}
	}
	if lat != nil && lng != nil {
		d.CurrentLocation = &types.Point{Lat: *lat, Lng: *lng}
	}
	d.LocationUpdatedAt = locAt
	return &d, nil
}

func vehicleColumns(v *Vehicle) [4]*string {
	if v == nil {
		return [4]*string{}
	}
	return [4]*string{&v.Class, &v.Plate, &v.Color, &v.Model}
}

func pointColumns(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Lat, &p.Lng
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
