package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

// PostgresTripRepository is the durable TripRepository. The unique index
// on trip_request_id enforces one trip per request; status writes carry
// the version predicate.
type PostgresTripRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTripRepository creates a new repository.
func NewPostgresTripRepository(pool *pgxpool.Pool) *PostgresTripRepository {
	return &PostgresTripRepository{pool: pool}
}

const tripColumns = `
	id, trip_request_id, passenger_id, driver_id,
	origin_lat, origin_lon, dest_lat, dest_lon,
	status, version, created_at, updated_at`

func scanTrip(row pgx.Row) (*model.Trip, error) {
	t := &model.Trip{}
	err := row.Scan(
		&t.ID, &t.TripRequestID, &t.PassengerID, &t.DriverID,
		&t.Origin.Lat, &t.Origin.Lon,
		&t.Destination.Lat, &t.Destination.Lon,
		&t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts the trip; ON CONFLICT on trip_request_id makes the call
// idempotent — a losing concurrent insert reads back the committed trip.
func (r *PostgresTripRepository) Create(ctx context.Context, trip *model.Trip) (*model.Trip, bool, error) {
	created, err := scanTrip(r.pool.QueryRow(ctx, `
		INSERT INTO trips (
			id, trip_request_id, passenger_id, driver_id,
			origin_lat, origin_lon, dest_lat, dest_lon,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ACCEPTED', 1, now(), now())
		ON CONFLICT (trip_request_id) DO NOTHING
		RETURNING `+tripColumns,
		trip.ID, trip.TripRequestID, trip.PassengerID, trip.DriverID,
		trip.Origin.Lat, trip.Origin.Lon,
		trip.Destination.Lat, trip.Destination.Lon,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create trip: insert: %w", err)
	}

	existing, err := r.GetByRequestID(ctx, trip.TripRequestID)
	if err != nil {
		return nil, false, fmt.Errorf("create trip: read committed trip: %w", err)
	}
	return existing, false, nil
}

// Get fetches a trip by id.
func (r *PostgresTripRepository) Get(ctx context.Context, id string) (*model.Trip, error) {
	t, err := scanTrip(r.pool.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "trip %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %s: %w", id, err)
	}
	return t, nil
}

// GetByRequestID fetches the trip committed for a trip request.
func (r *PostgresTripRepository) GetByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error) {
	t, err := scanTrip(r.pool.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips WHERE trip_request_id = $1
	`, tripRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "no trip for request %s", tripRequestID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip by request %s: %w", tripRequestID, err)
	}
	return t, nil
}

// UpdateStatus performs the compare-and-set status write.
func (r *PostgresTripRepository) UpdateStatus(ctx context.Context, id string, status model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	t, err := scanTrip(r.pool.QueryRow(ctx, `
		UPDATE trips
		SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3
		RETURNING `+tripColumns,
		id, status, expectedVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, errs.Newf(errs.KindVersionConflict,
			"trip %s: version %d is stale", id, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("update trip %s: %w", id, err)
	}
	return t, nil
}
