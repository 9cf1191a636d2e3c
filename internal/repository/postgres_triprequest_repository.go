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

// PostgresTripRequestRepository is the durable TripRequestRepository.
// Optimistic concurrency is expressed in SQL: updates carry
// `WHERE version = $expected` and increment the version in the same
// statement, so the compare-and-set is atomic at the row level.
type PostgresTripRequestRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTripRequestRepository creates a new repository.
func NewPostgresTripRequestRepository(pool *pgxpool.Pool) *PostgresTripRequestRepository {
	return &PostgresTripRequestRepository{pool: pool}
}

const tripRequestColumns = `
	id, passenger_id,
	origin_lat, origin_lon, dest_lat, dest_lon,
	status, version, created_at, updated_at`

func scanTripRequest(row pgx.Row) (*model.TripRequest, error) {
	tr := &model.TripRequest{}
	err := row.Scan(
		&tr.ID, &tr.PassengerID,
		&tr.Origin.Lat, &tr.Origin.Lon,
		&tr.Destination.Lat, &tr.Destination.Lon,
		&tr.Status, &tr.Version, &tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// CreateOpen inserts a new OPEN request, or returns the passenger's
// existing OPEN request unchanged.
//
// Concurrency: the passenger's OPEN row, if any, is locked FOR UPDATE
// inside the transaction, so two concurrent creates for the same passenger
// serialize and exactly one row is inserted.
func (r *PostgresTripRequestRepository) CreateOpen(ctx context.Context, req *model.TripRequest) (*model.TripRequest, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("create trip request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanTripRequest(tx.QueryRow(ctx, `
		SELECT `+tripRequestColumns+`
		FROM trip_requests
		WHERE passenger_id = $1 AND status = 'OPEN'
		FOR UPDATE
	`, req.PassengerID))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("create trip request: commit: %w", err)
		}
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create trip request: lookup open: %w", err)
	}

	created, err := scanTripRequest(tx.QueryRow(ctx, `
		INSERT INTO trip_requests (
			id, passenger_id,
			origin_lat, origin_lon, dest_lat, dest_lon,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'OPEN', 1, now(), now())
		RETURNING `+tripRequestColumns,
		req.ID, req.PassengerID,
		req.Origin.Lat, req.Origin.Lon,
		req.Destination.Lat, req.Destination.Lon,
	))
	if err != nil {
		return nil, false, fmt.Errorf("create trip request: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("create trip request: commit: %w", err)
	}
	return created, true, nil
}

// Get fetches a request by id.
func (r *PostgresTripRequestRepository) Get(ctx context.Context, id string) (*model.TripRequest, error) {
	tr, err := scanTripRequest(r.pool.QueryRow(ctx, `
		SELECT `+tripRequestColumns+`
		FROM trip_requests WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "trip request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip request %s: %w", id, err)
	}
	return tr, nil
}

// UpdateStatus performs the compare-and-set transition in a single UPDATE.
func (r *PostgresTripRequestRepository) UpdateStatus(ctx context.Context, id string, status model.TripRequestStatus, expectedVersion int64) (*model.TripRequest, error) {
	tr, err := scanTripRequest(r.pool.QueryRow(ctx, `
		UPDATE trip_requests
		SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3
		RETURNING `+tripRequestColumns,
		id, status, expectedVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Disambiguate missing row from stale version.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, errs.Newf(errs.KindVersionConflict,
			"trip request %s: version %d is stale", id, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("update trip request %s: %w", id, err)
	}
	return tr, nil
}
