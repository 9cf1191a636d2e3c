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

// PostgresDriverRepository is the durable DriverRepository. The idempotency
// replay check and the version CAS happen inside one transaction with the
// driver row locked FOR UPDATE.
type PostgresDriverRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDriverRepository creates a new repository.
func NewPostgresDriverRepository(pool *pgxpool.Pool) *PostgresDriverRepository {
	return &PostgresDriverRepository{pool: pool}
}

const driverColumns = `
	driver_id, available, version, COALESCE(last_idempotency_key, ''),
	lat, lon, rating, acceptance_rate, updated_at`

func scanDriver(row pgx.Row) (*model.DriverStatus, error) {
	ds := &model.DriverStatus{}
	err := row.Scan(
		&ds.DriverID, &ds.Available, &ds.Version, &ds.LastIdempotencyKey,
		&ds.Location.Lat, &ds.Location.Lon,
		&ds.Rating, &ds.AcceptanceRate, &ds.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// Upsert registers or replaces a driver record, preserving the version and
// last idempotency key of an existing row.
func (r *PostgresDriverRepository) Upsert(ctx context.Context, ds *model.DriverStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO drivers (
			driver_id, available, version, last_idempotency_key,
			lat, lon, rating, acceptance_rate, updated_at
		) VALUES ($1, $2, GREATEST($3, 1), NULL, $4, $5, $6, $7, now())
		ON CONFLICT (driver_id) DO UPDATE SET
			available = EXCLUDED.available,
			lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			rating = EXCLUDED.rating,
			acceptance_rate = EXCLUDED.acceptance_rate,
			updated_at = now()
	`,
		ds.DriverID, ds.Available, ds.Version,
		ds.Location.Lat, ds.Location.Lon, ds.Rating, ds.AcceptanceRate,
	)
	if err != nil {
		return fmt.Errorf("upsert driver %s: %w", ds.DriverID, err)
	}
	return nil
}

// Get fetches a driver record by id.
func (r *PostgresDriverRepository) Get(ctx context.Context, driverID string) (*model.DriverStatus, error) {
	ds, err := scanDriver(r.pool.QueryRow(ctx, `
		SELECT `+driverColumns+` FROM drivers WHERE driver_id = $1
	`, driverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "driver %s not found", driverID)
	}
	if err != nil {
		return nil, fmt.Errorf("get driver %s: %w", driverID, err)
	}
	return ds, nil
}

// Update sets availability under optimistic concurrency with idempotency
// replay.
func (r *PostgresDriverRepository) Update(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("update driver: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ds, err := scanDriver(tx.QueryRow(ctx, `
		SELECT `+driverColumns+` FROM drivers WHERE driver_id = $1 FOR UPDATE
	`, driverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "driver %s not found", driverID)
	}
	if err != nil {
		return nil, fmt.Errorf("update driver %s: lock row: %w", driverID, err)
	}

	if idempotencyKey != "" && ds.LastIdempotencyKey == idempotencyKey {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("update driver %s: commit: %w", driverID, err)
		}
		return ds, nil
	}

	if ds.Version != expectedVersion {
		return nil, errs.Newf(errs.KindVersionConflict,
			"driver %s: expected version %d, have %d", driverID, expectedVersion, ds.Version)
	}

	updated, err := scanDriver(tx.QueryRow(ctx, `
		UPDATE drivers
		SET available = $2, version = version + 1,
		    last_idempotency_key = $3, updated_at = now()
		WHERE driver_id = $1
		RETURNING `+driverColumns,
		driverID, available, idempotencyKey,
	))
	if err != nil {
		return nil, fmt.Errorf("update driver %s: %w", driverID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update driver %s: commit: %w", driverID, err)
	}
	return updated, nil
}

// ListAvailable returns every available driver ordered by driver id.
func (r *PostgresDriverRepository) ListAvailable(ctx context.Context) ([]model.DriverStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+driverColumns+`
		FROM drivers
		WHERE available
		ORDER BY driver_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list available drivers: %w", err)
	}
	defer rows.Close()

	var out []model.DriverStatus
	for rows.Next() {
		ds, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}
