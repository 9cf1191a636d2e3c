// Package repository contains the versioned entity stores. Every store
// offers atomic compare-and-set on the entity's version field; the default
// implementation is in-memory with striped per-key locks, and a
// PostgreSQL-backed variant implements the same interfaces.
package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shiva/dgdo/internal/model"
)

// ─── Store interfaces ───────────────────────────────────────

// TripRequestRepository stores passenger trip requests.
type TripRequestRepository interface {
	// CreateOpen inserts a new OPEN request unless the passenger already
	// has one, in which case the existing request is returned unchanged
	// and created is false.
	CreateOpen(ctx context.Context, req *model.TripRequest) (out *model.TripRequest, created bool, err error)

	// Get fetches a request by id.
	Get(ctx context.Context, id string) (*model.TripRequest, error)

	// UpdateStatus performs a compare-and-set transition: the write
	// succeeds only if the stored version equals expectedVersion, and
	// increments the version.
	UpdateStatus(ctx context.Context, id string, status model.TripRequestStatus, expectedVersion int64) (*model.TripRequest, error)
}

// TripRepository stores committed trips.
type TripRepository interface {
	// Create inserts the trip unless one already exists for its
	// trip_request_id, in which case the existing trip is returned and
	// created is false.
	Create(ctx context.Context, trip *model.Trip) (out *model.Trip, created bool, err error)

	// Get fetches a trip by id.
	Get(ctx context.Context, id string) (*model.Trip, error)

	// GetByRequestID fetches the trip committed for a trip request.
	GetByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error)

	// UpdateStatus performs a compare-and-set status write, incrementing
	// the version.
	UpdateStatus(ctx context.Context, id string, status model.TripStatus, expectedVersion int64) (*model.Trip, error)
}

// DriverRepository stores driver availability records.
type DriverRepository interface {
	// Upsert registers or replaces a driver record (onboarding path, not
	// version-checked).
	Upsert(ctx context.Context, ds *model.DriverStatus) error

	// Get fetches a driver record by id.
	Get(ctx context.Context, driverID string) (*model.DriverStatus, error)

	// Update sets availability under optimistic concurrency. A repeated
	// idempotencyKey replays the stored state without mutation.
	Update(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error)

	// ListAvailable returns every driver currently marked available,
	// ordered by driver id.
	ListAvailable(ctx context.Context) ([]model.DriverStatus, error)
}

// ─── Striped locks ──────────────────────────────────────────

// stripeCount is the number of lock stripes per store. Mutations to one
// entity always serialize on the same stripe; there is no global lock.
const stripeCount = 64

type stripes struct {
	mu [stripeCount]sync.Mutex
}

// forKey returns the stripe owning the given key.
func (s *stripes) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.mu[h.Sum32()%stripeCount]
}

// now is indirected for tests.
var now = time.Now
