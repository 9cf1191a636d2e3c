package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

// MemoryDriverRepository is the in-memory DriverRepository. Availability
// writes are compare-and-set on the version field; a repeated idempotency
// key is a no-op that replays the current state. The RWMutex guards bare
// map access only; per-driver check-then-write serializes on the stripes.
type MemoryDriverRepository struct {
	mu   sync.RWMutex
	byID map[string]model.DriverStatus

	driverLocks stripes
}

// NewMemoryDriverRepository creates an empty store.
func NewMemoryDriverRepository() *MemoryDriverRepository {
	return &MemoryDriverRepository{
		byID: make(map[string]model.DriverStatus),
	}
}

// Upsert registers or replaces a driver record. Version starts at 1 for
// new drivers and is preserved for existing ones.
func (r *MemoryDriverRepository) Upsert(ctx context.Context, ds *model.DriverStatus) error {
	lock := r.driverLocks.forKey(ds.DriverID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	existing, ok := r.byID[ds.DriverID]
	r.mu.RUnlock()

	stored := *ds
	if ok {
		stored.Version = existing.Version
		stored.LastIdempotencyKey = existing.LastIdempotencyKey
	} else if stored.Version < 1 {
		stored.Version = 1
	}
	stored.UpdatedAt = now().UTC()

	r.mu.Lock()
	r.byID[stored.DriverID] = stored
	r.mu.Unlock()
	return nil
}

// Get fetches a driver record by id.
func (r *MemoryDriverRepository) Get(ctx context.Context, driverID string) (*model.DriverStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.byID[driverID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "driver %s not found", driverID)
	}
	out := ds
	return &out, nil
}

// Update sets availability under optimistic concurrency.
func (r *MemoryDriverRepository) Update(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error) {
	lock := r.driverLocks.forKey(driverID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	ds, ok := r.byID[driverID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "driver %s not found", driverID)
	}

	// Replay: a duplicate key returns the state the first application left
	// behind, without mutating anything.
	if idempotencyKey != "" && ds.LastIdempotencyKey == idempotencyKey {
		out := ds
		return &out, nil
	}

	if ds.Version != expectedVersion {
		return nil, errs.Newf(errs.KindVersionConflict,
			"driver %s: expected version %d, have %d", driverID, expectedVersion, ds.Version)
	}

	ds.Available = available
	ds.Version++
	ds.LastIdempotencyKey = idempotencyKey
	ds.UpdatedAt = now().UTC()

	r.mu.Lock()
	r.byID[driverID] = ds
	r.mu.Unlock()

	out := ds
	return &out, nil
}

// ListAvailable returns every available driver ordered by driver id, which
// gives the matching service a stable pool to rank.
func (r *MemoryDriverRepository) ListAvailable(ctx context.Context) ([]model.DriverStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.DriverStatus, 0, len(r.byID))
	for _, ds := range r.byID {
		if ds.Available {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}
