package repository

import (
	"context"
	"sync"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

// MemoryTripRepository is the in-memory TripRepository. One trip per
// trip_request_id is enforced at insert time; status writes are
// compare-and-set on the version field. The RWMutex guards bare map
// access only; check-then-write sequences serialize on the lock stripes.
type MemoryTripRepository struct {
	mu        sync.RWMutex
	byID      map[string]model.Trip
	byRequest map[string]string // trip_request_id → trip id

	requestLocks stripes
	tripLocks    stripes
}

// NewMemoryTripRepository creates an empty store.
func NewMemoryTripRepository() *MemoryTripRepository {
	return &MemoryTripRepository{
		byID:      make(map[string]model.Trip),
		byRequest: make(map[string]string),
	}
}

// Create inserts the trip, or returns the already-committed trip for the
// same trip request.
func (r *MemoryTripRepository) Create(ctx context.Context, trip *model.Trip) (*model.Trip, bool, error) {
	lock := r.requestLocks.forKey(trip.TripRequestID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	tripID, committed := r.byRequest[trip.TripRequestID]
	existing := r.byID[tripID]
	r.mu.RUnlock()
	if committed {
		return &existing, false, nil
	}

	stored := *trip
	stored.Status = model.TripAccepted
	stored.Version = 1
	ts := now().UTC()
	stored.CreatedAt = ts
	stored.UpdatedAt = ts

	r.mu.Lock()
	r.byID[stored.ID] = stored
	r.byRequest[stored.TripRequestID] = stored.ID
	r.mu.Unlock()

	out := stored
	return &out, true, nil
}

// Get fetches a trip by id.
func (r *MemoryTripRepository) Get(ctx context.Context, id string) (*model.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trip, ok := r.byID[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "trip %s not found", id)
	}
	out := trip
	return &out, nil
}

// GetByRequestID fetches the trip committed for a trip request.
func (r *MemoryTripRepository) GetByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tripID, ok := r.byRequest[tripRequestID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "no trip for request %s", tripRequestID)
	}
	trip := r.byID[tripID]
	out := trip
	return &out, nil
}

// UpdateStatus performs the compare-and-set status write. FSM legality is
// the TripService's concern; a concurrent transition is caught here by the
// version check.
func (r *MemoryTripRepository) UpdateStatus(ctx context.Context, id string, status model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	lock := r.tripLocks.forKey(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	trip, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "trip %s not found", id)
	}
	if trip.Version != expectedVersion {
		return nil, errs.Newf(errs.KindVersionConflict,
			"trip %s: expected version %d, have %d", id, expectedVersion, trip.Version)
	}

	trip.Status = status
	trip.Version++
	trip.UpdatedAt = now().UTC()

	r.mu.Lock()
	r.byID[id] = trip
	r.mu.Unlock()

	out := trip
	return &out, nil
}
