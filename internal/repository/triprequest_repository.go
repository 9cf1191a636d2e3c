package repository

import (
	"context"
	"sync"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

// MemoryTripRequestRepository is the in-memory TripRequestRepository.
//
// Concurrency model: the RWMutex guards bare map access only. The
// check-then-insert of CreateOpen serializes per passenger on a lock
// stripe, and UpdateStatus serializes per request id the same way, so
// the at-most-one-OPEN-per-passenger invariant holds without writers on
// different entities blocking each other.
type MemoryTripRequestRepository struct {
	mu     sync.RWMutex
	byID   map[string]model.TripRequest
	openBy map[string]string // passenger_id → id of the OPEN request

	passengerLocks stripes
	requestLocks   stripes
}

// NewMemoryTripRequestRepository creates an empty store.
func NewMemoryTripRequestRepository() *MemoryTripRequestRepository {
	return &MemoryTripRequestRepository{
		byID:   make(map[string]model.TripRequest),
		openBy: make(map[string]string),
	}
}

// CreateOpen inserts req as the passenger's OPEN request, or returns the
// existing OPEN request unchanged.
func (r *MemoryTripRequestRepository) CreateOpen(ctx context.Context, req *model.TripRequest) (*model.TripRequest, bool, error) {
	lock := r.passengerLocks.forKey(req.PassengerID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	openID, open := r.openBy[req.PassengerID]
	existing := r.byID[openID]
	r.mu.RUnlock()
	if open {
		return &existing, false, nil
	}

	stored := *req
	stored.Status = model.RequestOpen
	stored.Version = 1
	ts := now().UTC()
	stored.CreatedAt = ts
	stored.UpdatedAt = ts

	r.mu.Lock()
	r.byID[stored.ID] = stored
	r.openBy[stored.PassengerID] = stored.ID
	r.mu.Unlock()

	out := stored
	return &out, true, nil
}

// Get fetches a request by id.
func (r *MemoryTripRequestRepository) Get(ctx context.Context, id string) (*model.TripRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.byID[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "trip request %s not found", id)
	}
	out := req
	return &out, nil
}

// UpdateStatus performs the compare-and-set transition and maintains the
// open-request index.
func (r *MemoryTripRequestRepository) UpdateStatus(ctx context.Context, id string, status model.TripRequestStatus, expectedVersion int64) (*model.TripRequest, error) {
	lock := r.requestLocks.forKey(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	req, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "trip request %s not found", id)
	}
	if req.Version != expectedVersion {
		return nil, errs.Newf(errs.KindVersionConflict,
			"trip request %s: expected version %d, have %d", id, expectedVersion, req.Version)
	}

	wasOpen := req.Status == model.RequestOpen
	req.Status = status
	req.Version++
	req.UpdatedAt = now().UTC()

	r.mu.Lock()
	if wasOpen && status != model.RequestOpen {
		delete(r.openBy, req.PassengerID)
	}
	r.byID[id] = req
	r.mu.Unlock()

	out := req
	return &out, nil
}
