package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
)

// TripRequestService owns the TripRequest entity. Creation is idempotent
// per passenger: as long as a passenger has an OPEN request, creating
// again returns that request unchanged.
type TripRequestService struct {
	repo repository.TripRequestRepository
	log  *logrus.Entry
}

// NewTripRequestService creates the service over the given store.
func NewTripRequestService(repo repository.TripRequestRepository, log *logrus.Entry) *TripRequestService {
	return &TripRequestService{repo: repo, log: log}
}

// CreateTripRequest opens a request for the passenger, or returns the
// passenger's existing OPEN request.
func (s *TripRequestService) CreateTripRequest(ctx context.Context, passengerID string, origin, destination model.Location) (*model.TripRequest, error) {
	if passengerID == "" {
		return nil, errs.InvalidArgument("passenger_id is required")
	}
	if !origin.Valid() || !destination.Valid() {
		return nil, errs.InvalidArgument("origin and destination must be finite coordinates")
	}

	req := &model.TripRequest{
		ID:          uuid.NewString(),
		PassengerID: passengerID,
		Origin:      origin,
		Destination: destination,
	}

	out, created, err := s.repo.CreateOpen(ctx, req)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id":   out.ID,
		"passenger_id": passengerID,
		"created":      created,
	}).Info("trip request")
	return out, nil
}

// CancelTripRequest transitions OPEN→CANCELLED under the version check.
// Terminal requests reject further mutation.
func (s *TripRequestService) CancelTripRequest(ctx context.Context, requestID string, expectedVersion int64) (*model.TripRequest, error) {
	if requestID == "" {
		return nil, errs.InvalidArgument("request_id is required")
	}

	current, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.RequestOpen {
		return nil, errs.Newf(errs.KindIllegalTransition,
			"trip request %s is %s, only OPEN requests can be cancelled", requestID, current.Status)
	}

	out, err := s.repo.UpdateStatus(ctx, requestID, model.RequestCancelled, expectedVersion)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"version":    out.Version,
	}).Info("trip request cancelled")
	return out, nil
}

// GetTripRequest fetches a request by id.
func (s *TripRequestService) GetTripRequest(ctx context.Context, requestID string) (*model.TripRequest, error) {
	if requestID == "" {
		return nil, errs.InvalidArgument("request_id is required")
	}
	return s.repo.Get(ctx, requestID)
}

// FulfillTripRequest marks an OPEN request FULFILLED when a trip commits
// against it. Called by the TripService; a request that is no longer OPEN
// is left alone (the trip either already fulfilled it or the caller raced
// a cancel, which the trip creation's own checks surface).
func (s *TripRequestService) FulfillTripRequest(ctx context.Context, requestID string) error {
	current, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status != model.RequestOpen {
		return nil
	}
	_, err = s.repo.UpdateStatus(ctx, requestID, model.RequestFulfilled, current.Version)
	return err
}
