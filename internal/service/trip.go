package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
)

// ─── FSM ────────────────────────────────────────────────────

// tripFSM lists the admissible transitions. Terminal states have no
// outgoing edges; the matrix is exactly this and must not be widened.
var tripFSM = map[model.TripStatus][]model.TripStatus{
	model.TripAccepted: {model.TripEnRoute, model.TripCancelled, model.TripCancelledByDriver},
	model.TripEnRoute:  {model.TripCompleted, model.TripCancelledByDriver},
}

func fsmAllows(from, to model.TripStatus) bool {
	for _, next := range tripFSM[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ─── TripService ────────────────────────────────────────────

// TripService owns the Trip entity and its state machine. Creation prices
// the trip synchronously; a pricing failure means no Trip exists at all.
type TripService struct {
	repo     repository.TripRepository
	pricing  PriceCalculator
	requests RequestFulfiller
	log      *logrus.Entry
}

// RequestFulfiller marks a trip request FULFILLED once a trip commits
// against it. Implemented by TripRequestService and its HTTP client.
type RequestFulfiller interface {
	FulfillTripRequest(ctx context.Context, requestID string) error
}

// NewTripService creates the service.
func NewTripService(repo repository.TripRepository, pricing PriceCalculator, requests RequestFulfiller, log *logrus.Entry) *TripService {
	return &TripService{repo: repo, pricing: pricing, requests: requests, log: log}
}

// CreateTrip commits a trip for a matched, priced request. Idempotent on
// trip_request_id: a second call returns the prior trip.
func (s *TripService) CreateTrip(ctx context.Context, cmd *CreateTripCommand) (*model.Trip, error) {
	switch {
	case cmd.TripRequestID == "":
		return nil, errs.InvalidArgument("trip_request_id is required")
	case cmd.PassengerID == "":
		return nil, errs.InvalidArgument("passenger_id is required")
	case cmd.DriverID == "":
		return nil, errs.InvalidArgument("driver_id is required")
	case !cmd.Origin.Valid() || !cmd.Destination.Valid():
		return nil, errs.InvalidArgument("origin and destination must be finite coordinates")
	}

	// Idempotency: one trip per request, ever.
	if existing, err := s.repo.GetByRequestID(ctx, cmd.TripRequestID); err == nil {
		return existing, nil
	} else if !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}

	// Price before committing anything. Any pricing refusal — transport,
	// guardrail, config — means the trip is not created.
	priceReq := &model.PriceRequest{
		TripRequestID:            cmd.TripRequestID,
		PassengerID:              cmd.PassengerID,
		MatchedDriverID:          cmd.DriverID,
		Origin:                   cmd.Origin,
		Destination:              cmd.Destination,
		EstimatedDistanceMeters:  cmd.EstimatedDistanceMeters,
		EstimatedDurationSeconds: cmd.EstimatedDurationSeconds,
		DemandMultiplier:         cmd.DemandMultiplier,
		SupplyMultiplier:         cmd.SupplyMultiplier,
		DriverAcceptanceRate:     cmd.DriverAcceptanceRate,
		DriverRating:             cmd.DriverRating,
		PricingSeed:              cmd.PricingSeed,
		Zone:                     cmd.Zone,
	}
	price, err := s.pricing.CalculatePrice(ctx, priceReq)
	if err != nil {
		return nil, errs.Wrap(errs.KindPricingRejected, "trip not created", err)
	}
	if price.DriverPayoutTotal <= 0 || price.PassengerFareTotal <= price.DriverPayoutTotal {
		return nil, errs.Newf(errs.KindPricingRejected,
			"trip pricing violates unit economics: fare %.2f, payout %.2f",
			price.PassengerFareTotal, price.DriverPayoutTotal)
	}

	trip := &model.Trip{
		ID:            uuid.NewString(),
		TripRequestID: cmd.TripRequestID,
		PassengerID:   cmd.PassengerID,
		DriverID:      cmd.DriverID,
		Origin:        cmd.Origin,
		Destination:   cmd.Destination,
	}

	out, created, err := s.repo.Create(ctx, trip)
	if err != nil {
		return nil, err
	}

	if created && s.requests != nil {
		// The request becomes immutable once a trip references it.
		if err := s.requests.FulfillTripRequest(ctx, cmd.TripRequestID); err != nil {
			s.log.WithError(err).WithField("request_id", cmd.TripRequestID).
				Warn("could not mark trip request fulfilled")
		}
	}

	s.log.WithFields(logrus.Fields{
		"trip_id":         out.ID,
		"trip_request_id": out.TripRequestID,
		"driver_id":       out.DriverID,
		"fare":            price.PassengerFareTotal,
		"calculation_id":  price.CalculationID,
		"created":         created,
	}).Info("trip")
	return out, nil
}

// UpdateTripStatus applies one FSM transition atomically: version check,
// FSM admissibility, then the compare-and-set write. A concurrent writer
// that slips between the read and the write is caught by the CAS.
func (s *TripService) UpdateTripStatus(ctx context.Context, tripID string, newStatus model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	if tripID == "" {
		return nil, errs.InvalidArgument("trip_id is required")
	}

	current, err := s.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errs.Newf(errs.KindVersionConflict,
			"trip %s: expected version %d, have %d", tripID, expectedVersion, current.Version)
	}
	if !fsmAllows(current.Status, newStatus) {
		return nil, errs.Newf(errs.KindIllegalTransition,
			"trip %s: %s → %s is not an admissible transition", tripID, current.Status, newStatus)
	}

	out, err := s.repo.UpdateStatus(ctx, tripID, newStatus, expectedVersion)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"trip_id": tripID,
		"status":  out.Status,
		"version": out.Version,
	}).Info("trip status updated")
	return out, nil
}

// CancelTrip cancels with the caller's reason. The reason is either
// CANCELLED or CANCELLED_BY_DRIVER and is applied through the same FSM
// discipline — from EN_ROUTE only the driver-initiated edge exists.
func (s *TripService) CancelTrip(ctx context.Context, tripID string, reason model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	if reason != model.TripCancelled && reason != model.TripCancelledByDriver {
		return nil, errs.InvalidArgument("cancel reason must be CANCELLED or CANCELLED_BY_DRIVER")
	}
	return s.UpdateTripStatus(ctx, tripID, reason, expectedVersion)
}

// GetTripByID fetches a trip by id.
func (s *TripService) GetTripByID(ctx context.Context, tripID string) (*model.Trip, error) {
	if tripID == "" {
		return nil, errs.InvalidArgument("trip_id is required")
	}
	return s.repo.Get(ctx, tripID)
}

// GetTripByRequestID fetches the trip committed for a trip request.
func (s *TripService) GetTripByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error) {
	if tripRequestID == "" {
		return nil, errs.InvalidArgument("trip_request_id is required")
	}
	return s.repo.GetByRequestID(ctx, tripRequestID)
}
