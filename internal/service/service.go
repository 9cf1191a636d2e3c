// Package service contains the five RPC services of the control plane.
// Each service is expressed as a small interface plus its in-process
// implementation; the HTTP clients in internal/client satisfy the same
// interfaces, so the workflow orchestrator works identically against
// co-located services and remote ones.
package service

import (
	"context"

	"github.com/shiva/dgdo/internal/model"
)

// PriceCalculator is the pricing service contract.
type PriceCalculator interface {
	CalculatePrice(ctx context.Context, req *model.PriceRequest) (*model.PriceResponse, error)
}

// CandidateFinder is the matching service contract.
type CandidateFinder interface {
	GetCandidates(ctx context.Context, req *model.CandidateRequest) (*model.CandidateResponse, error)
}

// TripRequests is the trip request service contract.
type TripRequests interface {
	CreateTripRequest(ctx context.Context, passengerID string, origin, destination model.Location) (*model.TripRequest, error)
	CancelTripRequest(ctx context.Context, requestID string, expectedVersion int64) (*model.TripRequest, error)
	GetTripRequest(ctx context.Context, requestID string) (*model.TripRequest, error)
}

// Trips is the trip service contract.
type Trips interface {
	CreateTrip(ctx context.Context, cmd *CreateTripCommand) (*model.Trip, error)
	UpdateTripStatus(ctx context.Context, tripID string, newStatus model.TripStatus, expectedVersion int64) (*model.Trip, error)
	CancelTrip(ctx context.Context, tripID string, reason model.TripStatus, expectedVersion int64) (*model.Trip, error)
	GetTripByID(ctx context.Context, tripID string) (*model.Trip, error)
	GetTripByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error)
}

// DriverStatuses is the driver status service contract.
type DriverStatuses interface {
	UpdateDriverStatus(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error)
	GetDriverStatus(ctx context.Context, driverID string) (*model.DriverStatus, error)
}

// CreateTripCommand carries everything needed to commit a trip.
type CreateTripCommand struct {
	TripRequestID string         `json:"trip_request_id"`
	PassengerID   string         `json:"passenger_id"`
	DriverID      string         `json:"driver_id"`
	Origin        model.Location `json:"origin"`
	Destination   model.Location `json:"destination"`

	// Pricing inputs, threaded through from the orchestrator so the trip
	// service prices with the same parameters the guardrail saw.
	EstimatedDistanceMeters  float64 `json:"estimated_distance_meters"`
	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds"`
	DemandMultiplier         float64 `json:"demand_multiplier"`
	SupplyMultiplier         float64 `json:"supply_multiplier"`
	DriverAcceptanceRate     float64 `json:"driver_acceptance_rate"`
	DriverRating             float64 `json:"driver_rating"`
	PricingSeed              int64   `json:"pricing_seed"`
	Zone                     string  `json:"zone,omitempty"`
}
