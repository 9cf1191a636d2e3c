// Package model contains the domain entities of the trip orchestration
// control plane: trip requests, trips, driver status records and the DTOs
// exchanged between services.
package model

import (
	"math"
	"time"
)

// ─── Enums ──────────────────────────────────────────────────

// TripRequestStatus is the lifecycle state of a passenger's request.
type TripRequestStatus string

const (
	RequestOpen      TripRequestStatus = "OPEN"
	RequestCancelled TripRequestStatus = "CANCELLED"
	RequestFulfilled TripRequestStatus = "FULFILLED"
)

// TripStatus is the lifecycle state of a committed trip.
type TripStatus string

const (
	TripAccepted          TripStatus = "ACCEPTED"
	TripEnRoute           TripStatus = "EN_ROUTE"
	TripCompleted         TripStatus = "COMPLETED"
	TripCancelled         TripStatus = "CANCELLED"
	TripCancelledByDriver TripStatus = "CANCELLED_BY_DRIVER"
)

// Terminal reports whether the status is a sink of the trip FSM.
func (s TripStatus) Terminal() bool {
	switch s {
	case TripCompleted, TripCancelled, TripCancelledByDriver:
		return true
	}
	return false
}

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point (EPSG:4326).
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both coordinates are finite numbers.
func (l Location) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsInf(l.Lat, 0) &&
		!math.IsNaN(l.Lon) && !math.IsInf(l.Lon, 0)
}

// ─── Domain Entities ────────────────────────────────────────

// TripRequest is a passenger's declaration of intent prior to driver
// assignment. At most one OPEN request exists per passenger at any time.
type TripRequest struct {
	ID          string            `json:"id"`
	PassengerID string            `json:"passenger_id"`
	Origin      Location          `json:"origin"`
	Destination Location          `json:"destination"`
	Status      TripRequestStatus `json:"status"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Trip is a committed ride between a passenger and a driver. Exactly one
// Trip exists per trip_request_id; every mutation increments Version.
type Trip struct {
	ID            string     `json:"id"`
	TripRequestID string     `json:"trip_request_id"`
	PassengerID   string     `json:"passenger_id"`
	DriverID      string     `json:"driver_id"`
	Origin        Location   `json:"origin"`
	Destination   Location   `json:"destination"`
	Status        TripStatus `json:"status"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DriverStatus tracks a driver's availability under optimistic version
// control. LastIdempotencyKey makes UpdateDriverStatus safely retryable.
type DriverStatus struct {
	DriverID           string    `json:"driver_id"`
	Available          bool      `json:"available"`
	Version            int64     `json:"version"`
	LastIdempotencyKey string    `json:"last_idempotency_key,omitempty"`
	Location           Location  `json:"location"`
	Rating             float64   `json:"rating"`          // 0..5
	AcceptanceRate     float64   `json:"acceptance_rate"` // 0..1
	UpdatedAt          time.Time `json:"updated_at"`
}

// ─── Matching DTOs ──────────────────────────────────────────

// CandidateRequest asks the matching service for up to MaxCandidates
// drivers for a trip request. Seed makes the answer deterministic.
type CandidateRequest struct {
	TripRequestID string   `json:"trip_request_id"`
	Origin        Location `json:"origin"`
	Destination   Location `json:"destination"`
	MaxCandidates int      `json:"max_candidates"`
	Seed          int64    `json:"seed"`
}

// DriverCandidate is one ranked driver with its selection probability.
type DriverCandidate struct {
	DriverID    string  `json:"driver_id"`
	Probability float64 `json:"probability"`
}

// CandidateResponse is the ordered candidate list. ReasonCode is set only
// when Candidates is empty.
type CandidateResponse struct {
	TripRequestID string            `json:"trip_request_id"`
	Candidates    []DriverCandidate `json:"candidates"`
	ReasonCode    string            `json:"reason_code,omitempty"`
}

// Reason codes for an empty candidate list.
const (
	ReasonNoDriversAvailable    = "NO_DRIVERS_AVAILABLE"
	ReasonNoCandidatesRequested = "NO_CANDIDATES_REQUESTED"
)

// ─── Pricing DTOs ───────────────────────────────────────────

// PriceRequest carries everything the pricing engine needs to produce a
// fare. Distance and duration are inputs; routing is not our concern.
type PriceRequest struct {
	TripRequestID            string   `json:"trip_request_id"`
	PassengerID              string   `json:"passenger_id"`
	MatchedDriverID          string   `json:"matched_driver_id"`
	Origin                   Location `json:"origin"`
	Destination              Location `json:"destination"`
	EstimatedDistanceMeters  float64  `json:"estimated_distance_meters"`
	EstimatedDurationSeconds float64  `json:"estimated_duration_seconds"`
	DemandMultiplier         float64  `json:"demand_multiplier"`
	SupplyMultiplier         float64  `json:"supply_multiplier"`
	DriverAcceptanceRate     float64  `json:"driver_acceptance_rate"`
	DriverRating             float64  `json:"driver_rating"`
	PricingSeed              int64    `json:"pricing_seed"`
	Zone                     string   `json:"zone,omitempty"`
}

// FareBreakdown itemizes the passenger fare before rounding.
type FareBreakdown struct {
	BaseFare        float64 `json:"base_fare"`
	DistanceFare    float64 `json:"distance_fare"`
	TimeFare        float64 `json:"time_fare"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
}

// PriceResponse is the fare computation result.
type PriceResponse struct {
	TripRequestID       string        `json:"trip_request_id"`
	CalculationID       string        `json:"calculation_id"`
	PassengerFareTotal  float64       `json:"passenger_fare_total"`
	DriverPayoutTotal   float64       `json:"driver_payout_total"`
	PlatformCommission  float64       `json:"platform_commission"`
	Breakdown           FareBreakdown `json:"breakdown"`
	PricingModelVersion string        `json:"pricing_model_version"`
	ABTestVariant       string        `json:"ab_test_variant,omitempty"`
	PriceExpiresAt      time.Time     `json:"price_expires_at"`
	CalculatedAt        time.Time     `json:"calculated_at"`
}

// ─── Telemetry ──────────────────────────────────────────────

// TelemetryEvent is emitted for every workflow forward step and every
// compensation outcome.
type TelemetryEvent struct {
	EventType string            `json:"event_type"`
	EntityID  string            `json:"entity_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
