package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/pricing"
	"github.com/shiva/dgdo/internal/service"
)

// ─── Trip request client ────────────────────────────────────

// TripRequestClient speaks to the trip request service.
type TripRequestClient struct{ base }

// NewTripRequestClient creates a client for the given base URL.
func NewTripRequestClient(baseURL string) *TripRequestClient {
	return &TripRequestClient{newBase(baseURL)}
}

var _ service.TripRequests = (*TripRequestClient)(nil)
var _ service.RequestFulfiller = (*TripRequestClient)(nil)

func (c *TripRequestClient) CreateTripRequest(ctx context.Context, passengerID string, origin, destination model.Location) (*model.TripRequest, error) {
	body := map[string]interface{}{
		"passenger_id": passengerID,
		"origin":       origin,
		"destination":  destination,
	}
	var out model.TripRequest
	if err := c.call(ctx, http.MethodPost, "/trip-requests", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripRequestClient) CancelTripRequest(ctx context.Context, requestID string, expectedVersion int64) (*model.TripRequest, error) {
	body := map[string]int64{"expected_version": expectedVersion}
	var out model.TripRequest
	if err := c.call(ctx, http.MethodPost, "/trip-requests/"+url.PathEscape(requestID)+"/cancel", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripRequestClient) GetTripRequest(ctx context.Context, requestID string) (*model.TripRequest, error) {
	var out model.TripRequest
	if err := c.call(ctx, http.MethodGet, "/trip-requests/"+url.PathEscape(requestID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripRequestClient) FulfillTripRequest(ctx context.Context, requestID string) error {
	return c.call(ctx, http.MethodPost, "/trip-requests/"+url.PathEscape(requestID)+"/fulfill", struct{}{}, nil)
}

// ─── Matching client ────────────────────────────────────────

// MatchingClient speaks to the matching service.
type MatchingClient struct{ base }

// NewMatchingClient creates a client for the given base URL.
func NewMatchingClient(baseURL string) *MatchingClient {
	return &MatchingClient{newBase(baseURL)}
}

var _ service.CandidateFinder = (*MatchingClient)(nil)

func (c *MatchingClient) GetCandidates(ctx context.Context, req *model.CandidateRequest) (*model.CandidateResponse, error) {
	var out model.CandidateResponse
	if err := c.call(ctx, http.MethodPost, "/candidates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Pricing client ─────────────────────────────────────────

// PricingClient speaks to the pricing service.
type PricingClient struct{ base }

// NewPricingClient creates a client for the given base URL.
func NewPricingClient(baseURL string) *PricingClient {
	return &PricingClient{newBase(baseURL)}
}

var _ service.PriceCalculator = (*PricingClient)(nil)

func (c *PricingClient) CalculatePrice(ctx context.Context, req *model.PriceRequest) (*model.PriceResponse, error) {
	var out model.PriceResponse
	if err := c.call(ctx, http.MethodPost, "/price", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FallbackConfig fetches the operator-facing default rate card.
func (c *PricingClient) FallbackConfig(ctx context.Context) (*pricing.FallbackConfig, error) {
	var out pricing.FallbackConfig
	if err := c.call(ctx, http.MethodGet, "/config/fallback", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateFallbackConfig replaces the default rate card.
func (c *PricingClient) UpdateFallbackConfig(ctx context.Context, fb *pricing.FallbackConfig) (*pricing.FallbackConfig, error) {
	var out pricing.FallbackConfig
	if err := c.call(ctx, http.MethodPut, "/config/fallback", fb, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Driver status client ───────────────────────────────────

// DriverStatusClient speaks to the driver status service.
type DriverStatusClient struct{ base }

// NewDriverStatusClient creates a client for the given base URL.
func NewDriverStatusClient(baseURL string) *DriverStatusClient {
	return &DriverStatusClient{newBase(baseURL)}
}

var _ service.DriverStatuses = (*DriverStatusClient)(nil)

func (c *DriverStatusClient) UpdateDriverStatus(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error) {
	body := map[string]interface{}{
		"available":        available,
		"expected_version": expectedVersion,
		"idempotency_key":  idempotencyKey,
	}
	var out model.DriverStatus
	if err := c.call(ctx, http.MethodPost, "/drivers/"+url.PathEscape(driverID)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DriverStatusClient) GetDriverStatus(ctx context.Context, driverID string) (*model.DriverStatus, error) {
	var out model.DriverStatus
	if err := c.call(ctx, http.MethodGet, "/drivers/"+url.PathEscape(driverID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterDriver onboards a driver record.
func (c *DriverStatusClient) RegisterDriver(ctx context.Context, ds *model.DriverStatus) error {
	return c.call(ctx, http.MethodPost, "/drivers", ds, nil)
}

// ─── Trip client ────────────────────────────────────────────

// TripClient speaks to the trip service.
type TripClient struct{ base }

// NewTripClient creates a client for the given base URL.
func NewTripClient(baseURL string) *TripClient {
	return &TripClient{newBase(baseURL)}
}

var _ service.Trips = (*TripClient)(nil)

func (c *TripClient) CreateTrip(ctx context.Context, cmd *service.CreateTripCommand) (*model.Trip, error) {
	var out model.Trip
	if err := c.call(ctx, http.MethodPost, "/trips", cmd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripClient) UpdateTripStatus(ctx context.Context, tripID string, newStatus model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	body := map[string]interface{}{
		"new_status":       newStatus,
		"expected_version": expectedVersion,
	}
	var out model.Trip
	if err := c.call(ctx, http.MethodPost, "/trips/"+url.PathEscape(tripID)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripClient) CancelTrip(ctx context.Context, tripID string, reason model.TripStatus, expectedVersion int64) (*model.Trip, error) {
	body := map[string]interface{}{
		"reason":           reason,
		"expected_version": expectedVersion,
	}
	var out model.Trip
	if err := c.call(ctx, http.MethodPost, "/trips/"+url.PathEscape(tripID)+"/cancel", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripClient) GetTripByID(ctx context.Context, tripID string) (*model.Trip, error) {
	var out model.Trip
	if err := c.call(ctx, http.MethodGet, "/trips/"+url.PathEscape(tripID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TripClient) GetTripByRequestID(ctx context.Context, tripRequestID string) (*model.Trip, error) {
	var out model.Trip
	if err := c.call(ctx, http.MethodGet, "/trips/by-request/"+url.PathEscape(tripRequestID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
