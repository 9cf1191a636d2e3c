package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
)

// stubPricer satisfies PriceCalculator with a canned answer.
type stubPricer struct {
	mu    sync.Mutex
	resp  *model.PriceResponse
	err   error
	calls int
}

func (s *stubPricer) CalculatePrice(ctx context.Context, req *model.PriceRequest) (*model.PriceResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.resp
	resp.TripRequestID = req.TripRequestID
	return &resp, nil
}

func goodPrice() *model.PriceResponse {
	return &model.PriceResponse{
		CalculationID:      "calc-1",
		PassengerFareTotal: 18,
		DriverPayoutTotal:  14.4,
		PlatformCommission: 3.6,
	}
}

type tripFixture struct {
	svc      *TripService
	requests *TripRequestService
	pricer   *stubPricer
	repo     *repository.MemoryTripRepository
}

func newTripFixture(t *testing.T) *tripFixture {
	t.Helper()
	requests := NewTripRequestService(repository.NewMemoryTripRequestRepository(), testLog())
	pricer := &stubPricer{resp: goodPrice()}
	repo := repository.NewMemoryTripRepository()
	return &tripFixture{
		svc:      NewTripService(repo, pricer, requests, testLog()),
		requests: requests,
		pricer:   pricer,
		repo:     repo,
	}
}

func (f *tripFixture) openRequest(t *testing.T) *model.TripRequest {
	t.Helper()
	req, err := f.requests.CreateTripRequest(context.Background(), "P1", matchOrigin, matchDest)
	require.NoError(t, err)
	return req
}

func (f *tripFixture) createCmd(requestID string) *CreateTripCommand {
	return &CreateTripCommand{
		TripRequestID:            requestID,
		PassengerID:              "P1",
		DriverID:                 "D1",
		Origin:                   matchOrigin,
		Destination:              matchDest,
		EstimatedDistanceMeters:  4000,
		EstimatedDurationSeconds: 600,
		DemandMultiplier:         1,
		SupplyMultiplier:         1,
		DriverAcceptanceRate:     0.9,
		DriverRating:             4.8,
	}
}

func TestCreateTrip_HappyPath(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	req := f.openRequest(t)

	trip, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)
	assert.Equal(t, model.TripAccepted, trip.Status)
	assert.Equal(t, int64(1), trip.Version)
	assert.Equal(t, req.ID, trip.TripRequestID)
	assert.Equal(t, "D1", trip.DriverID)

	// The request is immutable once the trip references it.
	got, err := f.requests.GetTripRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFulfilled, got.Status)
}

func TestCreateTrip_IdempotentPerRequest(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	req := f.openRequest(t)

	first, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)

	second, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The replay short-circuits before pricing runs again.
	assert.Equal(t, 1, f.pricer.calls)
}

func TestCreateTrip_PricingFailureCreatesNothing(t *testing.T) {
	f := newTripFixture(t)
	f.pricer.err = errs.EconomicGuardrail("unit economics violated")
	ctx := context.Background()
	req := f.openRequest(t)

	_, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPricingRejected), "got %v", err)

	_, err = f.svc.GetTripByRequestID(ctx, req.ID)
	assert.True(t, errs.IsKind(err, errs.KindNotFound), "no trip may exist after a pricing refusal")

	// Request still OPEN: the workflow decides what happens next.
	got, err := f.requests.GetTripRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestOpen, got.Status)
}

func TestCreateTrip_RejectsNonPositiveEconomics(t *testing.T) {
	f := newTripFixture(t)
	f.pricer.resp = &model.PriceResponse{PassengerFareTotal: 10, DriverPayoutTotal: 10}
	ctx := context.Background()
	req := f.openRequest(t)

	_, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	assert.True(t, errs.IsKind(err, errs.KindPricingRejected))
}

func TestUpdateTripStatus_FSMMatrix(t *testing.T) {
	cases := []struct {
		from    model.TripStatus
		to      model.TripStatus
		allowed bool
	}{
		{model.TripAccepted, model.TripEnRoute, true},
		{model.TripAccepted, model.TripCancelled, true},
		{model.TripAccepted, model.TripCancelledByDriver, true},
		{model.TripAccepted, model.TripCompleted, false},
		{model.TripEnRoute, model.TripCompleted, true},
		{model.TripEnRoute, model.TripCancelledByDriver, true},
		{model.TripEnRoute, model.TripCancelled, false},
		{model.TripEnRoute, model.TripAccepted, false},
		{model.TripCompleted, model.TripEnRoute, false},
		{model.TripCancelled, model.TripAccepted, false},
		{model.TripCancelledByDriver, model.TripEnRoute, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"→"+string(tc.to), func(t *testing.T) {
			f := newTripFixture(t)
			ctx := context.Background()
			req := f.openRequest(t)

			trip, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
			require.NoError(t, err)

			// Walk the trip into the starting state.
			switch tc.from {
			case model.TripEnRoute:
				trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripEnRoute, trip.Version)
				require.NoError(t, err)
			case model.TripCompleted:
				trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripEnRoute, trip.Version)
				require.NoError(t, err)
				trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripCompleted, trip.Version)
				require.NoError(t, err)
			case model.TripCancelled:
				trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripCancelled, trip.Version)
				require.NoError(t, err)
			case model.TripCancelledByDriver:
				trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripCancelledByDriver, trip.Version)
				require.NoError(t, err)
			}

			got, err := f.svc.UpdateTripStatus(ctx, trip.ID, tc.to, trip.Version)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got.Status)
				assert.Equal(t, trip.Version+1, got.Version)
			} else {
				require.Error(t, err)
				assert.True(t, errs.IsKind(err, errs.KindIllegalTransition), "got %v", err)
			}
		})
	}
}

func TestUpdateTripStatus_VersionConflict(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	req := f.openRequest(t)

	trip, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)

	_, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripEnRoute, trip.Version)
	require.NoError(t, err)

	// A second writer still holding version 1 loses.
	_, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripCancelled, trip.Version)
	assert.True(t, errs.IsKind(err, errs.KindVersionConflict))
}

func TestUpdateTripStatus_ConcurrentWritersOneWins(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	req := f.openRequest(t)

	trip, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateTripStatus(ctx, trip.ID, model.TripEnRoute, trip.Version)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, errs.IsKind(err, errs.KindVersionConflict), "got %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestCancelTrip(t *testing.T) {
	f := newTripFixture(t)
	ctx := context.Background()
	req := f.openRequest(t)

	trip, err := f.svc.CreateTrip(ctx, f.createCmd(req.ID))
	require.NoError(t, err)

	// COMPLETED is not a cancel reason.
	_, err = f.svc.CancelTrip(ctx, trip.ID, model.TripCompleted, trip.Version)
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))

	trip, err = f.svc.UpdateTripStatus(ctx, trip.ID, model.TripEnRoute, trip.Version)
	require.NoError(t, err)

	// EN_ROUTE only admits the driver-initiated edge.
	_, err = f.svc.CancelTrip(ctx, trip.ID, model.TripCancelled, trip.Version)
	assert.True(t, errs.IsKind(err, errs.KindIllegalTransition))

	got, err := f.svc.CancelTrip(ctx, trip.ID, model.TripCancelledByDriver, trip.Version)
	require.NoError(t, err)
	assert.Equal(t, model.TripCancelledByDriver, got.Status)
}
