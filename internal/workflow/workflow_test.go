package workflow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/dgdo/config"
	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/pricing"
	"github.com/shiva/dgdo/internal/repository"
	"github.com/shiva/dgdo/internal/service"
	"github.com/shiva/dgdo/internal/telemetry"
)

var wfOrigin = model.Location{Lat: 40.2832, Lon: 69.6220}
var wfDest = model.Location{Lat: 40.2154, Lon: 69.6948}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		Market:         "khujand",
		RPCTimeout:     2 * time.Second,
		RPCRetries:     3,
		RPCBackoff:     time.Millisecond,
		IdempotencyTTL: time.Hour,
		MaxCandidates:  5,
	}
}

// pricingConfig has no surge windows, so the wall clock cannot change the
// fare mid-test.
func pricingConfig() *pricing.Config {
	return &pricing.Config{
		Version: "wf-test-v1",
		Default: pricing.Rates{
			BaseFare:              5,
			PerKmRate:             2,
			PerMinRate:            0.5,
			MinimumFare:           8,
			CommissionPercent:     20,
			RoundingDenominations: []float64{0.5, 1},
		},
		Economic: pricing.EconomicConstraints{
			MinDriverRate:        1,
			MaxDriverRate:        3,
			OperationalCostFloor: 3,
		},
	}
}

type fixture struct {
	wf       *TripWorkflow
	requests *service.TripRequestService
	drivers  *service.DriverStatusService
	trips    service.Trips
	tele     *telemetry.Collector
	idem     *repository.MemoryIdempotencyStore
}

type fixtureOpts struct {
	seedDrivers bool
	trips       func(base service.Trips) service.Trips
	matching    func(base service.CandidateFinder) service.CandidateFinder
	pricingCfg  *pricing.Config
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()

	requestRepo := repository.NewMemoryTripRequestRepository()
	tripRepo := repository.NewMemoryTripRepository()
	driverRepo := repository.NewMemoryDriverRepository()

	cfg := opts.pricingCfg
	if cfg == nil {
		cfg = pricingConfig()
	}
	store, err := pricing.NewStaticStore(cfg, testLog())
	require.NoError(t, err)
	engine := pricing.NewEngine(store, testLog())

	requestSvc := service.NewTripRequestService(requestRepo, testLog())
	matchingSvc := service.NewMatchingService(driverRepo, testLog())
	driverSvc := service.NewDriverStatusService(driverRepo, testLog())
	tripSvc := service.NewTripService(tripRepo, engine, requestSvc, testLog())

	if opts.seedDrivers {
		fleet := []model.DriverStatus{
			{DriverID: "D1", Available: true, Location: model.Location{Lat: 40.2832, Lon: 69.6220}, Rating: 4.9, AcceptanceRate: 0.95},
			{DriverID: "D2", Available: true, Location: model.Location{Lat: 40.2901, Lon: 69.6350}, Rating: 4.7, AcceptanceRate: 0.90},
			{DriverID: "D3", Available: true, Location: model.Location{Lat: 40.2755, Lon: 69.6108}, Rating: 4.5, AcceptanceRate: 0.80},
			{DriverID: "D4", Available: true, Location: model.Location{Lat: 40.3009, Lon: 69.6489}, Rating: 4.8, AcceptanceRate: 0.88},
			{DriverID: "D5", Available: true, Location: model.Location{Lat: 40.2688, Lon: 69.5994}, Rating: 4.6, AcceptanceRate: 0.92},
		}
		for i := range fleet {
			require.NoError(t, driverRepo.Upsert(ctx, &fleet[i]))
		}
	}

	var trips service.Trips = tripSvc
	if opts.trips != nil {
		trips = opts.trips(trips)
	}
	var matching service.CandidateFinder = matchingSvc
	if opts.matching != nil {
		matching = opts.matching(matching)
	}

	tele := telemetry.NewCollector()
	idem := repository.NewMemoryIdempotencyStore()

	wf := New(requestSvc, matching, engine, driverSvc, trips, idem, tele, testWorkflowConfig(), testLog())
	wf.sleep = func(time.Duration) {}

	return &fixture{
		wf:       wf,
		requests: requestSvc,
		drivers:  driverSvc,
		trips:    trips,
		tele:     tele,
		idem:     idem,
	}
}

func tripOrder() *TripOrder {
	return &TripOrder{
		PassengerID:      "P1",
		Origin:           wfOrigin,
		Destination:      wfDest,
		Seed:             42,
		DemandMultiplier: 1,
		SupplyMultiplier: 1,
	}
}

func TestExecute_HappyPath(t *testing.T) {
	f := newFixture(t, fixtureOpts{seedDrivers: true})
	ctx := context.Background()

	res, err := f.wf.Execute(ctx, tripOrder())
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEmpty(t, res.TripID)
	require.NotNil(t, res.Price)
	assert.Greater(t, res.Price.PassengerFareTotal, res.Price.DriverPayoutTotal)

	// D1 sits on the origin; it always outranks the rest of the fleet.
	assert.Equal(t, "D1", res.DriverID)

	// Driver reserved, request fulfilled, trip accepted.
	ds, err := f.drivers.GetDriverStatus(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ds.Available)

	req, err := f.requests.GetTripRequest(ctx, res.TripRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFulfilled, req.Status)

	trip, err := f.trips.GetTripByID(ctx, res.TripID)
	require.NoError(t, err)
	assert.Equal(t, model.TripAccepted, trip.Status)

	types := f.tele.EventTypes()
	assert.Contains(t, types, "workflow.trip_request_created")
	assert.Contains(t, types, "workflow.driver_reserved")
	assert.Contains(t, types, "workflow.trip_created")
	for _, ev := range f.tele.Events() {
		assert.Equal(t, "khujand", ev.Metadata["market"], "event %s", ev.EventType)
	}
}

func TestExecute_IdempotentReplay(t *testing.T) {
	f := newFixture(t, fixtureOpts{seedDrivers: true})
	ctx := context.Background()

	order := tripOrder()
	order.IdempotencyKey = "order-1"

	first, err := f.wf.Execute(ctx, order)
	require.NoError(t, err)

	second, err := f.wf.Execute(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TripID, second.TripID)
}

// flakyTrips fails trip lookups with a transient error a fixed number of
// times before delegating.
type flakyTrips struct {
	service.Trips
	failures int
	calls    int
}

func (m *flakyTrips) GetTripByID(ctx context.Context, tripID string) (*model.Trip, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errs.Unavailable("trip store briefly down")
	}
	return m.Trips.GetTripByID(ctx, tripID)
}

func TestExecute_ReplayRetriesTransientLookup(t *testing.T) {
	var flaky *flakyTrips
	f := newFixture(t, fixtureOpts{
		seedDrivers: true,
		trips: func(base service.Trips) service.Trips {
			flaky = &flakyTrips{Trips: base, failures: 1}
			return flaky
		},
	})
	ctx := context.Background()

	order := tripOrder()
	order.IdempotencyKey = "order-1"

	first, err := f.wf.Execute(ctx, order)
	require.NoError(t, err)
	assert.Zero(t, flaky.calls, "a fresh execution never looks the trip up")

	// The replay lookup rides the same retry policy as every other call.
	second, err := f.wf.Execute(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TripID, second.TripID)
	assert.Equal(t, 2, flaky.calls, "one transient failure then success")
}

func TestExecute_DerivedKeyCollapsesDuplicates(t *testing.T) {
	f := newFixture(t, fixtureOpts{seedDrivers: true})
	ctx := context.Background()

	// No explicit key: market + passenger + route identify the execution.
	first, err := f.wf.Execute(ctx, tripOrder())
	require.NoError(t, err)

	second, err := f.wf.Execute(ctx, tripOrder())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TripID, second.TripID)
}

// failingTrips refuses trip creation so the saga must roll back.
type failingTrips struct {
	service.Trips
}

func (f *failingTrips) CreateTrip(ctx context.Context, cmd *service.CreateTripCommand) (*model.Trip, error) {
	return nil, errs.New(errs.KindInternal, "trip store down")
}

func TestExecute_CompensatesOnTripCreationFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		seedDrivers: true,
		trips:       func(base service.Trips) service.Trips { return &failingTrips{base} },
	})
	ctx := context.Background()

	_, err := f.wf.Execute(ctx, tripOrder())
	require.Error(t, err)

	// The reserved driver is available again.
	ds, err := f.drivers.GetDriverStatus(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, ds.Available)

	// The opened request was cancelled, so the passenger can retry.
	var requestID string
	compensated := 0
	for _, ev := range f.tele.Events() {
		switch ev.EventType {
		case "workflow.trip_request_created":
			requestID = ev.EntityID
		case "workflow.compensated":
			compensated++
		}
	}
	require.NotEmpty(t, requestID)
	req, err := f.requests.GetTripRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestCancelled, req.Status)
	assert.Equal(t, 2, compensated, "driver release and request cancel both compensated")

	// Nothing committed: no idempotency record, next attempt runs fresh.
	_, ok, err := f.idem.Get(ctx, "khujand:P1:40.283200,69.622000:40.215400,69.694800")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_NoDriversFailsAndCancelsRequest(t *testing.T) {
	f := newFixture(t, fixtureOpts{seedDrivers: false})
	ctx := context.Background()

	_, err := f.wf.Execute(ctx, tripOrder())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Contains(t, err.Error(), model.ReasonNoDriversAvailable)

	// The only completed step was the request creation; it rolled back.
	types := f.tele.EventTypes()
	assert.Contains(t, types, "workflow.compensated")
}

// flakyMatching fails with a transient error a fixed number of times
// before delegating.
type flakyMatching struct {
	service.CandidateFinder
	failures int
	calls    int
}

func (m *flakyMatching) GetCandidates(ctx context.Context, req *model.CandidateRequest) (*model.CandidateResponse, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errs.Unavailable("matching briefly down")
	}
	return m.CandidateFinder.GetCandidates(ctx, req)
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	var flaky *flakyMatching
	f := newFixture(t, fixtureOpts{
		seedDrivers: true,
		matching: func(base service.CandidateFinder) service.CandidateFinder {
			flaky = &flakyMatching{CandidateFinder: base, failures: 2}
			return flaky
		},
	})

	res, err := f.wf.Execute(context.Background(), tripOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, res.TripID)
	assert.Equal(t, 3, flaky.calls, "two transient failures then success")
}

func TestExecute_TransientFailureExhaustsRetries(t *testing.T) {
	var flaky *flakyMatching
	f := newFixture(t, fixtureOpts{
		seedDrivers: true,
		matching: func(base service.CandidateFinder) service.CandidateFinder {
			flaky = &flakyMatching{CandidateFinder: base, failures: 10}
			return flaky
		},
	})

	_, err := f.wf.Execute(context.Background(), tripOrder())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnavailable))
	assert.Equal(t, 3, flaky.calls, "attempts are bounded")
}

func TestExecute_GuardrailFailureIsPermanent(t *testing.T) {
	cfg := pricingConfig()
	cfg.Economic.OperationalCostFloor = 1000
	f := newFixture(t, fixtureOpts{seedDrivers: true, pricingCfg: cfg})
	ctx := context.Background()

	_, err := f.wf.Execute(ctx, tripOrder())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindEconomicGuardrail), "got %v", err)

	// Pricing failed before any driver was reserved.
	ds, err := f.drivers.GetDriverStatus(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, ds.Available)
}

func TestExecute_RejectsInvalidOrder(t *testing.T) {
	f := newFixture(t, fixtureOpts{seedDrivers: true})

	_, err := f.wf.Execute(context.Background(), &TripOrder{Origin: wfOrigin, Destination: wfDest})
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))
}
