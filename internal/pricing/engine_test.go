package pricing

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig() *Config {
	return &Config{
		Version: "test-v1",
		Default: Rates{
			BaseFare:              5,
			PerKmRate:             2,
			PerMinRate:            0.5,
			MinimumFare:           8,
			CommissionPercent:     20,
			RoundingDenominations: []float64{0.5, 1},
		},
		Economic: EconomicConstraints{
			MinDriverRate:        1,
			MaxDriverRate:        3,
			OperationalCostFloor: 3,
		},
	}
}

// newTestEngine pins the clock to a quiet hour (03:00 UTC) so no surge
// window applies unless a test installs one.
func newTestEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	store, err := NewStaticStore(cfg, testLog())
	require.NoError(t, err)
	e := NewEngine(store, testLog())
	e.clock = func() time.Time { return time.Date(2025, 8, 20, 3, 0, 0, 0, time.UTC) }
	return e
}

func basePriceRequest() *model.PriceRequest {
	return &model.PriceRequest{
		TripRequestID:            "req-1",
		PassengerID:              "P1",
		MatchedDriverID:          "D1",
		Origin:                   model.Location{Lat: 40.2832, Lon: 69.6220},
		Destination:              model.Location{Lat: 40.2154, Lon: 69.6948},
		EstimatedDistanceMeters:  4000,
		EstimatedDurationSeconds: 600,
		DemandMultiplier:         1.0,
		SupplyMultiplier:         1.0,
		DriverAcceptanceRate:     0.9,
		DriverRating:             4.8,
	}
}

func TestCalculatePrice_BasicFormula(t *testing.T) {
	e := newTestEngine(t, testConfig())

	// subtotal = 5 + 2·4km + 0.5·10min = 18, no surge, exact denomination.
	resp, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)

	assert.InDelta(t, 18.0, resp.PassengerFareTotal, 1e-9)
	assert.InDelta(t, 14.4, resp.DriverPayoutTotal, 1e-9)
	assert.InDelta(t, 3.6, resp.PlatformCommission, 1e-9)
	assert.Equal(t, "test-v1", resp.PricingModelVersion)
	assert.InDelta(t, 8.0, resp.Breakdown.DistanceFare, 1e-9)
	assert.InDelta(t, 5.0, resp.Breakdown.TimeFare, 1e-9)
}

func TestCalculatePrice_Deterministic(t *testing.T) {
	e := newTestEngine(t, testConfig())

	a, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)
	b, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)

	assert.Equal(t, a.PassengerFareTotal, b.PassengerFareTotal)
	assert.Equal(t, a.DriverPayoutTotal, b.DriverPayoutTotal)
	assert.Equal(t, a.ABTestVariant, b.ABTestVariant)
	assert.NotEqual(t, a.CalculationID, b.CalculationID)
}

func TestCalculatePrice_ZeroDistanceHitsMinimumFare(t *testing.T) {
	e := newTestEngine(t, testConfig())

	req := basePriceRequest()
	req.EstimatedDistanceMeters = 0
	req.EstimatedDurationSeconds = 0

	// subtotal = base fare 5, lifted to the minimum fare 8.
	resp, err := e.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, resp.PassengerFareTotal, 1e-9)
}

func TestCalculatePrice_DemandBelowOneNeverDiscounts(t *testing.T) {
	e := newTestEngine(t, testConfig())

	req := basePriceRequest()
	req.DemandMultiplier = 0.25

	resp, err := e.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 18.0, resp.PassengerFareTotal, 1e-9)
	assert.InDelta(t, 1.0, resp.Breakdown.SurgeMultiplier, 1e-9)
}

func TestCalculatePrice_SurgeWindow(t *testing.T) {
	cfg := testConfig()
	cfg.TimeBasedMultipliers = []TimeMultiplier{{StartHour: 7, EndHour: 9, SurgeMultiplier: 1.5}}
	e := newTestEngine(t, cfg)

	// 08:00 is inside [7,9): 18 · 1.5 = 27.
	e.clock = func() time.Time { return time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC) }
	resp, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)
	assert.InDelta(t, 27.0, resp.PassengerFareTotal, 1e-9)

	// 09:00 is outside: end_hour is exclusive.
	e.clock = func() time.Time { return time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC) }
	resp, err = e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)
	assert.InDelta(t, 18.0, resp.PassengerFareTotal, 1e-9)
}

func TestCalculatePrice_LastHourSurgeWindow(t *testing.T) {
	cfg := testConfig()
	cfg.TimeBasedMultipliers = []TimeMultiplier{{StartHour: 23, EndHour: 24, SurgeMultiplier: 1.2}}
	e := newTestEngine(t, cfg)

	// 23:30 is inside [23,24): 18 · 1.2 = 21.6, rounded to 21.5.
	e.clock = func() time.Time { return time.Date(2025, 8, 20, 23, 30, 0, 0, time.UTC) }
	resp, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)
	assert.InDelta(t, 21.5, resp.PassengerFareTotal, 1e-9)

	// Midnight is past the window.
	e.clock = func() time.Time { return time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC) }
	resp, err = e.CalculatePrice(context.Background(), basePriceRequest())
	require.NoError(t, err)
	assert.InDelta(t, 18.0, resp.PassengerFareTotal, 1e-9)
}

func TestCalculatePrice_ABVariantFromSeed(t *testing.T) {
	lowerPerMin := 0.25
	cfg := testConfig()
	cfg.ABTests = []ABTest{
		{ExperimentName: "per_min_sweep", Variant: "control"},
		{ExperimentName: "per_min_sweep", Variant: "lower_per_min", Overrides: RatesOverride{PerMinRate: &lowerPerMin}},
	}
	e := newTestEngine(t, cfg)

	req := basePriceRequest()
	req.PricingSeed = 0
	resp, err := e.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "control", resp.ABTestVariant)
	assert.InDelta(t, 18.0, resp.PassengerFareTotal, 1e-9)

	req.PricingSeed = 1
	resp, err = e.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "lower_per_min", resp.ABTestVariant)
	// per_min drops to 0.25: subtotal = 5 + 8 + 2.5 = 15.5.
	assert.InDelta(t, 15.5, resp.PassengerFareTotal, 1e-9)
}

func TestCalculatePrice_ZoneOverride(t *testing.T) {
	airportPerKm := 2.5
	cfg := testConfig()
	cfg.ZoneOverrides = map[string]RatesOverride{
		"airport": {PerKmRate: &airportPerKm},
	}
	e := newTestEngine(t, cfg)

	req := basePriceRequest()
	req.Zone = "airport"

	// subtotal = 5 + 2.5·4 + 5 = 20.
	resp, err := e.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, resp.PassengerFareTotal, 1e-9)
}

func TestCalculatePrice_GuardrailRejectsZeroCommission(t *testing.T) {
	cfg := testConfig()
	cfg.Default.CommissionPercent = 0
	e := newTestEngine(t, cfg)

	// payout == fare violates passenger_fare > driver_payout.
	_, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindEconomicGuardrail), "got %v", err)
}

func TestCalculatePrice_GuardrailRejectsPayoutBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Economic.OperationalCostFloor = 50
	e := newTestEngine(t, cfg)

	_, err := e.CalculatePrice(context.Background(), basePriceRequest())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindEconomicGuardrail), "got %v", err)
}

func TestCalculatePrice_RejectsInvalidInput(t *testing.T) {
	e := newTestEngine(t, testConfig())

	req := basePriceRequest()
	req.EstimatedDistanceMeters = -1
	_, err := e.CalculatePrice(context.Background(), req)
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))

	req = basePriceRequest()
	req.DriverRating = 9
	_, err = e.CalculatePrice(context.Background(), req)
	assert.True(t, errs.IsKind(err, errs.KindInvalidArgument))
}

func TestRoundToDenomination(t *testing.T) {
	cases := []struct {
		raw    float64
		denoms []float64
		want   float64
	}{
		{11.3, []float64{0.5, 1}, 11.5},
		{12.4, []float64{3, 5}, 12},
		{18.0, []float64{0.5, 1}, 18},
		{7.5, []float64{3, 5}, 9},
		// Equidistant between 3 and 5: the smallest denomination wins.
		{4.0, []float64{3, 5}, 3},
		{2.6, []float64{5}, 5},
		{2.4, []float64{5}, 0},
	}
	for _, tc := range cases {
		got := roundToDenomination(tc.raw, tc.denoms)
		assert.InDelta(t, tc.want, got, 1e-9, "raw=%v denoms=%v", tc.raw, tc.denoms)
	}
}
