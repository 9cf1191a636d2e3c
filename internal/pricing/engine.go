package pricing

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
)

// priceValidity is how long a calculated price may be honored.
const priceValidity = 5 * time.Minute

// Engine computes passenger fares and driver payouts. It is a pure
// function of (request, active config snapshot, clock); randomness only
// enters through the caller-supplied pricing seed.
//
// Formula:
//
//	subtotal  = base_fare + per_km_rate·km + per_min_rate·min
//	raw_total = subtotal · max(1.0, demand_multiplier · surge_multiplier)
//	total     = round_to_denomination(max(raw_total, minimum_fare))
//	payout    = total − total · commission_percent/100
//
// The guardrail passenger_fare > driver_payout > operational_cost_floor is
// enforced on every result.
type Engine struct {
	store *Store
	log   *logrus.Entry

	// clock is indirected so tests can pin the surge hour.
	clock func() time.Time
}

// NewEngine creates a pricing engine over the given config store.
func NewEngine(store *Store, log *logrus.Entry) *Engine {
	return &Engine{store: store, log: log, clock: time.Now}
}

// resolvedRates is the active rate card after zone, time and A/B overlays.
type resolvedRates struct {
	Rates
	SurgeMultiplier float64
	ABVariant       string
}

// resolveActive overlays the default card with the zone override, the
// first matching time window and the seed-selected experiment variant.
func resolveActive(cfg *Config, zone string, hour int, seed int64) resolvedRates {
	r := resolvedRates{Rates: cfg.Default, SurgeMultiplier: 1.0}

	if zone != "" {
		if ov, ok := cfg.ZoneOverrides[zone]; ok {
			r.Rates = applyOverride(r.Rates, ov)
		}
	}

	for _, tm := range cfg.TimeBasedMultipliers {
		if tm.StartHour <= hour && hour < tm.EndHour {
			r.SurgeMultiplier = tm.SurgeMultiplier
			break
		}
	}

	if len(cfg.ABTests) > 0 {
		idx := int(((seed % int64(len(cfg.ABTests))) + int64(len(cfg.ABTests))) % int64(len(cfg.ABTests)))
		test := cfg.ABTests[idx]
		r.Rates = applyOverride(r.Rates, test.Overrides)
		r.ABVariant = test.Variant
	}

	return r
}

func applyOverride(base Rates, ov RatesOverride) Rates {
	if ov.BaseFare != nil {
		base.BaseFare = *ov.BaseFare
	}
	if ov.PerKmRate != nil {
		base.PerKmRate = *ov.PerKmRate
	}
	if ov.PerMinRate != nil {
		base.PerMinRate = *ov.PerMinRate
	}
	if ov.MinimumFare != nil {
		base.MinimumFare = *ov.MinimumFare
	}
	if ov.CommissionPercent != nil {
		base.CommissionPercent = *ov.CommissionPercent
	}
	if len(ov.RoundingDenominations) > 0 {
		base.RoundingDenominations = ov.RoundingDenominations
	}
	return base
}

// roundToDenomination rounds raw to the nearest multiple of one of the
// configured denominations. Every denomination proposes its nearest
// multiple; the closest candidate wins and ties go to the smallest
// denomination.
func roundToDenomination(raw float64, denominations []float64) float64 {
	if len(denominations) == 0 {
		return raw
	}
	denoms := append([]float64(nil), denominations...)
	sort.Float64s(denoms)

	best := raw
	bestDiff := math.MaxFloat64
	for _, d := range denoms {
		candidate := math.Round(raw/d) * d
		diff := math.Abs(candidate - raw)
		// Strict less keeps the smallest denomination on ties.
		if diff < bestDiff-1e-9 {
			bestDiff = diff
			best = candidate
		}
	}
	return best
}

// CalculatePrice computes the fare breakdown for a priced trip request.
func (e *Engine) CalculatePrice(ctx context.Context, req *model.PriceRequest) (*model.PriceResponse, error) {
	if err := validatePriceRequest(req); err != nil {
		return nil, err
	}

	cfg, err := e.store.Snapshot()
	if err != nil {
		return nil, err
	}

	nowUTC := e.clock().UTC()
	rates := resolveActive(cfg, req.Zone, nowUTC.Hour(), req.PricingSeed)

	distanceFare := rates.PerKmRate * (req.EstimatedDistanceMeters / 1000.0)
	timeFare := rates.PerMinRate * (req.EstimatedDurationSeconds / 60.0)
	subtotal := rates.BaseFare + distanceFare + timeFare

	// Demand below 1.0 never discounts the fare.
	demand := math.Max(1.0, req.DemandMultiplier)
	effectiveSurge := math.Max(1.0, demand*rates.SurgeMultiplier)
	rawTotal := subtotal * effectiveSurge

	if rawTotal < rates.MinimumFare {
		rawTotal = rates.MinimumFare
	}

	total := roundToDenomination(rawTotal, rates.RoundingDenominations)
	commission := total * rates.CommissionPercent / 100.0
	payout := total - commission

	floor := cfg.Economic.OperationalCostFloor
	if !(total > payout && payout > floor) {
		return nil, errs.Newf(errs.KindEconomicGuardrail,
			"unit economics violated: fare %.2f, payout %.2f, cost floor %.2f",
			total, payout, floor)
	}

	resp := &model.PriceResponse{
		TripRequestID:      req.TripRequestID,
		CalculationID:      uuid.NewString(),
		PassengerFareTotal: total,
		DriverPayoutTotal:  payout,
		PlatformCommission: commission,
		Breakdown: model.FareBreakdown{
			BaseFare:        rates.BaseFare,
			DistanceFare:    distanceFare,
			TimeFare:        timeFare,
			SurgeMultiplier: effectiveSurge,
		},
		PricingModelVersion: cfg.Version,
		ABTestVariant:       rates.ABVariant,
		PriceExpiresAt:      nowUTC.Add(priceValidity),
		CalculatedAt:        nowUTC,
	}

	e.log.WithFields(logrus.Fields{
		"trip_request_id": req.TripRequestID,
		"calculation_id":  resp.CalculationID,
		"fare":            resp.PassengerFareTotal,
		"payout":          resp.DriverPayoutTotal,
		"surge":           effectiveSurge,
		"variant":         rates.ABVariant,
	}).Info("price calculated")

	return resp, nil
}

func validatePriceRequest(req *model.PriceRequest) error {
	switch {
	case req.TripRequestID == "":
		return errs.InvalidArgument("trip_request_id is required")
	case !req.Origin.Valid() || !req.Destination.Valid():
		return errs.InvalidArgument("origin and destination must be finite coordinates")
	case req.EstimatedDistanceMeters < 0:
		return errs.InvalidArgument("estimated_distance_meters must be >= 0")
	case req.EstimatedDurationSeconds < 0:
		return errs.InvalidArgument("estimated_duration_seconds must be >= 0")
	case req.SupplyMultiplier < 0:
		return errs.InvalidArgument("supply_multiplier must be >= 0")
	case req.DriverAcceptanceRate < 0 || req.DriverAcceptanceRate > 1:
		return errs.InvalidArgument("driver_acceptance_rate must be in [0,1]")
	case req.DriverRating < 0 || req.DriverRating > 5:
		return errs.InvalidArgument("driver_rating must be in [0,5]")
	}
	return nil
}
