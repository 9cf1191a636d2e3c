// Package workflow implements the trip creation saga. The orchestrator
// drives the five services through a fixed forward sequence and, when a
// step fails permanently, walks the workflow log backwards compensating
// every completed step that has a side effect.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/config"
	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
	"github.com/shiva/dgdo/internal/service"
	"github.com/shiva/dgdo/internal/telemetry"
	"github.com/shiva/dgdo/pkg/geo"
)

// Step names, used in the workflow log and in telemetry event types.
const (
	stepCreateRequest = "create_trip_request"
	stepMatch         = "match_driver"
	stepPrice         = "calculate_price"
	stepReserveDriver = "reserve_driver"
	stepCreateTrip    = "create_trip"
	stepReplayLookup  = "replay_trip_lookup"
)

// TripOrder is the orchestrator's input: who wants to go where, plus the
// determinism and surge inputs the downstream services need.
type TripOrder struct {
	PassengerID    string         `json:"passenger_id"`
	Origin         model.Location `json:"origin"`
	Destination    model.Location `json:"destination"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`

	Seed             int64   `json:"seed"`
	DemandMultiplier float64 `json:"demand_multiplier"`
	SupplyMultiplier float64 `json:"supply_multiplier"`
	Zone             string  `json:"zone,omitempty"`
}

// Result is the outcome of a successful (or replayed) execution.
type Result struct {
	TripID        string               `json:"trip_id"`
	TripRequestID string               `json:"trip_request_id"`
	DriverID      string               `json:"driver_id"`
	Price         *model.PriceResponse `json:"price,omitempty"`
	Replayed      bool                 `json:"replayed"`
}

// logEntry records one completed forward step and the entity it touched.
type logEntry struct {
	step     string
	entityID string
}

// TripWorkflow orchestrates trip creation across the five services. It
// holds no entity state of its own: everything it knows about an
// execution lives in the workflow log for the duration of the call, plus
// the idempotency record it commits at the end.
type TripWorkflow struct {
	requests service.TripRequests
	matching service.CandidateFinder
	pricing  service.PriceCalculator
	drivers  service.DriverStatuses
	trips    service.Trips

	idem repository.IdempotencyStore
	tele telemetry.Emitter
	cfg  config.WorkflowConfig
	log  *logrus.Entry

	// sleep is swapped out in tests so retry backoff doesn't wall-clock.
	sleep func(time.Duration)
}

// New creates the orchestrator.
func New(
	requests service.TripRequests,
	matching service.CandidateFinder,
	pricing service.PriceCalculator,
	drivers service.DriverStatuses,
	trips service.Trips,
	idem repository.IdempotencyStore,
	tele telemetry.Emitter,
	cfg config.WorkflowConfig,
	log *logrus.Entry,
) *TripWorkflow {
	return &TripWorkflow{
		requests: requests,
		matching: matching,
		pricing:  pricing,
		drivers:  drivers,
		trips:    trips,
		idem:     idem,
		tele:     tele,
		cfg:      cfg,
		log:      log,
		sleep:    time.Sleep,
	}
}

// Execute runs the trip creation saga end to end.
//
// Forward sequence: create trip request → rank candidates → price →
// reserve driver → create trip. Any permanent failure compensates the
// completed steps in reverse and returns the step's error; transient
// failures are retried per the configured policy before giving up.
//
// Repeating an execution with the same idempotency key within the TTL
// returns the previously created trip without re-running any step.
func (w *TripWorkflow) Execute(ctx context.Context, order *TripOrder) (*Result, error) {
	if order.PassengerID == "" {
		return nil, errs.InvalidArgument("passenger_id is required")
	}
	if !order.Origin.Valid() || !order.Destination.Valid() {
		return nil, errs.InvalidArgument("origin and destination must be finite coordinates")
	}

	key := order.IdempotencyKey
	if key == "" {
		key = w.derivedKey(order)
	}

	if res, ok, err := w.replay(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	var wlog []logEntry
	res, err := w.run(ctx, order, &wlog)
	if err != nil {
		w.compensate(ctx, wlog, err)
		return nil, err
	}

	// Commit the idempotency record. If a concurrent execution of the same
	// key beat us to it, its trip wins and ours was the duplicate work —
	// both executions created the same trip thanks to the per-request
	// idempotency of trip creation, so returning the winner is safe.
	winner, stored, err := w.idem.SetIfAbsent(ctx, key, res.TripID, w.cfg.IdempotencyTTL)
	if err != nil {
		w.log.WithError(err).WithField("key", key).Warn("idempotency record not persisted")
	} else if !stored && winner != res.TripID {
		res.TripID = winner
		res.Replayed = true
	}

	return res, nil
}

// emit tags every event with the market before handing it to the sink.
func (w *TripWorkflow) emit(eventType, entityID string, metadata map[string]string) {
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata["market"] = w.cfg.Market
	w.tele.Emit(eventType, entityID, metadata)
}

// run drives the forward steps, appending each completed side-effecting
// step to the workflow log before moving on.
func (w *TripWorkflow) run(ctx context.Context, order *TripOrder, wlog *[]logEntry) (*Result, error) {
	// Step 1: open the trip request.
	var req *model.TripRequest
	err := w.callWithRetry(ctx, stepCreateRequest, func(ctx context.Context) error {
		var err error
		req, err = w.requests.CreateTripRequest(ctx, order.PassengerID, order.Origin, order.Destination)
		return err
	})
	if err != nil {
		return nil, err
	}
	*wlog = append(*wlog, logEntry{step: stepCreateRequest, entityID: req.ID})
	w.emit("workflow.trip_request_created", req.ID, map[string]string{
		"passenger_id": order.PassengerID,
	})

	// Step 2: rank candidates. Read-only, nothing to compensate.
	var cands *model.CandidateResponse
	err = w.callWithRetry(ctx, stepMatch, func(ctx context.Context) error {
		var err error
		cands, err = w.matching.GetCandidates(ctx, &model.CandidateRequest{
			TripRequestID: req.ID,
			Origin:        order.Origin,
			Destination:   order.Destination,
			MaxCandidates: w.cfg.MaxCandidates,
			Seed:          order.Seed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(cands.Candidates) == 0 {
		return nil, errs.Newf(errs.KindNotFound, "no driver matched: %s", cands.ReasonCode)
	}
	chosen := cands.Candidates[0]
	w.emit("workflow.driver_matched", chosen.DriverID, map[string]string{
		"trip_request_id": req.ID,
		"probability":     fmt.Sprintf("%.4f", chosen.Probability),
	})

	// The chosen driver's attributes feed the fare computation.
	var driver *model.DriverStatus
	err = w.callWithRetry(ctx, stepMatch, func(ctx context.Context) error {
		var err error
		driver, err = w.drivers.GetDriverStatus(ctx, chosen.DriverID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Step 3: price. Read-only; the guardrail failure here is permanent.
	distanceM := geo.HaversineM(order.Origin, order.Destination)
	durationS := geo.EstimateDurationSeconds(order.Origin, order.Destination)

	priceReq := &model.PriceRequest{
		TripRequestID:            req.ID,
		PassengerID:              order.PassengerID,
		MatchedDriverID:          driver.DriverID,
		Origin:                   order.Origin,
		Destination:              order.Destination,
		EstimatedDistanceMeters:  distanceM,
		EstimatedDurationSeconds: durationS,
		DemandMultiplier:         order.DemandMultiplier,
		SupplyMultiplier:         order.SupplyMultiplier,
		DriverAcceptanceRate:     driver.AcceptanceRate,
		DriverRating:             driver.Rating,
		PricingSeed:              order.Seed,
		Zone:                     order.Zone,
	}
	var price *model.PriceResponse
	err = w.callWithRetry(ctx, stepPrice, func(ctx context.Context) error {
		var err error
		price, err = w.pricing.CalculatePrice(ctx, priceReq)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.emit("workflow.price_calculated", price.CalculationID, map[string]string{
		"trip_request_id": req.ID,
		"fare":            fmt.Sprintf("%.2f", price.PassengerFareTotal),
		"variant":         price.ABTestVariant,
	})

	// Step 4: reserve the driver under its current version.
	err = w.callWithRetry(ctx, stepReserveDriver, func(ctx context.Context) error {
		_, err := w.drivers.UpdateDriverStatus(ctx, driver.DriverID, false, driver.Version, uuid.NewString())
		return err
	})
	if err != nil {
		return nil, err
	}
	*wlog = append(*wlog, logEntry{step: stepReserveDriver, entityID: driver.DriverID})
	w.emit("workflow.driver_reserved", driver.DriverID, map[string]string{
		"trip_request_id": req.ID,
	})

	// Step 5: commit the trip. The trip service re-prices with the same
	// inputs and marks the request FULFILLED.
	var trip *model.Trip
	err = w.callWithRetry(ctx, stepCreateTrip, func(ctx context.Context) error {
		var err error
		trip, err = w.trips.CreateTrip(ctx, &service.CreateTripCommand{
			TripRequestID:            req.ID,
			PassengerID:              order.PassengerID,
			DriverID:                 driver.DriverID,
			Origin:                   order.Origin,
			Destination:              order.Destination,
			EstimatedDistanceMeters:  distanceM,
			EstimatedDurationSeconds: durationS,
			DemandMultiplier:         order.DemandMultiplier,
			SupplyMultiplier:         order.SupplyMultiplier,
			DriverAcceptanceRate:     driver.AcceptanceRate,
			DriverRating:             driver.Rating,
			PricingSeed:              order.Seed,
			Zone:                     order.Zone,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	w.emit("workflow.trip_created", trip.ID, map[string]string{
		"trip_request_id": req.ID,
		"driver_id":       driver.DriverID,
	})

	return &Result{
		TripID:        trip.ID,
		TripRequestID: req.ID,
		DriverID:      driver.DriverID,
		Price:         price,
	}, nil
}

// compensate walks the workflow log in reverse, undoing each
// side-effecting step. A compensation that itself fails is logged and
// emitted but never aborts the sweep — every remaining entry still runs.
func (w *TripWorkflow) compensate(ctx context.Context, wlog []logEntry, cause error) {
	w.log.WithError(cause).WithField("steps", len(wlog)).Warn("workflow failed, compensating")

	for i := len(wlog) - 1; i >= 0; i-- {
		entry := wlog[i]

		var err error
		switch entry.step {
		case stepReserveDriver:
			err = w.releaseDriver(ctx, entry.entityID)
		case stepCreateRequest:
			err = w.cancelRequest(ctx, entry.entityID)
		}

		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{
				"step":      entry.step,
				"entity_id": entry.entityID,
			}).Error("compensation failed")
			w.emit("workflow.compensation_failed", entry.entityID, map[string]string{
				"step":  entry.step,
				"error": err.Error(),
			})
			continue
		}
		w.emit("workflow.compensated", entry.entityID, map[string]string{
			"step": entry.step,
		})
	}
}

// releaseDriver flips the driver back to available. The version is
// re-read so the compensation survives any writes that happened since the
// reservation; the key is fresh because this is a new logical operation,
// not a retry of the reservation.
func (w *TripWorkflow) releaseDriver(ctx context.Context, driverID string) error {
	return w.callWithRetry(ctx, "release_driver", func(ctx context.Context) error {
		ds, err := w.drivers.GetDriverStatus(ctx, driverID)
		if err != nil {
			return err
		}
		if ds.Available {
			return nil
		}
		_, err = w.drivers.UpdateDriverStatus(ctx, driverID, true, ds.Version, uuid.NewString())
		return err
	})
}

// cancelRequest cancels the trip request opened by this execution. A
// request that already left OPEN is someone else's business.
func (w *TripWorkflow) cancelRequest(ctx context.Context, requestID string) error {
	return w.callWithRetry(ctx, "cancel_trip_request", func(ctx context.Context) error {
		req, err := w.requests.GetTripRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.RequestOpen {
			return nil
		}
		_, err = w.requests.CancelTripRequest(ctx, requestID, req.Version)
		return err
	})
}

// callWithRetry runs fn under the per-call timeout, retrying transient
// failures up to the configured attempt count with a fixed backoff.
// Permanent failures return immediately — retrying a version conflict or
// an FSM violation cannot succeed.
func (w *TripWorkflow) callWithRetry(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	attempts := w.cfg.RPCRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.RPCTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		w.log.WithError(err).WithFields(logrus.Fields{
			"step":    step,
			"attempt": attempt,
		}).Warn("transient failure")
		if attempt < attempts {
			w.sleep(w.cfg.RPCBackoff)
		}
	}
	return lastErr
}

// replay resolves an idempotency key to its previously committed trip.
func (w *TripWorkflow) replay(ctx context.Context, key string) (*Result, bool, error) {
	tripID, ok, err := w.idem.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var trip *model.Trip
	err = w.callWithRetry(ctx, stepReplayLookup, func(ctx context.Context) error {
		var err error
		trip, err = w.trips.GetTripByID(ctx, tripID)
		return err
	})
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			// The record outlived the trip store (e.g. a memory-backed
			// restart). Run the workflow fresh.
			w.log.WithField("trip_id", tripID).Warn("idempotency record points at missing trip")
			return nil, false, nil
		}
		return nil, false, err
	}

	return &Result{
		TripID:        trip.ID,
		TripRequestID: trip.TripRequestID,
		DriverID:      trip.DriverID,
		Replayed:      true,
	}, true, nil
}

// derivedKey builds the default idempotency key from the market and the
// order's identity fields, so a passenger hammering "request trip" for
// the same route collapses into one execution.
func (w *TripWorkflow) derivedKey(order *TripOrder) string {
	return fmt.Sprintf("%s:%s:%.6f,%.6f:%.6f,%.6f",
		w.cfg.Market, order.PassengerID,
		order.Origin.Lat, order.Origin.Lon,
		order.Destination.Lat, order.Destination.Lon,
	)
}
