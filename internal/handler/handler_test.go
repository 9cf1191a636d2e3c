package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
	"github.com/shiva/dgdo/internal/service"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

var hOrigin = model.Location{Lat: 40.2832, Lon: 69.6220}
var hDest = model.Location{Lat: 40.2154, Lon: 69.6948}

// alwaysPricer approves everything the trip handler asks for.
type alwaysPricer struct{}

func (alwaysPricer) CalculatePrice(ctx context.Context, req *model.PriceRequest) (*model.PriceResponse, error) {
	return &model.PriceResponse{
		TripRequestID:      req.TripRequestID,
		PassengerFareTotal: 18,
		DriverPayoutTotal:  14.4,
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *service.TripRequestService, *service.TripService) {
	t.Helper()
	requestSvc := service.NewTripRequestService(repository.NewMemoryTripRequestRepository(), testLog())
	tripSvc := service.NewTripService(repository.NewMemoryTripRepository(), alwaysPricer{}, requestSvc, testLog())

	router := mux.NewRouter()
	NewTripRequestHandler(requestSvc).Routes(router)
	NewTripHandler(tripSvc).Routes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, requestSvc, tripSvc
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestTripRequestEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Create.
	resp := postJSON(t, srv.URL+"/trip-requests", map[string]interface{}{
		"passenger_id": "P1",
		"origin":       hOrigin,
		"destination":  hDest,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var req model.TripRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&req))
	assert.Equal(t, model.RequestOpen, req.Status)

	// Fetch.
	getResp, err := http.Get(srv.URL + "/trip-requests/" + req.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	// Stale version cancel → 409 VERSION_CONFLICT.
	resp = postJSON(t, srv.URL+"/trip-requests/"+req.ID+"/cancel", map[string]int64{"expected_version": 99})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(errs.KindVersionConflict), decodeError(t, resp).Error)

	// Correct version cancel.
	resp = postJSON(t, srv.URL+"/trip-requests/"+req.ID+"/cancel", map[string]int64{"expected_version": req.Version})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Cancelling a terminal request → 422 ILLEGAL_TRANSITION.
	resp = postJSON(t, srv.URL+"/trip-requests/"+req.ID+"/cancel", map[string]int64{"expected_version": req.Version + 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(errs.KindIllegalTransition), decodeError(t, resp).Error)
}

func TestTripEndpoints_ErrorMapping(t *testing.T) {
	srv, requestSvc, _ := newTestServer(t)
	ctx := context.Background()

	req, err := requestSvc.CreateTripRequest(ctx, "P1", hOrigin, hDest)
	require.NoError(t, err)

	// Create the trip over the wire.
	resp := postJSON(t, srv.URL+"/trips", service.CreateTripCommand{
		TripRequestID: req.ID,
		PassengerID:   "P1",
		DriverID:      "D1",
		Origin:        hOrigin,
		Destination:   hDest,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trip model.Trip
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trip))

	// Unknown trip → 404.
	getResp, err := http.Get(srv.URL + "/trips/ghost")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)

	// FSM violation → 422 ILLEGAL_TRANSITION.
	resp = postJSON(t, srv.URL+"/trips/"+trip.ID+"/status", map[string]interface{}{
		"new_status":       model.TripCompleted,
		"expected_version": trip.Version,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(errs.KindIllegalTransition), decodeError(t, resp).Error)

	// Garbage body → 400.
	badResp, err := http.Post(srv.URL+"/trips", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestKindFromWire(t *testing.T) {
	// The error field wins when it names a kind.
	assert.Equal(t, errs.KindEconomicGuardrail, KindFromWire(http.StatusUnprocessableEntity, "ECONOMIC_GUARDRAIL"))
	assert.Equal(t, errs.KindPricingRejected, KindFromWire(http.StatusUnprocessableEntity, "PRICING_REJECTED"))
	// Unknown error fields fall back to the status code.
	assert.Equal(t, errs.KindVersionConflict, KindFromWire(http.StatusConflict, "weird"))
	assert.Equal(t, errs.KindUnavailable, KindFromWire(http.StatusServiceUnavailable, ""))
	assert.Equal(t, errs.KindInternal, KindFromWire(http.StatusTeapot, ""))
}

func TestStatusFor_RoundTripsThroughWire(t *testing.T) {
	kinds := []errs.Kind{
		errs.KindInvalidArgument, errs.KindNotFound, errs.KindVersionConflict,
		errs.KindIllegalTransition, errs.KindEconomicGuardrail,
		errs.KindPricingRejected, errs.KindUnavailable,
	}
	for _, kind := range kinds {
		status := statusFor(kind)
		assert.Equal(t, kind, KindFromWire(status, string(kind)), "kind %s", kind)
	}
}
