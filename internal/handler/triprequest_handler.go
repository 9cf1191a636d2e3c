package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/service"
)

// tripRequestService is what the handler needs: the public contract plus
// the internal fulfill hook.
type tripRequestService interface {
	service.TripRequests
	service.RequestFulfiller
}

// TripRequestHandler exposes the trip request service.
type TripRequestHandler struct {
	svc tripRequestService
}

// NewTripRequestHandler creates the handler.
func NewTripRequestHandler(svc tripRequestService) *TripRequestHandler {
	return &TripRequestHandler{svc: svc}
}

// Routes registers the trip request endpoints.
func (h *TripRequestHandler) Routes(r *mux.Router) {
	r.HandleFunc("/trip-requests", h.CreateTripRequest).Methods(http.MethodPost)
	r.HandleFunc("/trip-requests/{id}", h.GetTripRequest).Methods(http.MethodGet)
	r.HandleFunc("/trip-requests/{id}/cancel", h.CancelTripRequest).Methods(http.MethodPost)
	r.HandleFunc("/trip-requests/{id}/fulfill", h.FulfillTripRequest).Methods(http.MethodPost)
}

type createTripRequestBody struct {
	PassengerID string         `json:"passenger_id"`
	Origin      model.Location `json:"origin"`
	Destination model.Location `json:"destination"`
}

// CreateTripRequest handles POST /trip-requests.
//
// Returns 200 with the passenger's OPEN request, creating it if needed.
func (h *TripRequestHandler) CreateTripRequest(w http.ResponseWriter, r *http.Request) {
	var body createTripRequestBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := h.svc.CreateTripRequest(r.Context(), body.PassengerID, body.Origin, body.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GetTripRequest handles GET /trip-requests/{id}.
func (h *TripRequestHandler) GetTripRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.GetTripRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type cancelTripRequestBody struct {
	ExpectedVersion int64 `json:"expected_version"`
}

// CancelTripRequest handles POST /trip-requests/{id}/cancel.
func (h *TripRequestHandler) CancelTripRequest(w http.ResponseWriter, r *http.Request) {
	var body cancelTripRequestBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := h.svc.CancelTripRequest(r.Context(), mux.Vars(r)["id"], body.ExpectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// FulfillTripRequest handles POST /trip-requests/{id}/fulfill. Internal:
// called by the trip service when a trip commits against the request.
func (h *TripRequestHandler) FulfillTripRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.FulfillTripRequest(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
