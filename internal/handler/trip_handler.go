package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/service"
)

// TripHandler exposes the trip service.
type TripHandler struct {
	svc service.Trips
}

// NewTripHandler creates the handler.
func NewTripHandler(svc service.Trips) *TripHandler {
	return &TripHandler{svc: svc}
}

// Routes registers the trip endpoints.
func (h *TripHandler) Routes(r *mux.Router) {
	r.HandleFunc("/trips", h.CreateTrip).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}", h.GetTrip).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/status", h.UpdateTripStatus).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/cancel", h.CancelTrip).Methods(http.MethodPost)
	r.HandleFunc("/trips/by-request/{request_id}", h.GetTripByRequest).Methods(http.MethodGet)
}

// CreateTrip handles POST /trips.
//
// Returns 200 with the trip for this trip_request_id — freshly created or
// previously committed — or 422 when pricing refuses the trip.
func (h *TripHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var cmd service.CreateTripCommand
	if err := decode(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	trip, err := h.svc.CreateTrip(r.Context(), &cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// GetTrip handles GET /trips/{id}.
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.svc.GetTripByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// GetTripByRequest handles GET /trips/by-request/{request_id}.
func (h *TripHandler) GetTripByRequest(w http.ResponseWriter, r *http.Request) {
	trip, err := h.svc.GetTripByRequestID(r.Context(), mux.Vars(r)["request_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

type updateTripStatusBody struct {
	NewStatus       model.TripStatus `json:"new_status"`
	ExpectedVersion int64            `json:"expected_version"`
}

// UpdateTripStatus handles POST /trips/{id}/status.
//
// Returns 409 on a stale version and 422 on an FSM violation.
func (h *TripHandler) UpdateTripStatus(w http.ResponseWriter, r *http.Request) {
	var body updateTripStatusBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	trip, err := h.svc.UpdateTripStatus(r.Context(), mux.Vars(r)["id"], body.NewStatus, body.ExpectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

type cancelTripBody struct {
	Reason          model.TripStatus `json:"reason"`
	ExpectedVersion int64            `json:"expected_version"`
}

// CancelTrip handles POST /trips/{id}/cancel.
func (h *TripHandler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	var body cancelTripBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	trip, err := h.svc.CancelTrip(r.Context(), mux.Vars(r)["id"], body.Reason, body.ExpectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
