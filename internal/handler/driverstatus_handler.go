package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/service"
)

// DriverStatusHandler exposes the driver status service.
type DriverStatusHandler struct {
	svc *service.DriverStatusService
}

// NewDriverStatusHandler creates the handler.
func NewDriverStatusHandler(svc *service.DriverStatusService) *DriverStatusHandler {
	return &DriverStatusHandler{svc: svc}
}

// Routes registers the driver status endpoints.
func (h *DriverStatusHandler) Routes(r *mux.Router) {
	r.HandleFunc("/drivers", h.RegisterDriver).Methods(http.MethodPost)
	r.HandleFunc("/drivers/{id}", h.GetDriverStatus).Methods(http.MethodGet)
	r.HandleFunc("/drivers/{id}/status", h.UpdateDriverStatus).Methods(http.MethodPost)
}

// RegisterDriver handles POST /drivers.
func (h *DriverStatusHandler) RegisterDriver(w http.ResponseWriter, r *http.Request) {
	var ds model.DriverStatus
	if err := decode(r, &ds); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.RegisterDriver(r.Context(), &ds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// GetDriverStatus handles GET /drivers/{id}.
func (h *DriverStatusHandler) GetDriverStatus(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.GetDriverStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

type updateDriverStatusBody struct {
	Available       bool   `json:"available"`
	ExpectedVersion int64  `json:"expected_version"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// UpdateDriverStatus handles POST /drivers/{id}/status.
//
// A repeated idempotency key returns the stored result; a stale version
// returns 409.
func (h *DriverStatusHandler) UpdateDriverStatus(w http.ResponseWriter, r *http.Request) {
	var body updateDriverStatusBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	ds, err := h.svc.UpdateDriverStatus(r.Context(), mux.Vars(r)["id"], body.Available, body.ExpectedVersion, body.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}
