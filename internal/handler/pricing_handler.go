package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/pricing"
	"github.com/shiva/dgdo/internal/service"
)

// PricingHandler exposes the fare engine and the operator-facing fallback
// rate card.
type PricingHandler struct {
	svc   service.PriceCalculator
	store *pricing.Store
}

// NewPricingHandler creates the handler.
func NewPricingHandler(svc service.PriceCalculator, store *pricing.Store) *PricingHandler {
	return &PricingHandler{svc: svc, store: store}
}

// Routes registers the pricing endpoints.
func (h *PricingHandler) Routes(r *mux.Router) {
	r.HandleFunc("/price", h.CalculatePrice).Methods(http.MethodPost)
	r.HandleFunc("/config/fallback", h.GetFallbackConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/fallback", h.UpdateFallbackConfig).Methods(http.MethodPut)
}

// CalculatePrice handles POST /price.
//
// Returns 200 with the fare breakdown, or 422 when the fare would violate
// the unit-economics guardrail.
func (h *PricingHandler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var req model.PriceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.svc.CalculatePrice(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFallbackConfig handles GET /config/fallback.
func (h *PricingHandler) GetFallbackConfig(w http.ResponseWriter, r *http.Request) {
	fb, err := h.store.Fallback()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// UpdateFallbackConfig handles PUT /config/fallback. The new rate card is
// validated exactly like a file reload; an invalid card is rejected with
// 400 and the active config is untouched.
func (h *PricingHandler) UpdateFallbackConfig(w http.ResponseWriter, r *http.Request) {
	var fb pricing.FallbackConfig
	if err := decode(r, &fb); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.store.UpdateFallback(&fb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
