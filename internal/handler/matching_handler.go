package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/service"
)

// MatchingHandler exposes the matching service.
type MatchingHandler struct {
	svc service.CandidateFinder
}

// NewMatchingHandler creates the handler.
func NewMatchingHandler(svc service.CandidateFinder) *MatchingHandler {
	return &MatchingHandler{svc: svc}
}

// Routes registers the matching endpoints.
func (h *MatchingHandler) Routes(r *mux.Router) {
	r.HandleFunc("/candidates", h.GetCandidates).Methods(http.MethodPost)
}

// GetCandidates handles POST /candidates.
//
// Returns 200 with the ranked candidate list; an empty list carries a
// reason_code instead of an error.
func (h *MatchingHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	var req model.CandidateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.svc.GetCandidates(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
