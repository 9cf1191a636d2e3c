package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/dgdo/internal/workflow"
)

// WorkflowHandler exposes the trip creation saga.
type WorkflowHandler struct {
	wf *workflow.TripWorkflow
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(wf *workflow.TripWorkflow) *WorkflowHandler {
	return &WorkflowHandler{wf: wf}
}

// Routes registers the orchestrator endpoint.
func (h *WorkflowHandler) Routes(r *mux.Router) {
	r.HandleFunc("/workflows/trip", h.ExecuteTripWorkflow).Methods(http.MethodPost)
}

// ExecuteTripWorkflow handles POST /workflows/trip.
//
// Returns 200 with the committed (or replayed) trip. On failure every
// completed step has already been compensated; the response carries the
// failing step's error.
func (h *WorkflowHandler) ExecuteTripWorkflow(w http.ResponseWriter, r *http.Request) {
	var order workflow.TripOrder
	if err := decode(r, &order); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.wf.Execute(r.Context(), &order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
