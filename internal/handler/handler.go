// Package handler contains the HTTP handlers of the five RPC services and
// the workflow orchestrator. Each service gets its own router; the JSON
// shapes here are the wire contract the internal/client package speaks.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shiva/dgdo/internal/errs"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps error kinds to HTTP status codes. Transient failures map
// to 503 so clients can distinguish them from permanent refusals.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindVersionConflict:
		return http.StatusConflict
	case errs.KindIllegalTransition, errs.KindEconomicGuardrail, errs.KindPricingRejected:
		return http.StatusUnprocessableEntity
	case errs.KindConfigUnavailable, errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// kindFromStatus is the inverse mapping, used by the HTTP clients to
// rebuild a typed error from a response. 422 carries the specific kind in
// the error field, so this only needs the coarse cases.
func kindFromStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.KindInvalidArgument
	case http.StatusNotFound:
		return errs.KindNotFound
	case http.StatusConflict:
		return errs.KindVersionConflict
	case http.StatusServiceUnavailable:
		return errs.KindUnavailable
	default:
		return errs.KindInternal
	}
}

// KindFromWire reconstructs the error kind from a response's status code
// and error field. The error field wins when it names a known kind.
func KindFromWire(status int, errField string) errs.Kind {
	switch errs.Kind(errField) {
	case errs.KindInvalidArgument, errs.KindNotFound, errs.KindVersionConflict,
		errs.KindIllegalTransition, errs.KindEconomicGuardrail,
		errs.KindPricingRejected, errs.KindConfigUnavailable,
		errs.KindUnavailable, errs.KindInternal:
		return errs.Kind(errField)
	}
	return kindFromStatus(status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a service error onto the wire envelope.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, statusFor(kind), errorBody{
		Error:   string(kind),
		Message: err.Error(),
	})
}

// decode parses a JSON request body, rejecting unknown garbage early.
func decode(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}
