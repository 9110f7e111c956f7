package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nhbcdp/native/cdp"
	"nhbcdp/native/clip"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/observability"
	"nhbcdp/storage/journal"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps the ledger error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, cdp.ErrUnknownCollateral), errors.Is(err, clip.ErrNotRunning), errors.Is(err, errNoFeed):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, nativecommon.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errNoCaller):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, nativecommon.ErrPrice):
		return http.StatusUnprocessableEntity, "price"
	case errors.Is(err, nativecommon.ErrSolvency):
		return http.StatusConflict, "solvency"
	case errors.Is(err, nativecommon.ErrBudget):
		return http.StatusConflict, "budget"
	case errors.Is(err, nativecommon.ErrState):
		return http.StatusConflict, "state"
	case errors.Is(err, journal.ErrUnknownDriver), errors.Is(err, errNoJournal), errors.Is(err, errNoStream):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	observability.Gateway().RecordRejection(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
