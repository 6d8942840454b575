package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/provisioning"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeProvisioningError maps provisioning and device sentinel errors to
// HTTP responses. Unrecognised errors become a 500 with a generic message
// so internal details never leak to callers.
func writeProvisioningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provisioning.ErrValidation),
		errors.Is(err, provisioning.ErrBatchEmpty):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, provisioning.ErrDuplicateDevice),
		errors.Is(err, provisioning.ErrAlreadyProvisioned),
		errors.Is(err, provisioning.ErrAlreadyPaired):
		writeConflict(w, err.Error())
	case errors.Is(err, provisioning.ErrAuthenticationFailed):
		writeUnauthorized(w, err.Error())
	case errors.Is(err, provisioning.ErrBatchNotFound),
		errors.Is(err, device.ErrRegistrationNotFound),
		errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
