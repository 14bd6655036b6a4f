package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/vcontrold-bridge/internal/bridge"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeDaemon         = "daemon_error"
	ErrCodeRejected       = "write_rejected"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDaemonError maps a daemon or bridge error to a response.
func writeDaemonError(w http.ResponseWriter, err error) {
	status, code := daemonErrorStatus(err)
	writeError(w, status, code, err.Error())
}

func daemonErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, vcontrold.ErrInvalidCommand),
		errors.Is(err, heating.ErrInvalidMode):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, vcontrold.ErrWriteRejected):
		return http.StatusUnprocessableEntity, ErrCodeRejected
	case errors.Is(err, bridge.ErrStopped),
		errors.Is(err, bridge.ErrNoDeviceID),
		errors.Is(err, vcontrold.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, vcontrold.ErrConnectionFailed),
		errors.Is(err, vcontrold.ErrProtocol),
		errors.Is(err, vcontrold.ErrFrameDesync),
		errors.Is(err, vcontrold.ErrDecode),
		errors.Is(err, bridge.ErrCycleFailed):
		return http.StatusBadGateway, ErrCodeDaemon
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
