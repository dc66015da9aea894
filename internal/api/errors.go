package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/onboarding"
	"github.com/nerrad567/plc-remote/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeNotConnected      = "not_connected"
	ErrCodeBrokerUnreachable = "broker_unreachable"
	ErrCodeDeviceOffline     = "device_offline"
	ErrCodePublishFailed     = "publish_failed"
	ErrCodeTimeout           = "timeout"
	ErrCodeUnavailable       = "unavailable"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps package sentinel errors to HTTP responses. Unknown
// errors become 500s and are logged by the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrInvalidIdentifier), errors.Is(err, device.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeNotConnected, "device is not connected")
	case errors.Is(err, session.ErrPublishFailed):
		writeError(w, http.StatusBadGateway, ErrCodePublishFailed, "command could not be published")
	case errors.Is(err, onboarding.ErrBrokerUnreachable):
		writeError(w, http.StatusBadGateway, ErrCodeBrokerUnreachable, "MQTT broker unreachable")
	case errors.Is(err, onboarding.ErrDeviceOffline):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceOffline, err.Error())
	case errors.Is(err, onboarding.ErrRecentNotFound):
		writeNotFound(w, "device not in recent history")
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out")
	default:
		writeInternalError(w, "internal server error")
	}
}
