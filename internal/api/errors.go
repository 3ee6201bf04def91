package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/device"
	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeNotConfigured      = "gateway_not_configured"
	ErrCodeGatewayUnreachable = "gateway_unreachable"
	ErrCodeGatewayRejected    = "gateway_rejected"
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

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
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

// writeDomainError maps device, settings and gateway errors onto HTTP.
func writeDomainError(w http.ResponseWriter, err error) {
	var gwErr *dali.GatewayError
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, device.ErrInvalidCapability),
		errors.Is(err, device.ErrInvalidValue),
		errors.Is(err, dali.ErrInvalidLevel),
		errors.Is(err, dali.ErrInvalidScene),
		errors.Is(err, settings.ErrUnknownKey),
		errors.Is(err, settings.ErrReadOnlyKey):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, dali.ErrConfigIncomplete),
		errors.Is(err, dali.ErrNoAccessToken):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, err.Error())
	case errors.As(err, &gwErr):
		if gwErr.StatusCode == 0 {
			writeError(w, http.StatusBadGateway, ErrCodeGatewayUnreachable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeGatewayRejected, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
