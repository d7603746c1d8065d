package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quaydock/lighter"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError maps the package sentinels to HTTP status codes and writes
// the matching error envelope.
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	switch {
	case errors.Is(err, lighter.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, lighter.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, lighter.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, lighter.ErrNotSupported):
		WriteError(w, http.StatusNotImplemented, "not_supported", err.Error())
	case errors.Is(err, lighter.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, "unauthorized", "invalid or missing API key")
	case errors.Is(err, lighter.ErrConfig):
		WriteError(w, http.StatusInternalServerError, "config_error", "storage misconfigured")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
