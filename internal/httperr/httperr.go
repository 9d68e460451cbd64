// Package httperr standardizes error responses across the Node and C2
// services: a single JSON envelope {"error": "<message>"}, per spec §6,
// plus slog-based logging of the underlying cause, adapted from the
// teacher's errors.RespondWithError helper.
package httperr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope struct {
	Error string `json:"error"`
}

// Write sends the standard error envelope and logs internalErr (if any)
// alongside the response status and message.
func Write(w http.ResponseWriter, logger *slog.Logger, status int, internalErr error, message string) {
	if internalErr != nil {
		logger.Error("request failed", slog.Int("status", status), slog.String("message", message), slog.String("cause", internalErr.Error()))
	} else {
		logger.Warn("request rejected", slog.Int("status", status), slog.String("message", message))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: message}); err != nil {
		logger.Error("failed to encode error envelope", slog.String("error", err.Error()))
	}
}

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	Write(w, logger, http.StatusBadRequest, err, message)
}

// Unauthorized writes a 401 with the WWW-Authenticate challenge naming the
// SECCHIWARE-HMAC-256 scheme, per spec §4.1's failure taxonomy.
func Unauthorized(w http.ResponseWriter, logger *slog.Logger, realm string, err error, message string) {
	w.Header().Set("WWW-Authenticate", `SECCHIWARE-HMAC-256 realm="`+realm+`"`)
	Write(w, logger, http.StatusUnauthorized, err, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	Write(w, logger, http.StatusNotFound, err, message)
}

func UnsupportedMediaType(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	Write(w, logger, http.StatusUnsupportedMediaType, err, message)
}

func BadGateway(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	Write(w, logger, http.StatusBadGateway, err, message)
}

func GatewayTimeout(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	Write(w, logger, http.StatusGatewayTimeout, err, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "an unexpected error occurred"
	}
	Write(w, logger, http.StatusInternalServerError, err, message)
}
