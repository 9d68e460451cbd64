package c2

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/secchiware/secchiware/internal/httperr"
)

func readAll(w http.ResponseWriter, r *http.Request, logger *slog.Logger) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httperr.BadRequest(w, logger, err, "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("c2: failed to encode response", slog.String("error", err.Error()))
	}
}
