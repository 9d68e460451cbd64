package c2

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/secchiware/secchiware/internal/httperr"
	"github.com/secchiware/secchiware/internal/store"
)

// handleListSessions implements GET /sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	sessions, err := s.store.ListSessions(r.Context(), f)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, sessions)
}

// handleGetSession implements GET /sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, s.logger)
	if !ok {
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httperr.NotFound(w, s.logger, err, "session not found")
		return
	}
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, sess)
}

// handleDeleteSession implements DELETE /sessions/{id}. Client-signed; a
// still-active session (no session_end) cannot be deleted.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, s.logger)
	if !ok {
		return
	}
	if err := s.verifyClientRequest(r, nil, nil); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}
	err := s.store.DeleteSession(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httperr.NotFound(w, s.logger, err, "session not found")
	case errors.Is(err, store.ErrSessionActive):
		httperr.BadRequest(w, s.logger, err, "an active session cannot be deleted")
	case err != nil:
		httperr.InternalServerError(w, s.logger, err, "")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httperr.BadRequest(w, logger, err, "invalid id in path")
		return 0, false
	}
	return id, true
}
