package c2

import (
	"errors"
	"net/http"

	"github.com/secchiware/secchiware/internal/httperr"
	"github.com/secchiware/secchiware/internal/store"
)

// handleListExecutions implements GET /executions.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	executions, err := s.store.ListExecutions(r.Context(), f)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, executions)
}

// handleDeleteExecution implements DELETE /executions/{id}. Client-signed.
func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, s.logger)
	if !ok {
		return
	}
	if err := s.verifyClientRequest(r, nil, nil); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}
	err := s.store.DeleteExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httperr.NotFound(w, s.logger, err, "execution not found")
		return
	}
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
