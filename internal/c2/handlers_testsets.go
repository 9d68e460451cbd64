package c2

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/secchiware/secchiware/internal/httperr"
)

// handleListTestSets implements GET /test_sets: the C2's master repository
// listing, mirroring the shape a Node's own GET /test_sets returns.
func (s *Server) handleListTestSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.repo.Tree().Info())
}

// handlePatchTestSets implements PATCH /test_sets: a Client uploads a
// tar.gz bundle to install or update packages in the master repository.
// Client-signed + Digest.
func (s *Server) handlePatchTestSets(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/gzip" && ct != "application/octet-stream" {
		httperr.UnsupportedMediaType(w, s.logger, nil, "expected a gzip-compressed tar bundle")
		return
	}
	body, ok := s.readAndVerifyClient(w, r, true)
	if !ok {
		return
	}

	_, err := s.repo.Install(r.Context(), body)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteTestSet implements DELETE /test_sets/{package}. Client-signed.
func (s *Server) handleDeleteTestSet(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "package")
	if err := s.verifyClientRequest(r, nil, nil); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}
	err := s.repo.Delete(r.Context(), pkg)
	if errors.Is(err, ErrPackageNotFound) {
		httperr.NotFound(w, s.logger, err, "package not found")
		return
	}
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
