package node

import (
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/secchiware/secchiware/internal/httperr"
	"github.com/secchiware/secchiware/internal/replay"
	"github.com/secchiware/secchiware/pkg/signing"
	"github.com/secchiware/secchiware/pkg/testpkg"
)

const authRealm = "secchiware-node"

func (s *Server) headerRecoverer(r *http.Request) signing.HeaderRecoverer {
	return func(name string) (string, bool) {
		if name == "host" {
			if r.Host == "" {
				return "", false
			}
			return r.Host, true
		}
		v := r.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
}

func (s *Server) verifyC2Request(r *http.Request, mandatoryHeaders []string) error {
	mandatoryHeaders = append([]string{"host", "timestamp"}, mandatoryHeaders...)
	if err := signing.Verify(r.Header.Get("Authorization"), s.c2Secret, s.headerRecoverer(r), r.Method, r.URL.Path, r.URL.RawQuery, mandatoryHeaders); err != nil {
		return err
	}
	params, err := signing.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	return replay.Check(r.Context(), s.broker, r.Header.Get("timestamp"), params.Signature)
}

func (s *Server) writeVerifyError(w http.ResponseWriter, err error) {
	if ve, ok := err.(*signing.VerifyError); ok {
		switch ve.Kind {
		case signing.ErrUnknownKey, signing.ErrBadSignature, signing.ErrMissingMandatoryHeader:
			httperr.Unauthorized(w, s.logger, authRealm, err, ve.Error())
			return
		default:
			httperr.BadRequest(w, s.logger, err, ve.Error())
			return
		}
	}
	httperr.BadRequest(w, s.logger, err, err.Error())
}

// handleListTestSets implements GET /test_sets: the full installed
// package/module/test-set tree, per spec §4.3.
func (s *Server) handleListTestSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.registry.Load().Info())
}

// handleInstallTestSets implements PATCH /test_sets: the C2 pushes a
// multipart/form-data body carrying a "packages" tar.gz bundle to install or
// update, Digest + C2 signature mandatory.
func (s *Server) handleInstallTestSets(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, "failed to read request body")
		return
	}
	r.Body = io.NopCloser(bytesReader(body))

	if err := verifyDigestBytes(r, body); err != nil {
		s.writeVerifyError(w, err)
		return
	}
	if err := s.verifyC2Request(r, []string{"digest"}); err != nil {
		s.writeVerifyError(w, err)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		httperr.UnsupportedMediaType(w, s.logger, err, "expected a multipart/form-data body")
		return
	}
	file, _, err := r.FormFile("packages")
	if err != nil {
		httperr.BadRequest(w, s.logger, err, "'packages' file field is required")
		return
	}
	defer file.Close()

	_, err = testpkg.UnpackBundle(file, s.cfg.TestRoot)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	if err := s.registry.ReloadFromDisk(s.cfg.TestRoot); err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePackage implements DELETE /test_sets/{package}.
func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	if err := s.verifyC2Request(r, nil); err != nil {
		s.writeVerifyError(w, err)
		return
	}
	pkg := chi.URLParam(r, "package")
	tree := s.registry.Load()
	if _, ok := tree.Packages[pkg]; !ok {
		httperr.NotFound(w, s.logger, nil, "package not found")
		return
	}
	if err := removePackageDir(s.cfg.TestRoot, pkg); err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	if err := s.registry.ReloadFromDisk(s.cfg.TestRoot); err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleShutdown implements DELETE /: a graceful-shutdown request from the
// C2. Once 204 is written, the node stops its HTTP listener and terminates.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := s.verifyC2Request(r, nil); err != nil {
		s.writeVerifyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.requestShutdown()
}

// runMu serializes test executions: the Node runs one GET /reports at a time.
var runMu sync.Mutex

// handleReports implements GET /reports: resolves the query's selector and
// runs every matching test, returning the resulting reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelector(r)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	resolved, err := testpkg.Resolve(s.registry.Load(), sel)
	if err != nil {
		httperr.NotFound(w, s.logger, err, err.Error())
		return
	}
	runMu.Lock()
	reports := s.runner.Run(r.Context(), resolved)
	runMu.Unlock()
	if reports == nil {
		reports = []testpkg.Report{}
	}
	writeJSON(w, s.logger, http.StatusOK, reports)
}
