package c2

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/secchiware/secchiware/internal/events"
	"github.com/secchiware/secchiware/internal/httperr"
	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/testpkg"
)

type registerEnvironmentRequest struct {
	IP       string             `json:"ip"`
	Port     int                `json:"port"`
	Platform store.PlatformInfo `json:"platform"`
}

// handleRegisterEnvironment implements POST /environments: a Node announces
// itself, opening a Session and populating the active-node cache. Node-signed
// with a mandatory Digest header, per spec §4.1.
func (s *Server) handleRegisterEnvironment(w http.ResponseWriter, r *http.Request) {
	body, ok := readAll(w, r, s.logger)
	if !ok {
		return
	}
	if _, err := s.verifyNodeRequest(r, body, []string{"digest"}); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}

	var req registerEnvironmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httperr.BadRequest(w, s.logger, err, "malformed request body")
		return
	}
	if req.IP == "" || req.Port == 0 {
		httperr.BadRequest(w, s.logger, nil, "'ip' and 'port' are required")
		return
	}

	sess, err := s.store.OpenSession(r.Context(), req.IP, req.Port, req.Platform)
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}

	entry := ActiveEntry{SessionID: sess.ID, SessionStart: sess.SessionStart, Platform: req.Platform}
	if err := s.active.Set(r.Context(), req.IP, req.Port, entry); err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}

	s.events.Publish(r.Context(), events.EnvironmentRegistered, map[string]interface{}{
		"ip": req.IP, "port": req.Port, "session_id": sess.ID,
	})

	writeJSON(w, s.logger, http.StatusCreated, sess)
}

// handleUnregisterEnvironment implements DELETE /environments/{ip}/{port}:
// closes the active Session and evicts the active-node cache entry.
// Node-signed.
func (s *Server) handleUnregisterEnvironment(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	if _, err := s.verifyNodeRequest(r, nil, nil); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}

	sess, err := s.store.CloseSession(r.Context(), ip, port)
	if errors.Is(err, store.ErrNotFound) {
		httperr.NotFound(w, s.logger, err, "no active session for this environment")
		return
	}
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	if err := s.active.Delete(r.Context(), ip, port); err != nil {
		s.logger.Warn("c2: failed to evict active entry", slog.String("error", err.Error()))
	}

	s.events.Publish(r.Context(), events.EnvironmentClosed, map[string]interface{}{
		"ip": ip, "port": port, "session_id": sess.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleListEnvironments implements GET /environments: currently-active
// nodes, sourced from the durable session table (active = session_end IS
// NULL) rather than the cache, so search/filter semantics stay uniform with
// /sessions and /executions.
func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	sessions, err := s.store.ListSessions(r.Context(), f)
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	active := make([]store.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Active() {
			active = append(active, sess)
		}
	}
	writeJSON(w, s.logger, http.StatusOK, active)
}

// handleEnvironmentInfo implements GET /environments/{ip}/{port}/info.
func (s *Server) handleEnvironmentInfo(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	entry, ok, err := s.active.Get(r.Context(), ip, port)
	if err != nil {
		httperr.InternalServerError(w, s.logger, err, "")
		return
	}
	if !ok {
		httperr.NotFound(w, s.logger, nil, "environment is not registered")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, entry)
}

// handleGetInstalled implements GET /environments/{ip}/{port}/installed,
// forwarding to the Node's own test-set listing.
func (s *Server) handleGetInstalled(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	res, err := s.forwardToNode(r.Context(), ip, port, http.MethodGet, "/test_sets", "", nil)
	s.relayOrGatewayError(w, res, err)
}

// handlePatchInstalled implements PATCH /environments/{ip}/{port}/installed:
// a Client asks the C2 to push a set of packages from its master repository
// onto a specific Node. Client-signed + Digest.
func (s *Server) handlePatchInstalled(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	body, ok := s.readAndVerifyClient(w, r, true)
	if !ok {
		return
	}

	var req struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Packages) == 0 {
		httperr.BadRequest(w, s.logger, err, "'packages' is required")
		return
	}

	buf := new(bytes.Buffer)
	if err := testpkg.PackBundle(buf, s.repo.root, req.Packages); err != nil {
		httperr.BadRequest(w, s.logger, err, err.Error())
		return
	}
	bundle := buf.Bytes()

	res, err := s.forwardBundleToNode(r.Context(), ip, port, bundle)
	s.relayOrGatewayError(w, res, err)
}

// handleDeleteInstalled implements
// DELETE /environments/{ip}/{port}/installed/{package}. Client-signed.
func (s *Server) handleDeleteInstalled(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	pkg := chi.URLParam(r, "package")
	if err := s.verifyClientRequest(r, nil, nil); err != nil {
		writeVerifyError(w, s.logger, err)
		return
	}
	res, err := s.forwardToNode(r.Context(), ip, port, http.MethodDelete, "/test_sets/"+pkg, "", nil)
	s.relayOrGatewayError(w, res, err)
}

// handleEnvironmentReports implements GET /environments/{ip}/{port}/reports:
// forwards the selector to the Node, then durably records the resulting
// execution and its reports against the environment's active session.
func (s *Server) handleEnvironmentReports(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := ipPort(w, r, s.logger)
	if !ok {
		return
	}
	sel := parseSelector(r)
	res, err := s.forwardToNode(r.Context(), ip, port, http.MethodGet, "/reports", selectorQuery(sel), nil)
	if err != nil {
		mapForwardError(w, s.logger, err)
		return
	}
	if res.Status == http.StatusNotFound {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write(res.Body)
		return
	}
	if res.Status != http.StatusOK {
		httperr.BadGateway(w, s.logger, nil, "node returned an unexpected status")
		return
	}

	var reports []testpkg.Report
	if err := json.Unmarshal(res.Body, &reports); err != nil {
		httperr.BadGateway(w, s.logger, err, "node returned a malformed report list")
		return
	}

	entry, ok, err := s.active.Get(r.Context(), ip, port)
	if err == nil && ok {
		exec, err := s.store.CreateExecution(r.Context(), entry.SessionID)
		if err == nil {
			if err := s.store.SaveReports(r.Context(), exec.ID, reports); err != nil {
				s.logger.Warn("c2: failed to persist reports", slog.String("error", err.Error()))
			}
			s.events.Publish(r.Context(), events.ExecutionCompleted, map[string]interface{}{
				"ip": ip, "port": port, "execution_id": exec.ID, "report_count": len(reports),
			})
		} else {
			s.logger.Warn("c2: failed to create execution record", slog.String("error", err.Error()))
		}
	}

	writeJSON(w, s.logger, http.StatusOK, reports)
}

func ipPort(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, int, bool) {
	ip := chi.URLParam(r, "ip")
	portStr := chi.URLParam(r, "port")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		httperr.BadRequest(w, logger, err, "invalid port in path")
		return "", 0, false
	}
	return ip, port, true
}

func (s *Server) relayOrGatewayError(w http.ResponseWriter, res *forwardResult, err error) {
	if err != nil {
		mapForwardError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", res.Header.Get("Content-Type"))
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

func mapForwardError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, errNodeTimeout):
		httperr.GatewayTimeout(w, logger, err, "node did not respond in time")
	case errors.Is(err, errNodeUnreachable):
		httperr.GatewayTimeout(w, logger, err, "node is unreachable")
	default:
		httperr.InternalServerError(w, logger, err, "")
	}
}
