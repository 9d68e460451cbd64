// Package node implements the analysis-sandbox agent: it exposes the
// installed test-package repository to the C2, executes selected tests on
// demand, and maintains its own registration lifecycle against the C2.
// Grounded on the teacher's central service wiring (central/main.go,
// pkg/api), generalized from a job-runner HTTP server into the Node side
// of the control plane.
package node

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/pkg/broker"
	"github.com/secchiware/secchiware/pkg/broker/memorybroker"
	"github.com/secchiware/secchiware/pkg/testpkg"
)

// Server holds the Node's HTTP handler dependencies.
type Server struct {
	cfg      *config.NodeConfig
	registry *testpkg.Registry
	runner   *testpkg.Runner
	logger   *slog.Logger
	router   http.Handler
	broker   broker.Broker

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer builds a Node server. It keeps its own in-process broker for
// replay-nonce bookkeeping (design notes §9 option a): a Node is a single
// process and needs no distributed coordination for that.
func NewServer(cfg *config.NodeConfig, registry *testpkg.Registry, runner *testpkg.Runner, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, registry: registry, runner: runner, logger: logger, broker: memorybroker.New(), shutdownCh: make(chan struct{})}
	s.router = buildRouter(s)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ShutdownRequested is closed once a C2-authenticated DELETE / is handled,
// signalling cmd/node's main loop to run the same disconnect-and-shutdown
// sequence it runs on SIGINT/SIGTERM.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// c2Secret is the key recoverer for C2 requests; it only recognizes the C2's own identity, mirroring the
// reference node.py's single-key check (`keyID == "C2"`).
func (s *Server) c2Secret(keyID string) ([]byte, bool) {
	if keyID != s.cfg.C2PublicKeyID {
		return nil, false
	}
	return []byte(s.cfg.C2Secret), true
}

const requestTimeout = 30 * time.Second
