// Package c2 implements the central orchestrator: the registry of active
// analysis environments, the master test-package repository, and the
// session/execution/report history, fronted by an HTTP API that Nodes
// register against and Clients drive. Grounded throughout on the teacher's
// central service (pkg/api/routes.go router shape, central/main.go wiring),
// generalized from a job-dispatch API to the Secchiware control plane.
package c2

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/internal/events"
	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/broker"
)

// Server holds every dependency the C2's HTTP handlers need.
type Server struct {
	store    store.Store
	broker   broker.Broker
	active   *ActiveTable
	repo     *Repository
	events   *events.Publisher
	logger   *slog.Logger
	router   http.Handler

	clientSecret string
	nodeSecrets  map[string]string

	c2KeyID  string
	c2Secret string

	nodeClient  *http.Client
	nodeTimeout time.Duration
}

// NewServer wires all dependencies and builds the router.
func NewServer(cfg *config.C2Config, st store.Store, b broker.Broker, repo *Repository, pub *events.Publisher, logger *slog.Logger) *Server {
	s := &Server{
		store:        st,
		broker:       b,
		active:       NewActiveTable(b),
		repo:         repo,
		events:       pub,
		logger:       logger,
		clientSecret: cfg.ClientSecret,
		nodeSecrets:  cfg.NodeSecrets,
		c2KeyID:      cfg.C2KeyID,
		c2Secret:     cfg.C2Secret,
		nodeTimeout:  cfg.NodeTimeout,
		nodeClient:   &http.Client{Timeout: cfg.NodeTimeout},
	}
	s.router = buildRouter(s, cfg.AllowedOrigins, logger)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
