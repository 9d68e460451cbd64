package node

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secchiware/secchiware/internal/httpmw"
)

func buildRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmw.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/test_sets", func(r chi.Router) {
		r.Get("/", s.handleListTestSets)
		r.Patch("/", s.handleInstallTestSets)
		r.Delete("/{package}", s.handleDeletePackage)
	})

	r.Get("/reports", s.handleReports)

	r.Delete("/", s.handleShutdown)

	return r
}
