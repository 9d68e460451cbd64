package c2

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/secchiware/secchiware/internal/httpmw"
)

// buildRouter wires the full C2 HTTP surface, following the teacher's
// pkg/api/routes.go CORS-then-middleware-then-routes layering.
func buildRouter(s *Server, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Digest"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmw.StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/environments", func(r chi.Router) {
		r.Get("/", s.handleListEnvironments)
		r.Post("/", s.handleRegisterEnvironment)
		r.Route("/{ip}/{port}", func(r chi.Router) {
			r.Delete("/", s.handleUnregisterEnvironment)
			r.Get("/info", s.handleEnvironmentInfo)
			r.Route("/installed", func(r chi.Router) {
				r.Get("/", s.handleGetInstalled)
				r.Patch("/", s.handlePatchInstalled)
				r.Delete("/{package}", s.handleDeleteInstalled)
			})
			r.Get("/reports", s.handleEnvironmentReports)
		})
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Delete("/{id}", s.handleDeleteExecution)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
	})

	r.Route("/test_sets", func(r chi.Router) {
		r.Get("/", s.handleListTestSets)
		r.Patch("/", s.handlePatchTestSets)
		r.Delete("/{package}", s.handleDeleteTestSet)
	})

	return r
}
