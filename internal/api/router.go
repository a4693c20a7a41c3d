package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server represents the API server consumed by the dashboard.
type Server struct {
	router   chi.Router
	handlers *Handlers
}

func NewServer(deps Deps) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		handlers: NewHandlers(deps),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/patients", s.handlers.ListPatients)

		r.Route("/channels/{channelId}", func(r chi.Router) {
			r.Get("/vitals", s.handlers.GetVitals)
			r.Get("/history", s.handlers.GetHistory)
			r.Get("/export.csv", s.handlers.ExportCSV)
			r.Get("/export.xlsx", s.handlers.ExportXLSX)

			r.Put("/override", s.handlers.SetOverride)
			r.Delete("/override", s.handlers.ClearOverride)

			r.Route("/logger", func(r chi.Router) {
				r.Get("/", s.handlers.GetLogger)
				r.Delete("/", s.handlers.ClearLogger)
				r.Post("/start", s.handlers.StartLogger)
				r.Post("/stop", s.handlers.StopLogger)
				r.Post("/export", s.handlers.ExportLogger)
			})
		})
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}
