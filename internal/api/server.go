// Package api exposes the workbook, synthesis and rule endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, cfg.MaxUploadMB, version)
	router := chi.NewRouter()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	// Global middleware stack
	router.Use(CORSMiddleware(origins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes and metrics (no token required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(RequireToken)

		// Workbook and synthesis routes validate the token after their own
		// input checks.
		r.Post("/upload", handler.Upload)
		r.Post("/info", handler.Info)
		r.Post("/uploadForCloud", handler.UploadForCloud)
		r.Post("/getsynthese", handler.GetSynthese)

		r.Group(func(r chi.Router) {
			r.Use(ValidateToken(deps.Auth))

			r.Post("/batches", handler.SubmitBatch)

			r.Get("/syntheses", handler.ListSyntheses)
			r.Get("/syntheses/{id}", handler.GetSynthesis)

			r.Get("/rules", handler.ListRules)
			r.Get("/rules/{name}", handler.GetRule)
			r.Post("/rules", handler.SaveRule)
			r.Post("/rules/reload", handler.ReloadRules)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
