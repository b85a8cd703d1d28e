package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the API serves. Cache and Bus may be nil; Async
// requires a Bus.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Scoring   *pipeline.Service
	Artifacts *pipeline.Artifacts
	Analytics *analytics.Service
	Version   string

	// Async hands store-backed runs to the worker instead of running them
	// inside the request.
	Async bool
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Leads
		r.Post("/leads", handler.UpsertLeads)
		r.Get("/leads/{id}", handler.GetLead)
		r.Get("/leads/{id}/history", handler.GetLeadHistory)

		// Scoring
		r.Post("/score", handler.Score)
		r.Post("/runs", handler.StartRun)

		// Analytics
		r.Post("/analytics", handler.RunAnalytics)
		r.Get("/analytics/{id}", handler.GetReport)

		// Ruleset and model artifacts
		r.Get("/ruleset", handler.GetRuleset)
		r.Put("/ruleset", handler.PutRuleset)
		r.Get("/model", handler.GetModel)
		r.Put("/model", handler.PutModel)

		// Segment rules
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
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
