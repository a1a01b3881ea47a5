// Package server exposes the dispatcher and the memory graph over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/easeaico/ctrl-clair/internal/memory"
	"github.com/easeaico/ctrl-clair/internal/service"
	"github.com/easeaico/ctrl-clair/internal/tools"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dispatcher is the orchestration surface the agents endpoint drives.
// *service.Dispatcher satisfies it.
type Dispatcher interface {
	ProcessPrompt(ctx context.Context, prompt string) service.PromptResult
	ExecuteAgentAction(ctx context.Context, a service.Action) service.ActionResult
}

// Graph is the memory graph surface the memory endpoints need.
// *memory.Graph satisfies it.
type Graph interface {
	Memory(ctx context.Context) memory.Memory
	Stats(ctx context.Context) memory.Stats
	AddNode(ctx context.Context, in memory.NewNode) memory.Node
	GetNode(ctx context.Context, id string) (memory.Node, bool)
	UpdateNode(ctx context.Context, id string, upd memory.NodeUpdate) (memory.Node, bool)
	ConnectNodes(ctx context.Context, sourceID, targetID string) bool
	SearchNodes(ctx context.Context, query string) []memory.Node
	SearchKind(ctx context.Context, kind memory.Kind, query string) []memory.Node
	RecentNodes(ctx context.Context, limit int) []memory.Node
	Clear(ctx context.Context)
}

// Config holds the server's collaborators.
type Config struct {
	Dispatcher  Dispatcher
	Graph       Graph
	Generator   flux.Generator
	Tools       *tools.Handler
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	Environment string
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
}

// Server routes HTTP requests to the dispatcher and the memory graph.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New creates a server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Handler configures all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(s.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Post("/agents", s.handleAgents)
		r.Get("/agents", s.listAgents)

		r.Post("/flux", s.handleFlux)

		r.Route("/memory", func(r chi.Router) {
			r.Get("/", s.getMemory)
			r.Delete("/", s.clearMemory)
			r.Get("/stats", s.memoryStats)
			r.Get("/recent", s.recentNodes)
			r.Get("/search", s.searchNodes)
			r.Post("/nodes", s.createNode)
			r.Get("/nodes/{nodeID}", s.getNode)
			r.Patch("/nodes/{nodeID}", s.updateNode)
			r.Post("/connect", s.connectNodes)
		})

		if s.cfg.Tools != nil {
			r.Post("/tools/{tool}", s.callTool)
		}
	})

	if s.cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"timestamp":   s.now().UTC().Format(time.RFC3339Nano),
		"environment": s.cfg.Environment,
	}
	if s.cfg.Graph != nil {
		body["nodes"] = s.cfg.Graph.Stats(r.Context()).Total
	}
	s.respondJSON(w, http.StatusOK, body)
}

// respondJSON writes v as the JSON response body.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// respondError writes {error, details}.
func (s *Server) respondError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	s.respondJSON(w, status, body)
}
