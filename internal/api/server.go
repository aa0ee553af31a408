package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/mdbulk/internal/config"
	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/fields"
	"github.com/dgallion1/mdbulk/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for mdbulk.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	engine       *fields.Engine
	stats        *drive.Stats
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(orch *pipeline.Orchestrator, engine *fields.Engine, stats *drive.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		engine:       engine,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/ping", s.handlePing)
	r.Get("/health", s.handleHealth)
	r.Get("/api", s.handleTitle)

	// Endpoints acting on the caller's drive.
	r.Group(func(r chi.Router) {
		r.Use(TokenMiddleware(s.log))

		r.Get("/api/me", s.handleMe)
		r.Get("/api/list", s.handleList)
		r.Get("/api/extract", s.handleExtract)
		r.Post("/api/verify", s.handleVerify)
		r.Post("/api/update", s.handleUpdate)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/stats/drive", s.handleDriveStats)
	})

	s.router = r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("PONG"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"title":"mdbulk"}`))
}
