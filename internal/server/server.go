package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/metrics"
	"github.com/john/chatsentiment/internal/retrain"
)

// Trainer runs the regressor path on demand.
type Trainer interface {
	RunOnce(ctx context.Context) (*retrain.Result, error)
}

// Deps are the components behind the HTTP API. Trainer and Metrics may be nil.
type Deps struct {
	Store   *labeling.Store
	Engine  *inference.Engine
	Trainer Trainer
	Metrics *metrics.Metrics
}

// Server serves health, status, metrics and the labeling API
type Server struct {
	server *http.Server
}

// New creates a new server
func New(addr string, deps Deps) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: NewRouter(deps),
		},
	}
}

// NewRouter wires HTTP routes to the store, trainer and engine.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &handler{deps: deps}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/status", h.status)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/score", h.score)
		api.Post("/train", h.train)

		api.Route("/channels/{channel}", func(ch chi.Router) {
			ch.Get("/", h.getChannel)
			ch.Post("/batches", h.ingestBatch)
			ch.Get("/batches/latest", h.latestBatch)
			ch.Get("/batches/{batchID}", h.getBatch)
			ch.Post("/batches/{batchID}/label", h.labelBatch)
			ch.Post("/batches/{batchID}/predict", h.predictBatch)
		})
	})

	return r
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
