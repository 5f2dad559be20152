package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/api/handlers"
	"github.com/olumide-dev/brainpipe/internal/config"
	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/pipeline"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, store core.JobStore, coordinator *pipeline.Coordinator, processor *pipeline.Processor,
	embedder core.EmbeddingProvider, index core.VectorIndex) *Server {
	jobHandler := handlers.NewJobHandler(store, coordinator, processor)
	searchHandler := handlers.NewSearchHandler(embedder, index)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/subjects/{subjectID}/analyze", jobHandler.StartAnalysis)
		api.Post("/subjects/{subjectID}/search", searchHandler.Search)
		api.Get("/jobs/{jobID}", jobHandler.GetJob)
		api.Post("/jobs/{jobID}/process", jobHandler.ProcessJob)
		api.Post("/jobs/{jobID}/retry", jobHandler.RetryJob)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
