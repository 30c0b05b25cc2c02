package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/flotilla/pkg/config"
	"github.com/cuemby/flotilla/pkg/deploy"
	"github.com/cuemby/flotilla/pkg/events"
	"github.com/cuemby/flotilla/pkg/log"
	"github.com/cuemby/flotilla/pkg/metrics"
	"github.com/cuemby/flotilla/pkg/storage"
	"github.com/cuemby/flotilla/pkg/types"
)

// Orchestrator is the deployment engine the server fronts.
type Orchestrator interface {
	Deploy(ctx context.Context, req *deploy.Request, stream *events.Stream) (*types.Deployment, error)
	Rollback(ctx context.Context, req *deploy.RollbackRequest, stream *events.Stream) (*types.Deployment, error)
	Scale(ctx context.Context, req *deploy.ScaleRequest, stream *events.Stream) (*types.Deployment, error)
}

// Server is the HTTP face of the control plane. It decodes requests,
// hands them to the orchestrator and relays the event stream to the
// caller as SSE. No business rules live here.
type Server struct {
	store  storage.Store
	orch   Orchestrator
	http   *http.Server
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(store storage.Store, orch Orchestrator, cfg *config.Config) *Server {
	s := &Server{
		store:  store,
		orch:   orch,
		logger: log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", s.handleReady)
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deploys", s.handleDeploy)
		r.Post("/services/{service}/rollback", s.handleRollback)
		r.Post("/services/{service}/scale", s.handleScale)
	})

	s.http = &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: deploy streams stay open for the length of
		// the pipeline, bounded by the orchestrator's own deadlines.
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("API listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// stream runs op in the background and relays its events to the
// client in SSE framing. Closing the connection cancels op's context;
// the pipeline observes that at its next checkpoint.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, op func(context.Context, *events.Stream)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := events.NewStream()
	done := make(chan struct{})
	go func() {
		defer close(done)
		op(r.Context(), stream)
	}()

	for event := range stream.Events() {
		if err := events.WriteSSE(w, event); err != nil {
			// Client went away. The operation keeps running; events
			// are dropped and the terminal one closes the channel.
			s.logger.Debug().Err(err).Msg("SSE write failed")
			break
		}
		flusher.Flush()
	}
	<-done
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
