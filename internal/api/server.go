package api

import (
	"context"
	"net/http"

	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, stt *STTHandler, sessions *SessionHandler, health http.Handler, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg.AuthToken, stt, sessions, health, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter wires the stt-server routes. The start route checks the worker
// token itself and the Clova webhook carries no credentials, so both sit
// outside BearerAuth. sessions may be nil.
func NewRouter(authToken string, stt *STTHandler, sessions *SessionHandler, health http.Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/stt/start", stt.Start)
	r.Post("/api/stt/callback", stt.Callback)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(authToken))
		r.Post("/api/stt", stt.Recognize)
		r.Get("/api/stt/status", stt.Status)
		r.Post("/api/stt/complete", stt.Complete)
		if sessions != nil {
			r.Get("/api/stt/sessions/{id}", sessions.Get)
		}
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
