package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/api"
	"github.com/rshade/apprunner-scale/internal/config"
	"github.com/rshade/apprunner-scale/internal/webhooks"
	"github.com/rshade/apprunner-scale/internal/webhooks/routers"
)

type Server struct {
	Router *chi.Mux
	Port   int
}

func NewServer(cfg config.ServerConfig, requests chan<- webhooks.Request, sender routers.Sender, verifier routers.Verifier) *Server {
	r := chi.NewRouter()

	// Base middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// SNS only needs the delivery acknowledged; the reconcile outcome goes to
	// the ResponseURL later.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/webhook/sns", routers.SNSHandler(requests, sender, verifier, cfg.SNSTopicArn))
	})

	// Synchronous: a reconcile can take as long as max_wait per migration.
	r.Group(func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.AuthToken))
		r.Post("/v1/events", routers.EventHandler(requests))
	})

	if cfg.AuthToken == "" {
		log.Warn().Msg("server.auth_token is empty; /v1/events is unauthenticated")
	}

	return &Server{
		Router: r,
		Port:   cfg.Port,
	}
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = shutdown(srv, 5*time.Second)
	}()

	log.Info().Int("port", s.Port).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// shutdown drains srv, giving in-flight requests up to timeout.
func shutdown(srv *http.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Dur("timeout", timeout).Msg("Server shutdown did not complete")
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
