// Package api exposes the live session and notification state over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/coachsync/internal/account"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server serves the read and command API for one signed-in account.
type Server struct {
	live     *account.Live
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, live *account.Live, logger zerolog.Logger) *Server {
	s := &Server{
		live:   live,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/workout", s.handleGetWorkout).Methods("GET")
	api.HandleFunc("/workout", s.handleStartWorkout).Methods("POST")
	api.HandleFunc("/workout", s.handleFinishWorkout).Methods("DELETE")
	api.HandleFunc("/workout/{id}/resume", s.handleResumeWorkout).Methods("POST")

	api.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	api.HandleFunc("/conversations/refresh", s.handleRefreshConversations).Methods("POST")
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/badge", s.handleBadge).Methods("GET")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
